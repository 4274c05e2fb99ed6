package patterns

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/substratehq/memograph/internal/domain"
)

func pairRow(from, to string, gap float64, sameUser bool, project string) map[string]any {
	return map[string]any{
		"fromId":     from,
		"toId":       to,
		"gapMinutes": gap,
		"sameUser":   sameUser,
		"project":    project,
	}
}

// Six memories in one project at 09:00, 09:03, 09:05, 09:40, 10:00, and
// 10:02 by the same user. The three pairs under five minutes apart must
// surface as an immediate-sequence pattern.
func TestTemporalDetectorSequentialScenario(t *testing.T) {
	graph := &fakeGraph{
		reads: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if !strings.Contains(cypher, "gapMinutes") {
				return nil, nil
			}
			return []map[string]any{
				pairRow("m1", "m2", 3, true, "api"),
				pairRow("m1", "m3", 5, true, "api"),
				pairRow("m2", "m3", 2, true, "api"),
				pairRow("m4", "m5", 20, true, "api"),
				pairRow("m4", "m6", 22, true, "api"),
				pairRow("m5", "m6", 2, true, "api"),
			}, nil
		},
	}
	d := NewTemporalDetector(graph, testLogger(t))

	res, err := d.DetectPatterns(context.Background(), domain.Scope{})
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}
	if res.Skipped != 0 {
		t.Fatalf("Skipped = %d, want 0", res.Skipped)
	}
	if len(res.Patterns) != 1 {
		t.Fatalf("got %d patterns, want 1: %+v", len(res.Patterns), res.Patterns)
	}

	p := res.Patterns[0]
	if p.ID != "temporal-sequential-immediate-sequence-same-user" {
		t.Fatalf("pattern id = %q", p.ID)
	}
	if p.Frequency != 3 {
		t.Fatalf("frequency = %d, want 3", p.Frequency)
	}
	meta, ok := p.Metadata.(domain.TemporalMeta)
	if !ok {
		t.Fatalf("metadata type %T", p.Metadata)
	}
	if meta.TimeDistribution != "immediate" || !meta.SessionBased {
		t.Fatalf("metadata = %+v", meta)
	}
	if math.Abs(meta.AverageGapMinutes-7.0/3) > 1e-9 {
		t.Fatalf("average gap = %v, want %v", meta.AverageGapMinutes, 7.0/3)
	}
	if len(p.Evidence) != 3 {
		t.Fatalf("evidence count = %d, want 3", len(p.Evidence))
	}
}

func TestBuildSequentialPatternsDropsRareGroups(t *testing.T) {
	pairs := []memoryPair{
		{fromID: "a", toID: "b", gapMinutes: 2, sameUser: true, project: "p"},
		{fromID: "b", toID: "c", gapMinutes: 20, sameUser: true, project: "p"},
	}
	if got := buildSequentialPatterns(pairs); len(got) != 0 {
		t.Fatalf("expected no patterns below minimum frequency, got %d", len(got))
	}
}

func TestClassifySequence(t *testing.T) {
	cases := []struct {
		gap  float64
		want string
	}{
		{2, "immediate-sequence"},
		{5, "quick-sequence"},
		{14, "quick-sequence"},
		{15, "delayed-sequence"},
		{29, "delayed-sequence"},
	}
	for _, tc := range cases {
		if got := classifySequence(tc.gap); got != tc.want {
			t.Fatalf("classifySequence(%v) = %q, want %q", tc.gap, got, tc.want)
		}
	}
}

func TestCategorizeGap(t *testing.T) {
	cases := []struct {
		minutes float64
		want    string
	}{
		{3, "immediate"},
		{10, "short"},
		{20, "medium"},
		{45, "long"},
	}
	for _, tc := range cases {
		if got := categorizeGap(tc.minutes); got != tc.want {
			t.Fatalf("categorizeGap(%v) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
}

func TestClassifyWorkGap(t *testing.T) {
	cases := []struct {
		gap  float64
		want string
	}{
		{130, "session_break"},
		{3, "rapid_work"},
		{20, "continuous_work"},
		{60, "intermittent_work"},
	}
	for _, tc := range cases {
		if got := classifyWorkGap(tc.gap); got != tc.want {
			t.Fatalf("classifyWorkGap(%v) = %q, want %q", tc.gap, got, tc.want)
		}
	}
}

func TestTemporalConfidence(t *testing.T) {
	// Saturated frequency, tight gaps, perfect consistency.
	got := temporalConfidence(999, 5, 1)
	if math.Abs(got-0.94) > 1e-6 {
		t.Fatalf("temporalConfidence(999,5,1) = %v, want 0.94", got)
	}
	// Wide gaps drop the gap component to its floor.
	got = temporalConfidence(0, 100, 0)
	if math.Abs(got-0.12) > 1e-9 {
		t.Fatalf("temporalConfidence(0,100,0) = %v, want 0.12", got)
	}
	if lo, hi := temporalConfidence(3, 40, 0.5), temporalConfidence(3, 10, 0.5); lo >= hi {
		t.Fatalf("tighter gaps should score higher: %v >= %v", lo, hi)
	}
}

func TestTemporalValidatePattern(t *testing.T) {
	makeGraph := func(count float64) *fakeGraph {
		return &fakeGraph{
			reads: func(string, map[string]any) ([]map[string]any, error) {
				return []map[string]any{{"currentFrequency": count}}, nil
			},
		}
	}
	p := domain.Pattern{ID: "temporal-sequential-immediate-sequence-same-user", Frequency: 4}

	d := NewTemporalDetector(makeGraph(10), testLogger(t))
	v, err := d.ValidatePattern(context.Background(), p)
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if !v.StillValid || v.ConfidenceDelta != validationNudge {
		t.Fatalf("growing pattern: %+v", v)
	}

	d = NewTemporalDetector(makeGraph(1), testLogger(t))
	v, err = d.ValidatePattern(context.Background(), p)
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if v.StillValid || v.ConfidenceDelta != -validationNudge {
		t.Fatalf("faded pattern: %+v", v)
	}
}

func TestAdjacentGaps(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(3 * time.Minute), base.Add(10 * time.Minute)}
	gaps := adjacentGaps(times)
	if len(gaps) != 2 || gaps[0] != 3 || gaps[1] != 7 {
		t.Fatalf("adjacentGaps = %v", gaps)
	}
	if got := adjacentGaps(times[:1]); got != nil {
		t.Fatalf("single element should yield nil, got %v", got)
	}
}

func TestCapStrings(t *testing.T) {
	in := []string{"a", "b", "c"}
	if got := capStrings(in, 2); len(got) != 2 {
		t.Fatalf("capStrings = %v", got)
	}
	if got := capStrings(in, 5); len(got) != 3 {
		t.Fatalf("capStrings should not grow input, got %v", got)
	}
}
