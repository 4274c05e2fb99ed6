package patterns

import (
	"context"
	"math"
	"testing"

	"github.com/substratehq/memograph/internal/domain"
)

func TestClassifyResolution(t *testing.T) {
	cases := []struct {
		minutes float64
		want    string
	}{
		{10, "quick-resolution"},
		{30, "moderate-resolution"},
		{119, "moderate-resolution"},
		{120, "extended-resolution"},
		{480, "long-resolution"},
	}
	for _, tc := range cases {
		if got := classifyResolution(tc.minutes); got != tc.want {
			t.Fatalf("classifyResolution(%v) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
}

func TestClassifyInvestigation(t *testing.T) {
	cases := []struct {
		depth float64
		want  string
	}{
		{1, "direct-investigation"},
		{2, "moderate-investigation"},
		{3, "moderate-investigation"},
		{4, "deep-investigation"},
	}
	for _, tc := range cases {
		if got := classifyInvestigation(tc.depth); got != tc.want {
			t.Fatalf("classifyInvestigation(%v) = %q, want %q", tc.depth, got, tc.want)
		}
	}
}

func TestClassifyIntensity(t *testing.T) {
	cases := []struct {
		hours int
		want  string
	}{
		{1, "focused-debugging"},
		{2, "focused-debugging"},
		{4, "moderate-debugging"},
		{5, "extended-debugging"},
	}
	for _, tc := range cases {
		if got := classifyIntensity(tc.hours); got != tc.want {
			t.Fatalf("classifyIntensity(%v) = %q, want %q", tc.hours, got, tc.want)
		}
	}
}

func TestDebuggingConfidence(t *testing.T) {
	// Saturated frequency, fast resolutions, zero spread.
	got := debuggingConfidence(99, 30, 0)
	if math.Abs(got-0.94) > 1e-6 {
		t.Fatalf("debuggingConfidence(99,30,0) = %v, want 0.94", got)
	}
	// Slow resolutions fall to the floor time score.
	got = debuggingConfidence(0, 500, 0)
	if math.Abs(got-(0.3+0.12)) > 1e-9 {
		t.Fatalf("debuggingConfidence(0,500,0) = %v, want 0.42", got)
	}
	if slow, fast := debuggingConfidence(10, 300, 50), debuggingConfidence(10, 45, 50); slow >= fast {
		t.Fatalf("faster resolution should score higher: %v >= %v", slow, fast)
	}
}

func TestDebuggingValidatePattern(t *testing.T) {
	makeGraph := func(count float64) *fakeGraph {
		return &fakeGraph{
			reads: func(string, map[string]any) ([]map[string]any, error) {
				return []map[string]any{{"debuggingMemories": count}}, nil
			},
		}
	}
	p := domain.Pattern{ID: "debugging-resolution-quick-resolution", Frequency: 8}

	d := NewDebuggingDetector(makeGraph(12), testLogger(t))
	v, err := d.ValidatePattern(context.Background(), p)
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if !v.StillValid || v.ConfidenceDelta != validationNudge {
		t.Fatalf("active debugging: %+v", v)
	}

	d = NewDebuggingDetector(makeGraph(2), testLogger(t))
	v, err = d.ValidatePattern(context.Background(), p)
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if v.StillValid || v.ConfidenceDelta != -validationNudge {
		t.Fatalf("stale debugging: %+v", v)
	}
}
