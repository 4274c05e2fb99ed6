package patterns

import (
	"context"
	"testing"

	"github.com/substratehq/memograph/internal/domain"
)

func TestClassifyGodObject(t *testing.T) {
	cases := []struct {
		complexity float64
		want       string
	}{
		{25, "god-object"},
		{30, "god-object"},
		{31, "severe-god-object"},
		{50, "severe-god-object"},
		{51, "extreme-god-object"},
	}
	for _, tc := range cases {
		if got := classifyGodObject(tc.complexity); got != tc.want {
			t.Fatalf("classifyGodObject(%v) = %q, want %q", tc.complexity, got, tc.want)
		}
	}
}

// Anti-patterns invert the usual validation nudge: a frequency above the
// worsening floor means the problem is growing, so confidence goes up.
func TestAntiPatternValidateDelta(t *testing.T) {
	graph := &fakeGraph{
		reads: func(string, map[string]any) ([]map[string]any, error) {
			return []map[string]any{{"entityCount": int64(42)}}, nil
		},
	}
	d := NewAntiPatternDetector(graph, testLogger(t))

	v, err := d.ValidatePattern(context.Background(), domain.Pattern{ID: "anti", Frequency: 11})
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if !v.StillValid || v.ConfidenceDelta != validationNudge {
		t.Fatalf("worsening anti-pattern: %+v", v)
	}

	v, err = d.ValidatePattern(context.Background(), domain.Pattern{ID: "anti", Frequency: 10})
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if !v.StillValid || v.ConfidenceDelta != -validationNudge {
		t.Fatalf("contained anti-pattern: %+v", v)
	}
}

func TestAntiPatternValidateNoEntities(t *testing.T) {
	graph := &fakeGraph{
		reads: func(string, map[string]any) ([]map[string]any, error) {
			return []map[string]any{{"entityCount": int64(0)}}, nil
		},
	}
	d := NewAntiPatternDetector(graph, testLogger(t))
	v, err := d.ValidatePattern(context.Background(), domain.Pattern{ID: "anti", Frequency: 3})
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if v.StillValid {
		t.Fatal("no code entities left, pattern must be invalid")
	}
}
