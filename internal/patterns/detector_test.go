package patterns

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// fakeGraph routes Read calls to a matcher over the query text and records
// every Write. Shared by the detector, engine, and store tests.
type fakeGraph struct {
	reads  func(cypher string, params map[string]any) ([]map[string]any, error)
	writes []struct {
		cypher string
		params map[string]any
	}
	writeErr error
}

func (g *fakeGraph) Read(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if g.reads == nil {
		return nil, nil
	}
	return g.reads(cypher, params)
}

func (g *fakeGraph) Write(_ context.Context, cypher string, params map[string]any) error {
	g.writes = append(g.writes, struct {
		cypher string
		params map[string]any
	}{cypher, params})
	return g.writeErr
}

func TestRunSubDetectionsIsolatesFailures(t *testing.T) {
	log := testLogger(t)
	boom := errors.New("query failed")
	res, err := runSubDetections(context.Background(), log, []subDetection{
		{"ok", func(context.Context) ([]domain.Pattern, error) {
			return []domain.Pattern{{ID: "p1"}}, nil
		}},
		{"broken", func(context.Context) ([]domain.Pattern, error) {
			return nil, boom
		}},
		{"also-ok", func(context.Context) ([]domain.Pattern, error) {
			return []domain.Pattern{{ID: "p2"}}, nil
		}},
	})
	if err != nil {
		t.Fatalf("runSubDetections: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	if len(res.Patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(res.Patterns))
	}
}

func TestRunSubDetectionsStopsOnCancel(t *testing.T) {
	log := testLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	subs := []subDetection{
		{"first", func(context.Context) ([]domain.Pattern, error) {
			ran++
			cancel()
			return nil, nil
		}},
		{"second", func(context.Context) ([]domain.Pattern, error) {
			ran++
			return nil, nil
		}},
	}
	if _, err := runSubDetections(ctx, log, subs); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ran != 1 {
		t.Fatalf("ran %d sub-detections after cancel, want 1", ran)
	}
}

func TestFrequencyScore(t *testing.T) {
	if got := frequencyScore(0, 3); got != 0 {
		t.Fatalf("frequencyScore(0,3) = %v, want 0", got)
	}
	if got := frequencyScore(999, 3); math.Abs(got-1) > 1e-9 {
		t.Fatalf("frequencyScore(999,3) = %v, want 1", got)
	}
	if got := frequencyScore(1e6, 3); got != 1 {
		t.Fatalf("frequencyScore should cap at 1, got %v", got)
	}
	if got := frequencyScore(99, 2); math.Abs(got-1) > 1e-9 {
		t.Fatalf("frequencyScore(99,2) = %v, want 1", got)
	}
}

func TestConsistencyScore(t *testing.T) {
	if got := consistencyScore(0, 10); got != 1 {
		t.Fatalf("zero stddev should score 1, got %v", got)
	}
	if got := consistencyScore(5, 0); got != 1 {
		t.Fatalf("zero mean should score 1, got %v", got)
	}
	if got := consistencyScore(10, 10); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("consistencyScore(10,10) = %v, want 0.5", got)
	}
}

func TestMeanStdDev(t *testing.T) {
	mean, stdDev := meanStdDev(nil)
	if mean != 0 || stdDev != 0 {
		t.Fatalf("empty input: mean=%v stdDev=%v", mean, stdDev)
	}
	mean, stdDev = meanStdDev([]float64{5})
	if mean != 5 || stdDev != 0 {
		t.Fatalf("single value: mean=%v stdDev=%v", mean, stdDev)
	}
	mean, stdDev = meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-9 {
		t.Fatalf("mean = %v, want 5", mean)
	}
	// Sample standard deviation with n-1 in the denominator.
	if math.Abs(stdDev-2.13809) > 1e-4 {
		t.Fatalf("stdDev = %v, want ~2.138", stdDev)
	}
}

func TestKeywordCondition(t *testing.T) {
	got := keywordCondition("m.content", []string{"error", "bug"})
	want := "toLower(m.content) CONTAINS 'error' OR toLower(m.content) CONTAINS 'bug'"
	if got != want {
		t.Fatalf("keywordCondition = %q, want %q", got, want)
	}
}

func TestContainsAnyKeyword(t *testing.T) {
	if !containsAnyKeyword("Fixed the NULL pointer ERROR", []string{"error"}) {
		t.Fatal("should match case-insensitively")
	}
	if containsAnyKeyword("all good here", []string{"error", "bug"}) {
		t.Fatal("should not match")
	}
}

func TestFormatMinutes(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{45, "45 minutes"},
		{90, "1.5 hours"},
		{2880, "2.0 days"},
	}
	for _, tc := range cases {
		if got := formatMinutes(tc.in); got != tc.want {
			t.Fatalf("formatMinutes(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestScopeFilter(t *testing.T) {
	params := map[string]any{}
	got := scopeFilter("m", domain.Scope{}, params)
	if got != "" {
		t.Fatalf("empty scope should add no predicates, got %q", got)
	}
	if len(params) != 0 {
		t.Fatalf("empty scope should add no params, got %v", params)
	}

	params = map[string]any{}
	scope := domain.Scope{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ProjectName: "api",
		TimeRange: &domain.TimeRange{
			Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	got = scopeFilter("m", scope, params)
	for _, fragment := range []string{
		"m.workspace_id = $workspaceId",
		"m.user_id = $userId",
		"m.project_name = $projectName",
		"datetime(m.created_at) >= datetime($rangeStart)",
	} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("filter missing %q in %q", fragment, got)
		}
	}
	if params["workspaceId"] != "ws1" || params["projectName"] != "api" {
		t.Fatalf("params = %v", params)
	}
	if params["rangeStart"] != "2025-01-01T00:00:00Z" {
		t.Fatalf("rangeStart = %v", params["rangeStart"])
	}
}
