package patterns

import (
	"context"
	"strings"
	"testing"

	"github.com/substratehq/memograph/internal/domain"
)

func TestClassifyResolutionSpread(t *testing.T) {
	if got := classifyResolutionSpread("ch1", []string{"ch1", "ch1"}); got != "same-chunk-resolution" {
		t.Fatalf("same chunk: %q", got)
	}
	if got := classifyResolutionSpread("ch1", []string{"ch1", "ch2"}); got != "next-chunk-resolution" {
		t.Fatalf("next chunk: %q", got)
	}
	if got := classifyResolutionSpread("ch1", []string{"ch2", "ch3", "ch1"}); got != "multi-chunk-resolution" {
		t.Fatalf("multi chunk: %q", got)
	}
	if got := classifyResolutionSpread("ch1", []string{"", "ch1"}); got != "same-chunk-resolution" {
		t.Fatalf("empty chunk ids must not count as foreign: %q", got)
	}
}

func TestClassifyContextWindow(t *testing.T) {
	cases := []struct {
		minutes float64
		want    string
		size    int
	}{
		{3, "immediate-context", 1},
		{10, "near-context", 3},
		{20, "distant-context", 5},
	}
	for _, tc := range cases {
		got := classifyContextWindow(tc.minutes)
		if got != tc.want {
			t.Fatalf("classifyContextWindow(%v) = %q, want %q", tc.minutes, got, tc.want)
		}
		if size := contextWindowSize(got); size != tc.size {
			t.Fatalf("contextWindowSize(%q) = %d, want %d", got, size, tc.size)
		}
	}
}

func TestSnippet(t *testing.T) {
	short := "short content"
	if got := snippet(short); got != short {
		t.Fatalf("snippet(short) = %q", got)
	}
	long := strings.Repeat("x", 500)
	if got := snippet(long); len(got) != contextSnippetLength {
		t.Fatalf("snippet length = %d, want %d", len(got), contextSnippetLength)
	}
}

func TestBuildContextWindow(t *testing.T) {
	graph := &fakeGraph{
		reads: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if params["chunkId"] != "ch1" || params["sessionId"] != "s1" {
				t.Fatalf("params = %v", params)
			}
			return []map[string]any{{
				"prevContent": []any{"earlier thought"},
				"nextContent": []any{"later thought"},
			}}, nil
		},
	}
	memory := ContextMemory{Content: "current thought", ChunkID: "ch1", SessionID: "s1"}
	got, err := BuildContextWindow(context.Background(), graph, memory, 0)
	if err != nil {
		t.Fatalf("BuildContextWindow: %v", err)
	}
	for _, fragment := range []string{
		"[PREVIOUS CONTEXT]: earlier thought",
		"[CURRENT]: current thought",
		"[NEXT CONTEXT]: later thought",
	} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("window missing %q:\n%s", fragment, got)
		}
	}
}

func TestBuildContextWindowWithoutChunk(t *testing.T) {
	got, err := BuildContextWindow(context.Background(), &fakeGraph{}, ContextMemory{Content: "bare"}, 2)
	if err != nil {
		t.Fatalf("BuildContextWindow: %v", err)
	}
	if got != "bare" {
		t.Fatalf("unchunked memory should return bare content, got %q", got)
	}
}

func TestSequenceValidateNeutralDelta(t *testing.T) {
	graph := &fakeGraph{
		reads: func(string, map[string]any) ([]map[string]any, error) {
			return []map[string]any{{"count": int64(7)}}, nil
		},
	}
	d := NewSequenceDetector(graph, testLogger(t))
	v, err := d.ValidatePattern(context.Background(), domain.Pattern{ID: "seq", Frequency: 3})
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if !v.StillValid {
		t.Fatal("edges exist, pattern must stay valid")
	}
	if v.ConfidenceDelta != 0 {
		t.Fatalf("sequence validation must not nudge confidence, got %v", v.ConfidenceDelta)
	}
}

func TestMaterializeEdgesRespectsFloorsAndCaps(t *testing.T) {
	graph := &fakeGraph{}
	d := NewMemoryCodeDetector(graph, testLogger(t))

	pairs := make([]domain.EntityPair, 0, 8)
	for i := 0; i < 8; i++ {
		pairs = append(pairs, domain.EntityPair{
			FromID:     "m" + string(rune('a'+i)),
			ToID:       "c" + string(rune('a'+i)),
			Similarity: 0.85,
		})
	}
	found := []domain.Pattern{
		{
			ID:         "rel-high",
			Confidence: 0.9,
			Metadata:   domain.RelationshipMeta{RelationshipType: RelDiscusses, Pairs: pairs},
		},
		{
			ID:         "rel-low",
			Confidence: 0.5,
			Metadata:   domain.RelationshipMeta{RelationshipType: RelDiscusses, Pairs: pairs},
		},
	}
	d.materializeEdges(context.Background(), found)

	// Only the confident pattern writes, and at most five edges.
	if len(graph.writes) != maxEdgesPerPattern {
		t.Fatalf("writes = %d, want %d", len(graph.writes), maxEdgesPerPattern)
	}
	for _, w := range graph.writes {
		if !strings.Contains(w.cypher, "[r:DISCUSSES]") {
			t.Fatalf("cypher = %s", w.cypher)
		}
		if w.params["patternId"] != "rel-high" {
			t.Fatalf("low-confidence pattern must not materialize: %v", w.params)
		}
	}
}
