package patterns

import (
	"testing"

	"github.com/substratehq/memograph/internal/domain"
)

func TestClassifySimilarity(t *testing.T) {
	cases := []struct {
		similarity float64
		want       string
	}{
		{0.95, "very-high-similarity"},
		{0.85, "high-similarity"},
		{0.72, "moderate-similarity"},
	}
	for _, tc := range cases {
		if got := classifySimilarity(tc.similarity); got != tc.want {
			t.Fatalf("classifySimilarity(%v) = %q, want %q", tc.similarity, got, tc.want)
		}
	}
}

func TestClassifyTemporalDirection(t *testing.T) {
	cases := []struct {
		hours float64
		want  string
	}{
		{0.5, "concurrent"},
		{-0.5, "concurrent"},
		{3, "memory-after-code"},
		{-3, "code-after-memory"},
	}
	for _, tc := range cases {
		if got := classifyTemporalDirection(tc.hours); got != tc.want {
			t.Fatalf("classifyTemporalDirection(%v) = %q, want %q", tc.hours, got, tc.want)
		}
	}
}

func TestClassifyMemorySimilarity(t *testing.T) {
	cases := []struct {
		similarity float64
		want       string
	}{
		{0.97, "near-duplicate"},
		{0.92, "very-similar"},
		{0.85, "similar"},
	}
	for _, tc := range cases {
		if got := classifyMemorySimilarity(tc.similarity); got != tc.want {
			t.Fatalf("classifyMemorySimilarity(%v) = %q, want %q", tc.similarity, got, tc.want)
		}
	}
}

func TestClassifyTimeRelation(t *testing.T) {
	cases := []struct {
		hours float64
		want  string
	}{
		{0.5, "immediate"},
		{2, "same-day"},
		{30, "same-week"},
		{200, "distant"},
	}
	for _, tc := range cases {
		if got := classifyTimeRelation(tc.hours); got != tc.want {
			t.Fatalf("classifyTimeRelation(%v) = %q, want %q", tc.hours, got, tc.want)
		}
	}
}

func TestValidRelTypes(t *testing.T) {
	for _, rel := range []string{RelDiscusses, RelReferencesCode, RelDebugs, RelDocuments, RelModifies} {
		if !validMemoryCodeRelType(rel) {
			t.Fatalf("%s should be a valid memory-code relationship", rel)
		}
	}
	if validMemoryCodeRelType("HAS_EVIDENCE") {
		t.Fatal("HAS_EVIDENCE is not a memory-code relationship")
	}
	for _, rel := range []string{"PRECEDED_BY", "RELATED_TO", "EVOLVED_INTO", "CONTRADICTS", "SUPPORTS"} {
		if !validMemoryRelType(rel) {
			t.Fatalf("%s should be a valid memory-memory relationship", rel)
		}
	}
	if validMemoryRelType("DISCUSSES") {
		t.Fatal("DISCUSSES is not a memory-memory relationship")
	}
}

func TestPairHelpers(t *testing.T) {
	pairs := []domain.EntityPair{
		{FromID: "m1", ToID: "c1", Similarity: 0.9},
		{FromID: "m2", ToID: "c2", Similarity: 0.85},
		{FromID: "m3", ToID: "c3", Similarity: 0.8},
	}
	if got := capPairs(pairs, 2); len(got) != 2 {
		t.Fatalf("capPairs = %v", got)
	}
	from := pairFromIDs(pairs, 2)
	if len(from) != 2 || from[0] != "m1" || from[1] != "m2" {
		t.Fatalf("pairFromIDs = %v", from)
	}
	to := pairToIDs(pairs, 10)
	if len(to) != 3 || to[2] != "c3" {
		t.Fatalf("pairToIDs = %v", to)
	}
}
