package domain

import "testing"

func TestMetadataRoundTrip(t *testing.T) {
	variants := []PatternMetadata{
		TemporalMeta{
			AverageGapMinutes: 4.2,
			TimeDistribution:  "immediate",
			SessionBased:      true,
			Consistency:       0.87,
			ExampleProjects:   []string{"backend", "frontend"},
		},
		DebuggingMeta{
			ProblemType:              "error",
			SolutionType:             "quick-resolution",
			AverageResolutionMinutes: 22,
			SuccessRate:              0.8,
		},
		LearningMeta{
			ProgressionType: "session-learning",
			Topics:          []string{"neo4j"},
			SkillLevel:      "intermediate",
		},
		ArchitectureMeta{
			PatternName: "layered-architecture",
			Components:  []string{"presentation", "business"},
			Metrics:     map[string]float64{"layerCount": 2},
		},
		AntiPatternMeta{
			Severity:       "high",
			Impact:         "maintainability",
			Recommendation: "break the cycle",
		},
		RelationshipMeta{
			RelationshipType:  "DISCUSSES",
			SimilarityLevel:   "high",
			AverageSimilarity: 0.84,
			Pairs:             []EntityPair{{FromID: "m1", ToID: "c1", Similarity: 0.9}},
		},
		SequenceMeta{
			SequenceType:          "conversation-flow",
			AverageSequenceLength: 3.5,
			ContextWindowSize:     2,
			SessionID:             "s1",
		},
	}

	for _, original := range variants {
		encoded, err := EncodeMetadata(original)
		if err != nil {
			t.Fatalf("encode %s: %v", original.Kind(), err)
		}
		decoded, err := DecodeMetadata(encoded)
		if err != nil {
			t.Fatalf("decode %s: %v", original.Kind(), err)
		}
		if decoded.Kind() != original.Kind() {
			t.Fatalf("kind mismatch: got %q want %q", decoded.Kind(), original.Kind())
		}
	}
}

func TestMetadataRoundTripPreservesFields(t *testing.T) {
	encoded, err := EncodeMetadata(TemporalMeta{
		AverageGapMinutes: 12.5,
		TimeDistribution:  "short",
		SessionBased:      true,
		Consistency:       0.75,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeMetadata(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	meta, ok := decoded.(TemporalMeta)
	if !ok {
		t.Fatalf("decoded to %T, want TemporalMeta", decoded)
	}
	if meta.AverageGapMinutes != 12.5 || meta.TimeDistribution != "short" || !meta.SessionBased {
		t.Fatalf("fields lost in round trip: %+v", meta)
	}
}

func TestEncodeMetadataNil(t *testing.T) {
	encoded, err := EncodeMetadata(nil)
	if err != nil {
		t.Fatalf("encode nil: %v", err)
	}
	if encoded != "" {
		t.Fatalf("encode nil: got %q, want empty", encoded)
	}
	decoded, err := DecodeMetadata("")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if decoded != nil {
		t.Fatalf("decode empty: got %v, want nil", decoded)
	}
}

func TestDecodeMetadataUnknownKind(t *testing.T) {
	if _, err := DecodeMetadata(`{"kind":"bogus","data":{}}`); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.3, 1},
	}
	for _, tc := range cases {
		if got := ClampConfidence(tc.in); got != tc.want {
			t.Fatalf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
