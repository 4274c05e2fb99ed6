package domain

import (
	"encoding/json"
	"fmt"
)

// PatternMetadata is the typed, per-detector metadata variant. Each concrete
// type carries exactly the fields its detector populates; the union is
// serialized with a kind tag for graph storage.
type PatternMetadata interface {
	Kind() string
}

const (
	metaKindTemporal     = "temporal"
	metaKindDebugging    = "debugging"
	metaKindLearning     = "learning"
	metaKindArchitecture = "architecture"
	metaKindAntiPattern  = "anti-pattern"
	metaKindRelationship = "relationship"
	metaKindSequence     = "sequence"
)

type TemporalMeta struct {
	AverageGapMinutes float64  `json:"average_gap_minutes"`
	TimeDistribution  string   `json:"time_distribution"`
	SessionBased      bool     `json:"session_based"`
	Consistency       float64  `json:"consistency,omitempty"`
	ExampleProjects   []string `json:"example_projects,omitempty"`
}

func (TemporalMeta) Kind() string { return metaKindTemporal }

type DebuggingMeta struct {
	ProblemType              string   `json:"problem_type"`
	SolutionType             string   `json:"solution_type"`
	AverageResolutionMinutes float64  `json:"average_resolution_minutes"`
	SuccessRate              float64  `json:"success_rate"`
	CommonSteps              []string `json:"common_steps,omitempty"`
}

func (DebuggingMeta) Kind() string { return metaKindDebugging }

type LearningMeta struct {
	ProgressionType string   `json:"progression_type"`
	Topics          []string `json:"topics,omitempty"`
	SkillLevel      string   `json:"skill_level"`
	LearningPath    []string `json:"learning_path,omitempty"`
}

func (LearningMeta) Kind() string { return metaKindLearning }

type ArchitectureMeta struct {
	PatternName  string             `json:"pattern_name"`
	Components   []string           `json:"components,omitempty"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func (ArchitectureMeta) Kind() string { return metaKindArchitecture }

type AntiPatternMeta struct {
	Severity       string   `json:"severity"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	Examples       []string `json:"examples,omitempty"`
}

func (AntiPatternMeta) Kind() string { return metaKindAntiPattern }

// EntityPair is one concrete example backing a relationship pattern; the
// relationship detectors materialize edges from these.
type EntityPair struct {
	FromID        string  `json:"from_id"`
	ToID          string  `json:"to_id"`
	Similarity    float64 `json:"similarity,omitempty"`
	TimeDiffHours float64 `json:"time_diff_hours,omitempty"`
}

type RelationshipMeta struct {
	RelationshipType    string       `json:"relationship_type"`
	SimilarityLevel     string       `json:"similarity_level,omitempty"`
	TimeRelation        string       `json:"time_relation,omitempty"`
	AverageSimilarity   float64      `json:"average_similarity,omitempty"`
	AverageTimeGapHours float64      `json:"average_time_gap_hours,omitempty"`
	EntityTypes         []string     `json:"entity_types,omitempty"`
	Pairs               []EntityPair `json:"pairs,omitempty"`
}

func (RelationshipMeta) Kind() string { return metaKindRelationship }

type SequenceMeta struct {
	SequenceType          string  `json:"sequence_type"`
	AverageSequenceLength float64 `json:"average_sequence_length"`
	ContextWindowSize     int     `json:"context_window_size"`
	SessionID             string  `json:"session_id,omitempty"`
	FromChunk             string  `json:"from_chunk,omitempty"`
	ToChunk               string  `json:"to_chunk,omitempty"`
	ResolutionPattern     string  `json:"resolution_pattern,omitempty"`
}

func (SequenceMeta) Kind() string { return metaKindSequence }

type metadataEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serializes a metadata variant for graph storage. Nil
// metadata encodes to the empty string.
func EncodeMetadata(m PatternMetadata) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	env, err := json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
	if err != nil {
		return "", fmt.Errorf("encode metadata envelope: %w", err)
	}
	return string(env), nil
}

// DecodeMetadata restores a metadata variant from its stored form.
func DecodeMetadata(raw string) (PatternMetadata, error) {
	if raw == "" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode metadata envelope: %w", err)
	}
	var (
		m   PatternMetadata
		err error
	)
	switch env.Kind {
	case metaKindTemporal:
		var v TemporalMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindDebugging:
		var v DebuggingMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindLearning:
		var v LearningMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindArchitecture:
		var v ArchitectureMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindAntiPattern:
		var v AntiPatternMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindRelationship:
		var v RelationshipMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case metaKindSequence:
		var v SequenceMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("decode metadata: unknown kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", env.Kind, err)
	}
	return m, nil
}
