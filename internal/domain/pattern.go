package domain

import "time"

type PatternType string

const (
	PatternTemporal     PatternType = "temporal"
	PatternDebugging    PatternType = "debugging"
	PatternLearning     PatternType = "learning"
	PatternArchitecture PatternType = "architecture"
	PatternAnti         PatternType = "anti-pattern"
)

type PatternStatus string

const (
	StatusActive      PatternStatus = "active"
	StatusInvalidated PatternStatus = "invalidated"
	StatusPending     PatternStatus = "pending"
)

type EvidenceType string

const (
	EvidenceTemporal   EvidenceType = "temporal"
	EvidenceSemantic   EvidenceType = "semantic"
	EvidenceStructural EvidenceType = "structural"
	EvidenceOutcome    EvidenceType = "outcome"
)

// Evidence is a typed, weighted justification for a pattern. Examples hold
// the ids of the memories, code entities, or patterns it points at.
type Evidence struct {
	Type        EvidenceType `json:"type"`
	Description string       `json:"description"`
	Weight      float64      `json:"weight"`
	Examples    []string     `json:"examples"`
}

// Pattern is the central value produced by detectors. The ID is a pure
// function of the pattern's semantic identity (detector, variant, scope key)
// so that repeated discovery runs upsert rather than duplicate.
type Pattern struct {
	ID           string          `json:"id"`
	Type         PatternType     `json:"type"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Confidence   float64         `json:"confidence"`
	Frequency    int             `json:"frequency"`
	Evidence     []Evidence      `json:"evidence"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	LastSeen     time.Time       `json:"last_seen"`
	Status       PatternStatus   `json:"status"`
	Metadata     PatternMetadata `json:"metadata,omitempty"`
}

// StoredPattern is a Pattern plus the persistence and tenancy fields the
// store maintains.
type StoredPattern struct {
	Pattern
	StoredAt        time.Time `json:"stored_at"`
	LastValidated   time.Time `json:"last_validated"`
	ValidationCount int       `json:"validation_count"`
	WorkspaceID     string    `json:"workspace_id,omitempty"`
	TeamID          string    `json:"team_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	IsPublic        bool      `json:"is_public"`
}

// Tenancy scopes a stored pattern. A public pattern is visible across
// tenants regardless of the scoping fields.
type Tenancy struct {
	WorkspaceID string
	TeamID      string
	UserID      string
	IsPublic    bool
}

// Scope narrows a detection run. Zero values mean "no filter".
type Scope struct {
	WorkspaceID         string
	ProjectName         string
	UserID              string
	TimeRange           *TimeRange
	MinConfidence       float64
	SimilarityThreshold float64
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validation is a detector's cheap re-check of a stored pattern.
type Validation struct {
	StillValid      bool
	ConfidenceDelta float64
}

type RelationshipType string

const (
	RelLeadsTo        RelationshipType = "LEADS_TO"
	RelCorrelatesWith RelationshipType = "CORRELATES_WITH"
	RelContradicts    RelationshipType = "CONTRADICTS"
	RelEnables        RelationshipType = "ENABLES"
)

// PatternLink is a directed edge in the pattern-of-patterns graph.
type PatternLink struct {
	Pattern      StoredPattern
	Relationship RelationshipType
	Confidence   float64
}

// CleanupPolicy drives the one hard-delete path in the system.
type CleanupPolicy struct {
	MaxAgeDays         int
	MinValidationCount int
	MinConfidence      float64
}

// ClampConfidence enforces the confidence invariant at construction time.
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
