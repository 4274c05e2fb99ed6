package domain

import (
	"time"

	"github.com/google/uuid"
)

// DiscoveryRun is one row of the relational audit log: a single discovery,
// validation, or cleanup pass with its outcome counts.
type DiscoveryRun struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind                 string    `gorm:"index" json:"kind"`
	WorkspaceID          string    `json:"workspace_id"`
	ProjectName          string    `json:"project_name"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	PatternCount         int       `json:"pattern_count"`
	SkippedSubDetections int       `json:"skipped_sub_detections"`
	FailedDetectors      string    `json:"failed_detectors"`
	ErrorMessage         string    `json:"error_message"`
}

func (DiscoveryRun) TableName() string { return "discovery_run" }

const (
	RunKindDiscovery  = "discovery"
	RunKindValidation = "validation"
	RunKindCleanup    = "cleanup"
)
