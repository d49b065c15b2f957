package model

import (
	"time"

	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/google/uuid"
)

type Rollout struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID            uuid.UUID `gorm:"type:uuid;index"`
	BundleID            uuid.UUID `gorm:"type:uuid;index"`
	TargetVersion       string
	PreviousVersion     *string
	Name                string
	Description         string
	FailureThreshold    float64
	Status              api.RolloutStatus `gorm:"index"`
	CurrentPhaseNumber  int
	EligibilityPolicy   api.EligibilityPolicy
	TargetDeviceGroupID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CreatedBy           string
}

// Active reports whether the rollout blocks another rollout for the
// same bundle.
func (r *Rollout) Active() bool {
	return r.Status == api.RolloutInProgress || r.Status == api.RolloutPaused
}

type RolloutPhase struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RolloutID             uuid.UUID `gorm:"type:uuid;index:idx_phase_rollout_number,unique,priority:1"`
	PhaseNumber           int       `gorm:"index:idx_phase_rollout_number,unique,priority:2"`
	Name                  string
	TargetDeviceCount     *int
	TargetPercentage      *float64
	Status                api.PhaseStatus
	StartedAt             *time.Time
	CompletedAt           *time.Time
	SuccessCount          int
	FailureCount          int
	MinHealthyDurationSec *int
	// HealthySince is set the first tick on which every assignment in
	// the phase is Succeeded; cleared if one regresses.
	HealthySince *time.Time
}

// MinHealthyDuration resolves the phase dwell time, falling back to the
// rollout-level default.
func (p *RolloutPhase) MinHealthyDuration(def time.Duration) time.Duration {
	if p.MinHealthyDurationSec == nil {
		return def
	}
	return time.Duration(*p.MinHealthyDurationSec) * time.Second
}

type RolloutDeviceAssignment struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RolloutID    uuid.UUID `gorm:"type:uuid;index:idx_assignment_rollout_device,unique,priority:1"`
	DeviceID     uuid.UUID `gorm:"type:uuid;index:idx_assignment_rollout_device,unique,priority:2"`
	PhaseID      uuid.UUID `gorm:"type:uuid;index"`
	Status       api.AssignmentStatus
	AssignedAt   *time.Time
	ReconciledAt *time.Time
	ErrorMessage string
	RetryCount   int
}
