// Package rollout holds the pure pieces of the phased rollout engine:
// phase target resolution, deterministic candidate ordering, and the
// failure-gate arithmetic. The tick loop in the service layer drives
// them against storage.
package rollout

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// Candidate is a device eligible for a rollout, annotated with the
// ordering signals.
type Candidate struct {
	DeviceID    uuid.UUID
	HealthScore float64
	LastSeenAt  time.Time
}

// ResolvePhaseTarget resolves the declared phase target against the
// remaining uncovered candidate set. Percentage targets round up;
// absolute targets clamp to what is left. The final phase always takes
// everything.
func ResolvePhaseTarget(phase *model.RolloutPhase, remaining int, isFinal bool) int {
	if isFinal {
		return remaining
	}
	if phase.TargetPercentage != nil {
		n := int(math.Ceil(*phase.TargetPercentage * float64(remaining) / 100.0))
		if n > remaining {
			n = remaining
		}
		return n
	}
	if phase.TargetDeviceCount != nil {
		if *phase.TargetDeviceCount < remaining {
			return *phase.TargetDeviceCount
		}
		return remaining
	}
	return 0
}

// OrderCandidates sorts candidates into the canary order: healthier
// first, then most recently seen, then ascending device id as the
// deterministic tiebreak.
func OrderCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.HealthScore != b.HealthScore {
			return a.HealthScore > b.HealthScore
		}
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return a.DeviceID.String() < b.DeviceID.String()
	})
}

// GateTripped evaluates the failure gate for a phase. The gate arms
// once enough assignments reached a terminal outcome: at least
// min(phase target, half the assignments rounded up). It trips when the
// failure share among attempted devices exceeds the rollout threshold.
func GateTripped(successCount, failureCount, phaseTarget, assignmentCount int, failureThreshold float64) bool {
	attempted := successCount + failureCount
	if attempted == 0 {
		return false
	}
	arm := phaseTarget
	if half := (assignmentCount + 1) / 2; half < arm {
		arm = half
	}
	if attempted < arm {
		return false
	}
	return float64(failureCount)/float64(attempted) > failureThreshold
}
