package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/instrumentation"
	"github.com/signalbeam/signalbeam/internal/rollout"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// CreateRollout validates and records a phased rollout in Pending
// state. Nothing is assigned until the rollout is started and the tick
// picks it up. At most one rollout per bundle may be in flight.
func (h *ServiceHandler) CreateRollout(ctx context.Context, tenantID uuid.UUID, createdBy string, req api.CreateRolloutRequest) (*api.RolloutResponse, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", sberrors.ErrInvalidRequest)
	}
	if _, err := semver.StrictNewVersion(req.TargetVersion); err != nil {
		return nil, fmt.Errorf("%w: target version %q is not valid semver", sberrors.ErrInvalidVersion, req.TargetVersion)
	}
	bundle, err := h.store.Bundle().Get(ctx, tenantID, req.BundleID)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.Bundle().GetVersion(ctx, bundle.ID, req.TargetVersion); err != nil {
		return nil, err
	}
	if req.PreviousVersion != nil {
		if _, err := h.store.Bundle().GetVersion(ctx, bundle.ID, *req.PreviousVersion); err != nil {
			return nil, err
		}
	}
	if len(req.Phases) == 0 {
		return nil, fmt.Errorf("%w: at least one phase is required", sberrors.ErrInvalidRequest)
	}
	for i, p := range req.Phases {
		if (p.TargetDeviceCount == nil) == (p.TargetPercentage == nil) {
			return nil, fmt.Errorf("%w: phase %d needs exactly one of targetDeviceCount or targetPercentage", sberrors.ErrInvalidRequest, i+1)
		}
		if p.TargetDeviceCount != nil && *p.TargetDeviceCount <= 0 {
			return nil, fmt.Errorf("%w: phase %d device count must be positive", sberrors.ErrInvalidRequest, i+1)
		}
		if p.TargetPercentage != nil && (*p.TargetPercentage <= 0 || *p.TargetPercentage > 100) {
			return nil, fmt.Errorf("%w: phase %d percentage must be in (0,100]", sberrors.ErrInvalidRequest, i+1)
		}
	}

	threshold := h.cfg.Rollout.DefaultFailureThreshold
	if req.FailureThreshold != nil {
		if *req.FailureThreshold < 0 || *req.FailureThreshold > 1 {
			return nil, fmt.Errorf("%w: failure threshold must be in [0,1]", sberrors.ErrInvalidRequest)
		}
		threshold = *req.FailureThreshold
	}

	policy := req.EligibilityPolicy
	if policy == "" {
		policy = api.EligibilityAllBundleUsers
	}
	switch policy {
	case api.EligibilityAllBundleUsers:
		if req.TargetDeviceGroupID != nil {
			return nil, fmt.Errorf("%w: targetDeviceGroupId is only valid with the GroupMembers policy", sberrors.ErrInvalidRequest)
		}
	case api.EligibilityGroupMembers:
		if req.TargetDeviceGroupID == nil {
			return nil, fmt.Errorf("%w: GroupMembers policy requires targetDeviceGroupId", sberrors.ErrInvalidRequest)
		}
		if _, err := h.store.DeviceGroup().Get(ctx, tenantID, *req.TargetDeviceGroupID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown eligibility policy %q", sberrors.ErrInvalidRequest, policy)
	}

	active, err := h.store.Rollout().ExistsActiveForBundle(ctx, bundle.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: bundle %s already has a rollout in flight", sberrors.ErrActiveRolloutExists, bundle.ID)
	}

	now := h.clock.Now()
	r := model.Rollout{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		BundleID:            bundle.ID,
		TargetVersion:       req.TargetVersion,
		PreviousVersion:     req.PreviousVersion,
		Name:                req.Name,
		Description:         req.Description,
		FailureThreshold:    threshold,
		Status:              api.RolloutPending,
		EligibilityPolicy:   policy,
		TargetDeviceGroupID: req.TargetDeviceGroupID,
		CreatedAt:           now,
		CreatedBy:           createdBy,
	}
	phases := make([]model.RolloutPhase, 0, len(req.Phases))
	for i, p := range req.Phases {
		phases = append(phases, model.RolloutPhase{
			ID:                    uuid.New(),
			RolloutID:             r.ID,
			PhaseNumber:           i + 1,
			Name:                  p.Name,
			TargetDeviceCount:     p.TargetDeviceCount,
			TargetPercentage:      p.TargetPercentage,
			Status:                api.PhasePending,
			MinHealthyDurationSec: p.MinHealthyDurationSec,
		})
	}
	if err := h.store.Rollout().Create(ctx, &r, phases); err != nil {
		return nil, err
	}

	resp := rolloutResponse(&r, phases)
	return &resp, nil
}

func (h *ServiceHandler) GetRollout(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	r, err := h.store.Rollout().Get(ctx, tenantID, rolloutID)
	if err != nil {
		return nil, err
	}
	phases, err := h.store.Rollout().ListPhases(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	resp := rolloutResponse(r, phases)
	return &resp, nil
}

func (h *ServiceHandler) ListRollouts(ctx context.Context, tenantID uuid.UUID) ([]api.RolloutResponse, error) {
	rollouts, err := h.store.Rollout().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return lo.Map(rollouts, func(r model.Rollout, _ int) api.RolloutResponse { return rolloutResponse(&r, nil) }), nil
}

// StartRollout moves a Pending rollout to InProgress and assigns the
// first phase before returning. A bundle admits one active rollout at
// a time; the check runs here, not only at creation, so two Pending
// rollouts for the same bundle cannot both start.
func (h *ServiceHandler) StartRollout(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	var resp api.RolloutResponse
	err := h.store.WithRolloutLock(ctx, rolloutID, func(tx store.Store) error {
		r, err := tx.Rollout().Get(ctx, tenantID, rolloutID)
		if err != nil {
			return err
		}
		if r.Status != api.RolloutPending {
			return fmt.Errorf("%w: rollout is %s, only Pending rollouts can start", sberrors.ErrInvalidRequest, r.Status)
		}
		active, err := tx.Rollout().ExistsActiveForBundle(ctx, r.BundleID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: bundle %s already has a rollout in flight", sberrors.ErrActiveRolloutExists, r.BundleID)
		}
		now := h.clock.Now()
		r.Status = api.RolloutInProgress
		r.StartedAt = &now
		if err := tx.Rollout().Update(ctx, r); err != nil {
			return err
		}
		phases, err := tx.Rollout().ListPhases(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := h.advanceRollout(ctx, tx, r, phases); err != nil {
			return err
		}
		resp = rolloutResponse(r, phases)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.events.Publish(ctx, events.SubjectRolloutEvents+rolloutID.String(), map[string]string{"status": string(resp.Status)})
	return &resp, nil
}

// PauseRollout freezes the rollout: no new assignments, no phase
// advancement. Devices already assigned keep reconciling.
func (h *ServiceHandler) PauseRollout(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	return h.transitionRollout(ctx, tenantID, rolloutID, func(r *model.Rollout) error {
		if r.Status != api.RolloutInProgress {
			return fmt.Errorf("%w: rollout is %s, only InProgress rollouts can pause", sberrors.ErrInvalidRequest, r.Status)
		}
		r.Status = api.RolloutPaused
		return nil
	})
}

func (h *ServiceHandler) ResumeRollout(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	return h.transitionRollout(ctx, tenantID, rolloutID, func(r *model.Rollout) error {
		if r.Status != api.RolloutPaused {
			return fmt.Errorf("%w: rollout is %s, only Paused rollouts can resume", sberrors.ErrInvalidRequest, r.Status)
		}
		r.Status = api.RolloutInProgress
		return nil
	})
}

func (h *ServiceHandler) transitionRollout(ctx context.Context, tenantID, rolloutID uuid.UUID, mutate func(*model.Rollout) error) (*api.RolloutResponse, error) {
	var resp api.RolloutResponse
	err := h.store.WithRolloutLock(ctx, rolloutID, func(tx store.Store) error {
		r, err := tx.Rollout().Get(ctx, tenantID, rolloutID)
		if err != nil {
			return err
		}
		if err := mutate(r); err != nil {
			return err
		}
		if err := tx.Rollout().Update(ctx, r); err != nil {
			return err
		}
		resp = rolloutResponse(r, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.events.Publish(ctx, events.SubjectRolloutEvents+rolloutID.String(), map[string]string{"status": string(resp.Status)})
	return &resp, nil
}

// AdvanceRolloutPhase force-completes the current phase regardless of
// the health dwell, starting the next one on the spot.
func (h *ServiceHandler) AdvanceRolloutPhase(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	var resp api.RolloutResponse
	err := h.store.WithRolloutLock(ctx, rolloutID, func(tx store.Store) error {
		r, err := tx.Rollout().Get(ctx, tenantID, rolloutID)
		if err != nil {
			return err
		}
		if r.Status != api.RolloutInProgress {
			return fmt.Errorf("%w: rollout is %s", sberrors.ErrInvalidRequest, r.Status)
		}
		phases, err := tx.Rollout().ListPhases(ctx, r.ID)
		if err != nil {
			return err
		}
		current := currentPhase(r, phases)
		if current != nil {
			now := h.clock.Now()
			current.Status = api.PhaseCompleted
			current.CompletedAt = &now
			if err := tx.Rollout().UpdatePhase(ctx, current); err != nil {
				return err
			}
		}
		if err := h.advanceRollout(ctx, tx, r, phases); err != nil {
			return err
		}
		resp = rolloutResponse(r, phases)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RollbackRollout manually reverts every assigned device to the
// rollout's previous version.
func (h *ServiceHandler) RollbackRollout(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error) {
	var resp api.RolloutResponse
	err := h.store.WithRolloutLock(ctx, rolloutID, func(tx store.Store) error {
		r, err := tx.Rollout().Get(ctx, tenantID, rolloutID)
		if err != nil {
			return err
		}
		switch r.Status {
		case api.RolloutInProgress, api.RolloutPaused:
		default:
			return fmt.Errorf("%w: rollout is %s", sberrors.ErrInvalidRequest, r.Status)
		}
		if r.PreviousVersion == nil {
			return fmt.Errorf("%w: rollout %s has no previous version", sberrors.ErrNoPreviousVersion, r.ID)
		}
		return h.rollbackLocked(ctx, tx, r, "operator requested rollback")
	})
	if err != nil {
		return nil, err
	}
	r, err := h.store.Rollout().Get(ctx, tenantID, rolloutID)
	if err != nil {
		return nil, err
	}
	resp = rolloutResponse(r, nil)
	return &resp, nil
}

// TickRollouts is the rollout engine tick body: every InProgress
// rollout gets one reconciliation step, at most MaxConcurrent at a
// time. When the backlog exceeds twice that bound the tail is dropped;
// the next tick picks it up.
func (h *ServiceHandler) TickRollouts(ctx context.Context) error {
	rollouts, err := h.store.Rollout().ListByStatus(ctx, []api.RolloutStatus{api.RolloutInProgress})
	if err != nil {
		return err
	}
	instrumentation.RolloutsInFlight.Set(float64(len(rollouts)))
	bound := h.cfg.Rollout.MaxConcurrent
	if len(rollouts) > 2*bound {
		h.log.Warnf("rollout backlog %d exceeds %d, deferring %d to the next tick",
			len(rollouts), 2*bound, len(rollouts)-2*bound)
		rollouts = rollouts[:2*bound]
	}

	sem := make(chan struct{}, bound)
	var wg sync.WaitGroup
	for i := range rollouts {
		if ctx.Err() != nil {
			break
		}
		r := rollouts[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := h.ProcessRollout(ctx, r.ID); err != nil {
				h.log.WithError(err).Warnf("processing rollout %s", r.ID)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// ProcessRollout runs one reconciliation step for a rollout under its
// advisory lock: fold device reports into assignments, evaluate the
// failure gate, and advance or roll back.
func (h *ServiceHandler) ProcessRollout(ctx context.Context, rolloutID uuid.UUID) error {
	return h.store.WithRolloutLock(ctx, rolloutID, func(tx store.Store) error {
		r, err := tx.Rollout().GetByID(ctx, rolloutID)
		if err != nil {
			return err
		}
		if r.Status != api.RolloutInProgress {
			return nil
		}
		phases, err := tx.Rollout().ListPhases(ctx, r.ID)
		if err != nil {
			return err
		}

		current := currentPhase(r, phases)
		if current == nil {
			// Nothing started yet: kick off the first phase.
			return h.advanceRollout(ctx, tx, r, phases)
		}

		assignments, err := tx.Rollout().ListPhaseAssignments(ctx, current.ID)
		if err != nil {
			return err
		}
		if err := h.reconcilePhase(ctx, tx, r, current, assignments); err != nil {
			return err
		}

		if rollout.GateTripped(current.SuccessCount, current.FailureCount,
			len(assignments), len(assignments), r.FailureThreshold) {
			if r.PreviousVersion == nil {
				return h.failLocked(ctx, tx, r, phases,
					fmt.Sprintf("failure gate tripped in phase %d and no previous version exists", current.PhaseNumber))
			}
			return h.rollbackLocked(ctx, tx, r,
				fmt.Sprintf("failure gate tripped in phase %d", current.PhaseNumber))
		}

		// Failed assignments that kept the gate under its threshold do
		// not block the phase: it settles once every device reached a
		// terminal outcome.
		succeeded, failed := 0, 0
		for _, a := range assignments {
			switch a.Status {
			case api.AssignmentSucceeded:
				succeeded++
			case api.AssignmentFailed:
				failed++
			}
		}
		allSettled := len(assignments) > 0 && succeeded+failed == len(assignments)
		now := h.clock.Now()
		switch {
		case allSettled && current.HealthySince == nil:
			current.HealthySince = &now
			return tx.Rollout().UpdatePhase(ctx, current)
		case allSettled:
			if now.Sub(*current.HealthySince) < current.MinHealthyDuration(h.cfg.RolloutDefaultMinHealthy()) {
				return nil
			}
			current.Status = api.PhaseCompleted
			current.CompletedAt = &now
			if err := tx.Rollout().UpdatePhase(ctx, current); err != nil {
				return err
			}
			return h.advanceRollout(ctx, tx, r, phases)
		case len(assignments) == 0:
			// Empty phase: nothing to wait for.
			current.Status = api.PhaseCompleted
			current.CompletedAt = &now
			if err := tx.Rollout().UpdatePhase(ctx, current); err != nil {
				return err
			}
			return h.advanceRollout(ctx, tx, r, phases)
		default:
			if current.HealthySince != nil {
				current.HealthySince = nil
				return tx.Rollout().UpdatePhase(ctx, current)
			}
			return nil
		}
	})
}

// reconcilePhase folds the devices' reported statuses into the phase's
// assignments. Success and failure counters increment on observed
// transitions only, so a retried device that fails again counts each
// failure; the gate never un-arms.
func (h *ServiceHandler) reconcilePhase(ctx context.Context, tx store.Store, r *model.Rollout, phase *model.RolloutPhase, assignments []model.RolloutDeviceAssignment) error {
	now := h.clock.Now()
	phaseDirty := false
	for i := range assignments {
		a := &assignments[i]
		switch a.Status {
		case api.AssignmentSucceeded, api.AssignmentFailed:
			continue
		}
		report, err := tx.ReportedStatus().Get(ctx, a.DeviceID, r.BundleID, r.TargetVersion)
		if err != nil {
			if errors.Is(err, sberrors.ErrNotFound) {
				continue
			}
			return err
		}
		switch report.State {
		case api.ReportStateCompleted:
			a.Status = api.AssignmentSucceeded
			a.ReconciledAt = &now
			a.ErrorMessage = ""
			phase.SuccessCount++
			phaseDirty = true
			if err := tx.Rollout().UpdateAssignment(ctx, a); err != nil {
				return err
			}
		case api.ReportStateFailed:
			phase.FailureCount++
			phaseDirty = true
			if a.RetryCount < h.cfg.Rollout.MaxRetries {
				if err := h.retryAssignment(ctx, tx, r, phase, a, report.ErrorMessage); err != nil {
					return err
				}
			} else {
				a.Status = api.AssignmentFailed
				a.ReconciledAt = &now
				a.ErrorMessage = report.ErrorMessage
				if err := tx.Rollout().UpdateAssignment(ctx, a); err != nil {
					return err
				}
			}
		case api.ReportStateInProgress:
			if a.Status != api.AssignmentReconciling {
				a.Status = api.AssignmentReconciling
				if err := tx.Rollout().UpdateAssignment(ctx, a); err != nil {
					return err
				}
			}
		}
	}
	if phaseDirty {
		return tx.Rollout().UpdatePhase(ctx, phase)
	}
	return nil
}

// retryAssignment re-issues the desired state so the device attempts
// the version again.
func (h *ServiceHandler) retryAssignment(ctx context.Context, tx store.Store, r *model.Rollout, phase *model.RolloutPhase, a *model.RolloutDeviceAssignment, lastError string) error {
	a.RetryCount++
	a.Status = api.AssignmentAssigned
	a.ErrorMessage = lastError
	if err := tx.Rollout().UpdateAssignment(ctx, a); err != nil {
		return err
	}
	now := h.clock.Now()
	if err := tx.DesiredState().Upsert(ctx, &model.DeviceDesiredState{
		DeviceID:   a.DeviceID,
		BundleID:   r.BundleID,
		Version:    r.TargetVersion,
		AssignedAt: now,
		AssignedBy: "rollout",
		Reason:     fmt.Sprintf("rollout:%s:phase:%d:retry:%d", r.ID, phase.PhaseNumber, a.RetryCount),
	}); err != nil {
		return err
	}
	return h.seedPendingReport(ctx, tx, a.DeviceID, r.BundleID, r.TargetVersion, &r.ID)
}

// advanceRollout starts the next Pending phase, or completes the
// rollout when none is left.
func (h *ServiceHandler) advanceRollout(ctx context.Context, tx store.Store, r *model.Rollout, phases []model.RolloutPhase) error {
	now := h.clock.Now()
	var next *model.RolloutPhase
	for i := range phases {
		if phases[i].Status == api.PhasePending {
			next = &phases[i]
			break
		}
	}
	if next == nil {
		r.Status = api.RolloutCompleted
		r.CompletedAt = &now
		if err := tx.Rollout().Update(ctx, r); err != nil {
			return err
		}
		h.events.Publish(ctx, events.SubjectRolloutEvents+r.ID.String(), map[string]string{"status": string(r.Status)})
		return nil
	}

	candidates, err := h.phaseCandidates(ctx, tx, r)
	if err != nil {
		return err
	}
	rollout.OrderCandidates(candidates)
	isFinal := next.PhaseNumber == len(phases)
	target := rollout.ResolvePhaseTarget(next, len(candidates), isFinal)

	next.Status = api.PhaseInProgress
	next.StartedAt = &now
	if err := tx.Rollout().UpdatePhase(ctx, next); err != nil {
		return err
	}
	r.CurrentPhaseNumber = next.PhaseNumber
	if err := tx.Rollout().Update(ctx, r); err != nil {
		return err
	}

	reason := fmt.Sprintf("rollout:%s:phase:%d", r.ID, next.PhaseNumber)
	for _, c := range candidates[:target] {
		if err := tx.DesiredState().Upsert(ctx, &model.DeviceDesiredState{
			DeviceID:   c.DeviceID,
			BundleID:   r.BundleID,
			Version:    r.TargetVersion,
			AssignedAt: now,
			AssignedBy: "rollout",
			Reason:     reason,
		}); err != nil {
			return err
		}
		if err := h.seedPendingReport(ctx, tx, c.DeviceID, r.BundleID, r.TargetVersion, &r.ID); err != nil {
			return err
		}
		if err := tx.Rollout().CreateAssignment(ctx, &model.RolloutDeviceAssignment{
			ID:         uuid.New(),
			RolloutID:  r.ID,
			DeviceID:   c.DeviceID,
			PhaseID:    next.ID,
			Status:     api.AssignmentAssigned,
			AssignedAt: &now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// phaseCandidates resolves the eligible device set for the next phase:
// approved devices selected by the eligibility policy, minus devices
// already covered by an earlier phase of this rollout.
func (h *ServiceHandler) phaseCandidates(ctx context.Context, tx store.Store, r *model.Rollout) ([]rollout.Candidate, error) {
	var eligible []uuid.UUID
	switch r.EligibilityPolicy {
	case api.EligibilityGroupMembers:
		ids, err := tx.DeviceGroup().ListMemberIDs(ctx, *r.TargetDeviceGroupID)
		if err != nil {
			return nil, err
		}
		eligible = ids
	default:
		states, err := tx.DesiredState().ListByBundle(ctx, r.BundleID)
		if err != nil {
			return nil, err
		}
		eligible = lo.Map(states, func(s model.DeviceDesiredState, _ int) uuid.UUID { return s.DeviceID })
	}

	assigned, err := tx.Rollout().ListAssignments(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	covered := make(map[uuid.UUID]struct{}, len(assigned))
	for _, a := range assigned {
		covered[a.DeviceID] = struct{}{}
	}

	devices, err := tx.Device().ListByTenant(ctx, r.TenantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Device, len(devices))
	for i := range devices {
		byID[devices[i].ID] = &devices[i]
	}

	candidates := make([]rollout.Candidate, 0, len(eligible))
	for _, id := range eligible {
		if _, ok := covered[id]; ok {
			continue
		}
		device, ok := byID[id]
		if !ok || device.RegistrationStatus != api.RegistrationApproved {
			continue
		}
		c := rollout.Candidate{DeviceID: id, HealthScore: h.latestHealthTotal(ctx, id)}
		if device.LastSeenAt != nil {
			c.LastSeenAt = *device.LastSeenAt
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// rollbackLocked reverts every device this rollout touched to the
// previous version and terminates the rollout. Called under the
// rollout lock.
func (h *ServiceHandler) rollbackLocked(ctx context.Context, tx store.Store, r *model.Rollout, cause string) error {
	now := h.clock.Now()
	assignments, err := tx.Rollout().ListAssignments(ctx, r.ID)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("rollback:%s", r.ID)
	for _, a := range assignments {
		if err := tx.DesiredState().Upsert(ctx, &model.DeviceDesiredState{
			DeviceID:   a.DeviceID,
			BundleID:   r.BundleID,
			Version:    *r.PreviousVersion,
			AssignedAt: now,
			AssignedBy: "rollout",
			Reason:     reason,
		}); err != nil {
			return err
		}
		if err := h.seedPendingReport(ctx, tx, a.DeviceID, r.BundleID, *r.PreviousVersion, &r.ID); err != nil {
			return err
		}
	}

	phases, err := tx.Rollout().ListPhases(ctx, r.ID)
	if err != nil {
		return err
	}
	for i := range phases {
		switch phases[i].Status {
		case api.PhaseCompleted, api.PhaseFailed:
			continue
		}
		phases[i].Status = api.PhaseFailed
		phases[i].CompletedAt = &now
		if err := tx.Rollout().UpdatePhase(ctx, &phases[i]); err != nil {
			return err
		}
	}

	r.Status = api.RolloutRolledBack
	r.CompletedAt = &now
	if err := tx.Rollout().Update(ctx, r); err != nil {
		return err
	}
	if err := h.raiseRolloutAlert(ctx, tx, r, cause); err != nil {
		return err
	}
	h.events.Publish(ctx, events.SubjectRolloutEvents+r.ID.String(), map[string]string{
		"status": string(r.Status),
		"cause":  cause,
	})
	return nil
}

// failLocked terminates a rollout that tripped the gate but has no
// previous version to fall back to.
func (h *ServiceHandler) failLocked(ctx context.Context, tx store.Store, r *model.Rollout, phases []model.RolloutPhase, cause string) error {
	now := h.clock.Now()
	for i := range phases {
		switch phases[i].Status {
		case api.PhaseCompleted, api.PhaseFailed:
			continue
		}
		phases[i].Status = api.PhaseFailed
		phases[i].CompletedAt = &now
		if err := tx.Rollout().UpdatePhase(ctx, &phases[i]); err != nil {
			return err
		}
	}
	r.Status = api.RolloutFailed
	r.CompletedAt = &now
	if err := tx.Rollout().Update(ctx, r); err != nil {
		return err
	}
	if err := h.raiseRolloutAlert(ctx, tx, r, cause); err != nil {
		return err
	}
	h.events.Publish(ctx, events.SubjectRolloutEvents+r.ID.String(), map[string]string{
		"status": string(r.Status),
		"cause":  cause,
	})
	return nil
}

func (h *ServiceHandler) raiseRolloutAlert(ctx context.Context, tx store.Store, r *model.Rollout, cause string) error {
	if _, err := tx.Alert().FindActive(ctx, nil, &r.ID, api.AlertTypeRolloutFailed); err == nil {
		return nil
	} else if !errors.Is(err, sberrors.ErrNotFound) {
		return err
	}
	return tx.Alert().Create(ctx, &model.Alert{
		ID:          uuid.New(),
		TenantID:    r.TenantID,
		Severity:    api.SeverityCritical,
		Type:        api.AlertTypeRolloutFailed,
		Status:      api.AlertActive,
		Title:       fmt.Sprintf("Rollout %q did not complete", r.Name),
		Description: cause,
		RolloutID:   &r.ID,
		CreatedAt:   h.clock.Now(),
	})
}

func currentPhase(r *model.Rollout, phases []model.RolloutPhase) *model.RolloutPhase {
	if r.CurrentPhaseNumber == 0 {
		return nil
	}
	for i := range phases {
		if phases[i].PhaseNumber == r.CurrentPhaseNumber && phases[i].Status == api.PhaseInProgress {
			return &phases[i]
		}
	}
	return nil
}

func rolloutResponse(r *model.Rollout, phases []model.RolloutPhase) api.RolloutResponse {
	return api.RolloutResponse{
		RolloutID:          r.ID,
		TenantID:           r.TenantID,
		BundleID:           r.BundleID,
		TargetVersion:      r.TargetVersion,
		PreviousVersion:    r.PreviousVersion,
		Name:               r.Name,
		Description:        r.Description,
		FailureThreshold:   r.FailureThreshold,
		Status:             r.Status,
		CurrentPhaseNumber: r.CurrentPhaseNumber,
		CreatedAt:          r.CreatedAt,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		CreatedBy:          r.CreatedBy,
		Phases: lo.Map(phases, func(p model.RolloutPhase, _ int) api.RolloutPhaseResponse {
			return api.RolloutPhaseResponse{
				PhaseID:           p.ID,
				PhaseNumber:       p.PhaseNumber,
				Name:              p.Name,
				TargetDeviceCount: p.TargetDeviceCount,
				TargetPercentage:  p.TargetPercentage,
				Status:            p.Status,
				StartedAt:         p.StartedAt,
				CompletedAt:       p.CompletedAt,
				SuccessCount:      p.SuccessCount,
				FailureCount:      p.FailureCount,
			}
		}),
	}
}
