package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// AssignDesiredState points a device at a bundle version. The single
// desired-state row per device is overwritten; the previous assignment
// is implicitly superseded.
func (h *ServiceHandler) AssignDesiredState(ctx context.Context, tenantID, deviceID uuid.UUID, assignedBy string, req api.AssignDesiredStateRequest) (*api.DesiredStateResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if device.RegistrationStatus != api.RegistrationApproved {
		return nil, fmt.Errorf("%w: device %s is not approved", sberrors.ErrDeviceNotApproved, deviceID)
	}
	bundle, err := h.store.Bundle().Get(ctx, tenantID, req.BundleID)
	if err != nil {
		return nil, err
	}
	version, err := h.store.Bundle().GetVersion(ctx, bundle.ID, req.Version)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	state := model.DeviceDesiredState{
		DeviceID:   deviceID,
		BundleID:   bundle.ID,
		Version:    version.Version,
		AssignedAt: now,
		AssignedBy: assignedBy,
		Reason:     req.Reason,
	}
	err = h.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.DesiredState().Upsert(ctx, &state); err != nil {
			return err
		}
		return h.seedPendingReport(ctx, tx, deviceID, bundle.ID, version.Version, nil)
	})
	if err != nil {
		return nil, err
	}

	h.events.Publish(ctx, events.SubjectDeviceEvents+"assigned", map[string]string{
		"deviceId": deviceID.String(),
		"bundleId": bundle.ID.String(),
		"version":  version.Version,
	})
	return desiredStateResponse(&state, version.Containers), nil
}

// seedPendingReport records that a reconciliation is expected for the
// tuple. A row that already completed the same version is left alone so
// re-assignment of the installed version stays a no-op for the device.
func (h *ServiceHandler) seedPendingReport(ctx context.Context, tx store.Store, deviceID, bundleID uuid.UUID, version string, rolloutID *uuid.UUID) error {
	existing, err := tx.ReportedStatus().Get(ctx, deviceID, bundleID, version)
	if err != nil && !errors.Is(err, sberrors.ErrNotFound) {
		return err
	}
	if err == nil {
		if existing.State == api.ReportStateCompleted {
			return nil
		}
		existing.State = api.ReportStatePending
		existing.RolloutID = rolloutID
		existing.ErrorMessage = ""
		existing.UpdatedAt = h.clock.Now()
		return tx.ReportedStatus().Save(ctx, existing)
	}
	now := h.clock.Now()
	return tx.ReportedStatus().Save(ctx, &model.ReportedStatus{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		BundleID:  bundleID,
		Version:   version,
		RolloutID: rolloutID,
		State:     api.ReportStatePending,
		StartedAt: now,
		UpdatedAt: now,
	})
}

// GetDesiredState returns the device's current assignment together with
// the container specs of the assigned version.
func (h *ServiceHandler) GetDesiredState(ctx context.Context, deviceID uuid.UUID) (*api.DesiredStateResponse, error) {
	state, err := h.store.DesiredState().Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	version, err := h.store.Bundle().GetVersion(ctx, state.BundleID, state.Version)
	if err != nil {
		return nil, err
	}
	return desiredStateResponse(state, version.Containers), nil
}

func desiredStateResponse(state *model.DeviceDesiredState, containers []api.ContainerSpec) *api.DesiredStateResponse {
	return &api.DesiredStateResponse{
		DeviceID:   state.DeviceID,
		BundleID:   state.BundleID,
		Version:    state.Version,
		Containers: containers,
		AssignedAt: state.AssignedAt,
		AssignedBy: state.AssignedBy,
		Reason:     state.Reason,
	}
}

// ReportState ingests a device's reconciliation report for one
// (bundle, version) tuple. Reports carrying a timestamp older than an
// already-recorded completion are stale and rejected; a Failed row
// moving back to InProgress counts as a retry.
func (h *ServiceHandler) ReportState(ctx context.Context, deviceID uuid.UUID, req api.ReportStateRequest) error {
	switch req.State {
	case api.ReportStateInProgress, api.ReportStateCompleted, api.ReportStateFailed, api.ReportStateRolledBack:
	default:
		return fmt.Errorf("%w: unknown report state %q", sberrors.ErrInvalidRequest, req.State)
	}
	now := h.clock.Now()
	if req.At.After(now.Add(h.cfg.MaxClockSkew())) {
		return fmt.Errorf("%w: report timestamp %s", sberrors.ErrInvalidTimestamp, req.At)
	}
	at := req.At
	if at.IsZero() {
		at = now
	}

	return h.store.Transaction(ctx, func(tx store.Store) error {
		existing, err := tx.ReportedStatus().Get(ctx, deviceID, req.BundleID, req.Version)
		if err != nil {
			if !errors.Is(err, sberrors.ErrNotFound) {
				return err
			}
			row := model.ReportedStatus{
				ID:           uuid.New(),
				DeviceID:     deviceID,
				BundleID:     req.BundleID,
				Version:      req.Version,
				RolloutID:    req.RolloutID,
				State:        req.State,
				StartedAt:    at,
				ErrorMessage: req.ErrorMessage,
				UpdatedAt:    now,
			}
			if req.State.Terminal() {
				row.CompletedAt = &at
			}
			return tx.ReportedStatus().Save(ctx, &row)
		}

		if existing.CompletedAt != nil && at.Before(*existing.CompletedAt) {
			return fmt.Errorf("%w: report at %s predates completion at %s",
				sberrors.ErrStaleReport, at, *existing.CompletedAt)
		}

		if existing.State == api.ReportStateFailed && req.State == api.ReportStateInProgress {
			existing.RetryCount++
		}
		existing.State = req.State
		existing.ErrorMessage = req.ErrorMessage
		if req.RolloutID != nil {
			existing.RolloutID = req.RolloutID
		}
		if req.State.Terminal() {
			existing.CompletedAt = &at
		} else {
			existing.CompletedAt = nil
		}
		existing.UpdatedAt = now
		return tx.ReportedStatus().Save(ctx, existing)
	})
}
