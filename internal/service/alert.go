package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/instrumentation"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// EvaluateAlertRules is the alert engine tick body. It walks the fleet
// once, raising alerts whose condition holds and resolving active
// alerts whose condition has cleared. Both passes are idempotent: an
// Active alert of the same type on the same device is never duplicated.
func (h *ServiceHandler) EvaluateAlertRules(ctx context.Context) error {
	tenants, err := h.store.Tenant().List(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		devices, err := h.store.Device().ListByTenant(ctx, tenant.ID)
		if err != nil {
			h.log.WithError(err).Warnf("listing devices for tenant %s", tenant.ID)
			continue
		}
		online := 0
		for i := range devices {
			if devices[i].OnlineStatus == api.OnlineStatusOnline {
				online++
			}
			h.evaluateDeviceRules(ctx, &devices[i])
		}
		instrumentation.DevicesOnline.WithLabelValues(tenant.ID.String()).Set(float64(online))
	}
	return h.resolveClearedAlerts(ctx)
}

func (h *ServiceHandler) evaluateDeviceRules(ctx context.Context, device *model.Device) {
	if device.RegistrationStatus != api.RegistrationApproved {
		return
	}
	now := h.clock.Now()

	if device.LastSeenAt != nil && device.OnlineStatus == api.OnlineStatusOffline {
		silent := now.Sub(*device.LastSeenAt)
		if silent >= time.Duration(h.cfg.Alerts.OfflineCriticalMinutes)*time.Minute {
			h.raiseDeviceAlert(ctx, device, api.AlertTypeDeviceOfflineCritical, api.SeverityCritical,
				fmt.Sprintf("Device %q offline for %d minutes", device.Name, int(silent.Minutes())))
		} else if silent >= time.Duration(h.cfg.Alerts.OfflineWarningMinutes)*time.Minute {
			h.raiseDeviceAlert(ctx, device, api.AlertTypeDeviceOfflineWarning, api.SeverityWarning,
				fmt.Sprintf("Device %q offline for %d minutes", device.Name, int(silent.Minutes())))
		}
	}

	if total := h.recentHealthTotal(ctx, device.ID, now); total >= 0 && total < h.cfg.Alerts.UnhealthyScoreThreshold {
		h.raiseDeviceAlert(ctx, device, api.AlertTypeDeviceUnhealthy, api.SeverityCritical,
			fmt.Sprintf("Device %q health score dropped to %.0f", device.Name, total))
	}

	if rate, ok := h.heartbeatErrorRate(ctx, device.ID, now); ok && rate >= h.cfg.Alerts.ErrorRateThresholdPct {
		h.raiseDeviceAlert(ctx, device, api.AlertTypeHighErrorRate, api.SeverityWarning,
			fmt.Sprintf("Device %q reported %.0f%% errored heartbeats", device.Name, rate))
	}
}

// heartbeatErrorRate returns the errored share (percent) of heartbeats
// in the configured window; ok is false when the window is empty.
func (h *ServiceHandler) heartbeatErrorRate(ctx context.Context, deviceID uuid.UUID, now time.Time) (float64, bool) {
	since := now.Add(-time.Duration(h.cfg.Alerts.ErrorRateWindowMinutes) * time.Minute)
	total, errored, err := h.store.Telemetry().CountHeartbeatsSince(ctx, deviceID, since)
	if err != nil {
		h.log.WithError(err).Warnf("counting heartbeats for device %s", deviceID)
		return 0, false
	}
	if total == 0 {
		return 0, false
	}
	return 100 * float64(errored) / float64(total), true
}

// raiseDeviceAlert creates an alert unless one of the same type is
// already active for the device. Failures are logged; a missed alert
// is re-raised next tick.
func (h *ServiceHandler) raiseDeviceAlert(ctx context.Context, device *model.Device, alertType string, severity api.AlertSeverity, title string) {
	if _, err := h.store.Alert().FindActive(ctx, &device.ID, nil, alertType); err == nil {
		return
	} else if !errors.Is(err, sberrors.ErrNotFound) {
		h.log.WithError(err).Warnf("checking active %s alert for device %s", alertType, device.ID)
		return
	}
	alert := model.Alert{
		ID:        uuid.New(),
		TenantID:  device.TenantID,
		Severity:  severity,
		Type:      alertType,
		Status:    api.AlertActive,
		Title:     title,
		DeviceID:  &device.ID,
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.Alert().Create(ctx, &alert); err != nil {
		h.log.WithError(err).Warnf("creating %s alert for device %s", alertType, device.ID)
		return
	}
	h.recordNotification(ctx, &alert)
	h.events.Publish(ctx, events.SubjectAlertEvents+string(severity), alert.ToApiResource())
}

func (h *ServiceHandler) recordNotification(ctx context.Context, alert *model.Alert) {
	n := model.Notification{
		ID:        uuid.New(),
		TenantID:  alert.TenantID,
		AlertID:   alert.ID,
		Channel:   "alert",
		Payload:   fmt.Sprintf(`{"type":%q,"severity":%q,"title":%q}`, alert.Type, alert.Severity, alert.Title),
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.Notification().Create(ctx, &n); err != nil {
		h.log.WithError(err).Warnf("recording notification for alert %s", alert.ID)
	}
}

// resolveClearedAlerts auto-resolves active alerts whose triggering
// condition no longer holds.
func (h *ServiceHandler) resolveClearedAlerts(ctx context.Context) error {
	active, err := h.store.Alert().ListActive(ctx)
	if err != nil {
		return err
	}
	now := h.clock.Now()
	for i := range active {
		alert := &active[i]
		cleared, err := h.alertCleared(ctx, alert, now)
		if err != nil {
			h.log.WithError(err).Warnf("checking alert %s", alert.ID)
			continue
		}
		if !cleared {
			continue
		}
		alert.Status = api.AlertResolved
		alert.ResolvedAt = &now
		if err := h.store.Alert().Update(ctx, alert); err != nil {
			h.log.WithError(err).Warnf("resolving alert %s", alert.ID)
		}
	}
	return nil
}

func (h *ServiceHandler) alertCleared(ctx context.Context, alert *model.Alert, now time.Time) (bool, error) {
	switch alert.Type {
	case api.AlertTypeDeviceOfflineWarning, api.AlertTypeDeviceOfflineCritical:
		device, err := h.store.Device().GetByID(ctx, *alert.DeviceID)
		if err != nil {
			if errors.Is(err, sberrors.ErrDeviceNotFound) {
				return true, nil
			}
			return false, err
		}
		return device.OnlineStatus == api.OnlineStatusOnline, nil

	case api.AlertTypeDeviceUnhealthy:
		total := h.recentHealthTotal(ctx, *alert.DeviceID, now)
		return total < 0 || total >= h.cfg.Alerts.UnhealthyScoreThreshold, nil

	case api.AlertTypeHighErrorRate:
		rate, ok := h.heartbeatErrorRate(ctx, *alert.DeviceID, now)
		return !ok || rate < h.cfg.Alerts.ErrorRateThresholdPct, nil

	case api.AlertTypeRolloutFailed:
		r, err := h.store.Rollout().GetByID(ctx, *alert.RolloutID)
		if err != nil {
			if errors.Is(err, sberrors.ErrRolloutNotFound) {
				return true, nil
			}
			return false, err
		}
		// A later rollout that completed on the same bundle supersedes
		// the failure.
		rollouts, err := h.store.Rollout().List(ctx, r.TenantID)
		if err != nil {
			return false, err
		}
		for _, other := range rollouts {
			if other.BundleID == r.BundleID && other.Status == api.RolloutCompleted &&
				other.CreatedAt.After(r.CreatedAt) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func (h *ServiceHandler) ListAlerts(ctx context.Context, tenantID uuid.UUID, status *api.AlertStatus) ([]api.AlertResponse, error) {
	alerts, err := h.store.Alert().List(ctx, tenantID, status)
	if err != nil {
		return nil, err
	}
	return lo.Map(alerts, func(a model.Alert, _ int) api.AlertResponse { return a.ToApiResource() }), nil
}

func (h *ServiceHandler) GetAlert(ctx context.Context, tenantID, alertID uuid.UUID) (*api.AlertResponse, error) {
	alert, err := h.store.Alert().Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	resp := alert.ToApiResource()
	return &resp, nil
}

// AcknowledgeAlert marks an alert as seen. Repeat acknowledgements keep
// the first timestamp; resolved alerts stay resolved.
func (h *ServiceHandler) AcknowledgeAlert(ctx context.Context, tenantID, alertID uuid.UUID, by string) (*api.AlertResponse, error) {
	alert, err := h.store.Alert().Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == api.AlertActive {
		now := h.clock.Now()
		alert.Status = api.AlertAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = by
		if err := h.store.Alert().Update(ctx, alert); err != nil {
			return nil, err
		}
	}
	resp := alert.ToApiResource()
	return &resp, nil
}

// ResolveAlert closes an alert by hand. Resolving twice is a no-op.
func (h *ServiceHandler) ResolveAlert(ctx context.Context, tenantID, alertID uuid.UUID) (*api.AlertResponse, error) {
	alert, err := h.store.Alert().Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != api.AlertResolved {
		now := h.clock.Now()
		alert.Status = api.AlertResolved
		alert.ResolvedAt = &now
		if err := h.store.Alert().Update(ctx, alert); err != nil {
			return nil, err
		}
	}
	resp := alert.ToApiResource()
	return &resp, nil
}
