package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// PostHeartbeat appends a liveness sample, advances lastSeenAt
// monotonically and flips the device Online.
func (h *ServiceHandler) PostHeartbeat(ctx context.Context, deviceID uuid.UUID, req api.HeartbeatRequest) error {
	now := h.clock.Now()
	if req.At.After(now.Add(h.cfg.MaxClockSkew())) {
		return fmt.Errorf("%w: heartbeat timestamp %s", sberrors.ErrInvalidTimestamp, req.At)
	}
	at := req.At
	if at.IsZero() {
		at = now
	}

	hb := model.DeviceHeartbeat{
		DeviceID:  deviceID,
		At:        at,
		Status:    req.Status,
		IPAddress: req.IPAddress,
		Extras:    req.Extras,
	}
	if err := h.store.Telemetry().InsertHeartbeat(ctx, &hb); err != nil {
		return err
	}
	if err := h.store.Device().TouchLastSeen(ctx, deviceID, at); err != nil {
		return err
	}

	h.events.Publish(ctx, events.SubjectHeartbeats+deviceID.String(), hb)
	return nil
}

// PostMetrics appends a resource sample; percentages must be in [0,100].
func (h *ServiceHandler) PostMetrics(ctx context.Context, deviceID uuid.UUID, req api.MetricsRequest) error {
	now := h.clock.Now()
	if req.At.After(now.Add(h.cfg.MaxClockSkew())) {
		return fmt.Errorf("%w: metrics timestamp %s", sberrors.ErrInvalidTimestamp, req.At)
	}
	for _, pct := range []float64{req.CPUPercent, req.MemoryPercent, req.DiskPercent} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: percentage %f out of range", sberrors.ErrInvalidRequest, pct)
		}
	}
	at := req.At
	if at.IsZero() {
		at = now
	}

	m := model.DeviceMetrics{
		DeviceID:          deviceID,
		At:                at,
		CPUPercent:        req.CPUPercent,
		MemoryPercent:     req.MemoryPercent,
		DiskPercent:       req.DiskPercent,
		UptimeSec:         req.UptimeSec,
		RunningContainers: req.RunningContainers,
		Extras:            req.Extras,
	}
	if err := h.store.Telemetry().InsertMetrics(ctx, &m); err != nil {
		return err
	}

	h.events.Publish(ctx, events.SubjectMetrics+deviceID.String(), m)
	return nil
}

// MarkOfflineDevices is the offline-detection tick body: devices still
// Online whose last heartbeat is older than the threshold flip to
// Offline. The tick is idempotent.
func (h *ServiceHandler) MarkOfflineDevices(ctx context.Context) (int, error) {
	cutoff := h.clock.Now().Add(-h.cfg.OfflineThreshold())
	devices, err := h.store.Device().ListOnlineNotSeenSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	transitioned := 0
	for _, device := range devices {
		if ctx.Err() != nil {
			return transitioned, ctx.Err()
		}
		if err := h.store.Device().UpdateOnlineStatus(ctx, device.ID, api.OnlineStatusOffline); err != nil {
			h.log.WithError(err).Warnf("marking device %s offline", device.ID)
			continue
		}
		transitioned++
		h.events.Publish(ctx, events.SubjectDeviceEvents+"offline", map[string]string{"deviceId": device.ID.String()})
	}
	return transitioned, nil
}

// SweepRetention deletes heartbeat and metric rows older than each
// tenant's retention horizon, oldest first, in capped batches.
func (h *ServiceHandler) SweepRetention(ctx context.Context) error {
	tenants, err := h.store.Tenant().List(ctx)
	if err != nil {
		return err
	}
	now := h.clock.Now()
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tenant.DataRetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -tenant.DataRetentionDays)
		for {
			deleted, err := h.store.Telemetry().DeleteOlderThan(ctx, tenant.ID, cutoff, h.cfg.Telemetry.RetentionBatchSize)
			if err != nil {
				h.log.WithError(err).Warnf("retention sweep for tenant %s", tenant.ID)
				break
			}
			if deleted == 0 {
				break
			}
			h.log.Debugf("retention sweep deleted %d rows for tenant %s", deleted, tenant.ID)
		}
	}
	return nil
}
