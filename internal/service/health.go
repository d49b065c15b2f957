package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

const (
	heartbeatScoreMax      = 40.0
	reconciliationScoreMax = 30.0
	resourceScoreMax       = 30.0

	heartbeatFreshWindow   = time.Minute
	heartbeatDeadWindow    = 10 * time.Minute
	metricsFreshWindow     = 5 * time.Minute
	healthScoreFreshWindow = 10 * time.Minute
	reconciliationDepth    = 10

	healthyThreshold  = 70.0
	degradedThreshold = 40.0
)

// HealthBucket buckets a total score.
func HealthBucket(total float64) string {
	switch {
	case total >= healthyThreshold:
		return "Healthy"
	case total >= degradedThreshold:
		return "Degraded"
	default:
		return "Critical"
	}
}

// heartbeatScore is 40 for a heartbeat within the last minute, decaying
// linearly to 0 at ten minutes.
func heartbeatScore(lastSeen *time.Time, now time.Time) float64 {
	if lastSeen == nil {
		return 0
	}
	age := now.Sub(*lastSeen)
	switch {
	case age <= heartbeatFreshWindow:
		return heartbeatScoreMax
	case age >= heartbeatDeadWindow:
		return 0
	default:
		span := float64(heartbeatDeadWindow - heartbeatFreshWindow)
		return heartbeatScoreMax * float64(heartbeatDeadWindow-age) / span
	}
}

// reconciliationScore is the success ratio over the most recent
// terminal reconciliations; a device with no history scores full.
func reconciliationScore(recent []model.ReportedStatus) float64 {
	if len(recent) == 0 {
		return reconciliationScoreMax
	}
	success := 0
	for _, r := range recent {
		if r.State == api.ReportStateCompleted {
			success++
		}
	}
	return reconciliationScoreMax * float64(success) / float64(len(recent))
}

func resourcePenalty(pct float64) float64 {
	switch {
	case pct >= 90:
		return 1
	case pct >= 75:
		return 0.5
	default:
		return 0
	}
}

// resourceScore deducts per-resource pressure penalties from the latest
// sample; a device without a fresh sample is not penalized.
func resourceScore(m *model.DeviceMetrics, now time.Time) float64 {
	if m == nil || now.Sub(m.At) > metricsFreshWindow {
		return resourceScoreMax
	}
	score := resourceScoreMax -
		10*resourcePenalty(m.CPUPercent) -
		10*resourcePenalty(m.MemoryPercent) -
		10*resourcePenalty(m.DiskPercent)
	if score < 0 {
		return 0
	}
	return score
}

// ScoreDevice computes and persists the health score for one device.
func (h *ServiceHandler) ScoreDevice(ctx context.Context, device *model.Device) (*model.DeviceHealthScore, error) {
	now := h.clock.Now()

	recent, err := h.store.ReportedStatus().ListRecentTerminalByDevice(ctx, device.ID, reconciliationDepth)
	if err != nil {
		return nil, err
	}

	metrics, err := h.store.Telemetry().LatestMetrics(ctx, device.ID)
	if err != nil && !errors.Is(err, sberrors.ErrNotFound) {
		return nil, err
	}

	hb := heartbeatScore(device.LastSeenAt, now)
	rec := reconciliationScore(recent)
	res := resourceScore(metrics, now)

	score := model.DeviceHealthScore{
		DeviceID:            device.ID,
		At:                  now,
		HeartbeatScore:      hb,
		ReconciliationScore: rec,
		ResourceScore:       res,
		Total:               hb + rec + res,
	}
	if err := h.store.HealthScore().Insert(ctx, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// ScoreAllDevices is the health-scorer tick body: it scores every
// device that heartbeat within the last 24 hours.
func (h *ServiceHandler) ScoreAllDevices(ctx context.Context) error {
	since := h.clock.Now().Add(-24 * time.Hour)
	devices, err := h.store.Device().ListSeenSince(ctx, since)
	if err != nil {
		return err
	}
	for i := range devices {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := h.ScoreDevice(ctx, &devices[i]); err != nil {
			h.log.WithError(err).Warnf("scoring device %s", devices[i].ID)
		}
	}
	return nil
}

// latestHealthTotal returns the newest score for a device, or -1 when
// none has been recorded yet.
func (h *ServiceHandler) latestHealthTotal(ctx context.Context, deviceID uuid.UUID) float64 {
	score, err := h.store.HealthScore().Latest(ctx, deviceID)
	if err != nil {
		return -1
	}
	return score.Total
}

// recentHealthTotal is latestHealthTotal restricted to the alerting
// window: a score older than the window is treated as absent, so a
// stale reading never drives an alert.
func (h *ServiceHandler) recentHealthTotal(ctx context.Context, deviceID uuid.UUID, now time.Time) float64 {
	score, err := h.store.HealthScore().Latest(ctx, deviceID)
	if err != nil || now.Sub(score.At) > healthScoreFreshWindow {
		return -1
	}
	return score.Total
}
