// Package tasks runs the periodic background workers that drive the
// control plane: offline detection, health scoring, the rollout and
// alert engines, dynamic group sync, telemetry retention and API key
// expiry checks.
package tasks

import (
	"context"
	"time"

	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/instrumentation"
	"github.com/signalbeam/signalbeam/internal/service"
	"github.com/signalbeam/signalbeam/pkg/thread"
	"github.com/sirupsen/logrus"
)

// Manager owns all periodic workers. Each worker is an independent
// thread; a slow tick in one never blocks the others.
type Manager struct {
	log     logrus.FieldLogger
	threads []*thread.Thread
}

func NewManager(ctx context.Context, log logrus.FieldLogger, cfg *config.Config, handler *service.ServiceHandler) *Manager {
	m := &Manager{log: log}
	m.threads = []*thread.Thread{
		thread.New(ctx, log, "offline detector", cfg.OfflineCheckInterval(),
			tick(log, "offline-detector", func(ctx context.Context) error {
				n, err := handler.MarkOfflineDevices(ctx)
				if n > 0 {
					log.Infof("marked %d devices offline", n)
				}
				return err
			})),
		thread.New(ctx, log, "health scorer", cfg.HealthScoreInterval(),
			tick(log, "health-scorer", handler.ScoreAllDevices)),
		thread.New(ctx, log, "rollout engine", cfg.RolloutCheckInterval(),
			tick(log, "rollout-engine", handler.TickRollouts)),
		thread.New(ctx, log, "alert engine", cfg.AlertTickInterval(),
			tick(log, "alert-engine", handler.EvaluateAlertRules)),
		thread.New(ctx, log, "group sync", cfg.GroupSyncInterval(),
			tick(log, "group-sync", handler.SyncDynamicGroups)),
		thread.New(ctx, log, "retention sweeper", cfg.RetentionSweepInterval(),
			tick(log, "retention-sweeper", handler.SweepRetention)),
		thread.New(ctx, log, "api key expiry checker", cfg.ApiKeyExpiryCheckInterval(),
			tick(log, "apikey-expiry", handler.CheckApiKeyExpiry)),
	}
	return m
}

func (m *Manager) Start() {
	for _, t := range m.threads {
		t.Start()
	}
}

func (m *Manager) Stop() {
	for _, t := range m.threads {
		t.Stop()
	}
}

func tick(log logrus.FieldLogger, name string, fn func(context.Context) error) func(context.Context) {
	return func(ctx context.Context) {
		started := time.Now()
		err := fn(ctx)
		instrumentation.ObserveTick(name, started, err)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Warnf("%s tick failed", name)
		}
	}
}
