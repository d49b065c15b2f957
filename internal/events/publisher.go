// Package events publishes best-effort device and telemetry events to
// the message bus. Delivery is at-least-once and optional: when no bus
// is configured the publisher is a no-op, and publish failures are
// logged, never propagated.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	SubjectDeviceEvents  = "signalbeam.devices.events."
	SubjectHeartbeats    = "signalbeam.devices.heartbeat."
	SubjectMetrics       = "signalbeam.telemetry.metrics."
	SubjectRolloutEvents = "signalbeam.rollouts.events."
	SubjectAlertEvents   = "signalbeam.alerts.events."
)

type Publisher interface {
	Publish(ctx context.Context, subject string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) {}

// NewNoop returns a publisher that drops everything.
func NewNoop() Publisher { return noopPublisher{} }

type redisPublisher struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewRedis returns a publisher backed by redis pub/sub channels named
// after the bus subjects.
func NewRedis(addr, password string, log logrus.FieldLogger) Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &redisPublisher{client: client, log: log}
}

func (p *redisPublisher) Publish(ctx context.Context, subject string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).Warnf("encoding event for %s", subject)
		return
	}
	if err := p.client.Publish(ctx, subject, body).Err(); err != nil {
		p.log.WithError(err).Warnf("publishing event to %s", subject)
	}
}
