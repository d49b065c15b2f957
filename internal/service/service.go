package service

import (
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/pkg/clock"
	"github.com/signalbeam/signalbeam/pkg/random"
	"github.com/sirupsen/logrus"
)

// ServiceHandler carries the business logic of the control plane. All
// HTTP handlers and periodic workers go through it; it owns no state
// beyond references to process-wide resources.
type ServiceHandler struct {
	store  store.Store
	log    logrus.FieldLogger
	cfg    *config.Config
	clock  clock.Clock
	rand   random.Source
	quota  QuotaGate
	events events.Publisher
}

func NewServiceHandler(st store.Store, cfg *config.Config, quota QuotaGate, publisher events.Publisher, log logrus.FieldLogger) *ServiceHandler {
	return &ServiceHandler{
		store:  st,
		log:    log,
		cfg:    cfg,
		clock:  clock.Real(),
		rand:   random.Crypto(),
		quota:  quota,
		events: publisher,
	}
}

// WithClock and WithRandom inject the determinism hooks; tests use them
// to pin time and generated secrets.
func (h *ServiceHandler) WithClock(c clock.Clock) *ServiceHandler {
	h.clock = c
	return h
}

func (h *ServiceHandler) WithRandom(src random.Source) *ServiceHandler {
	h.rand = src
	return h
}
