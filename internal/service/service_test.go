package service

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/signalbeam/signalbeam/pkg/clock"
	"github.com/signalbeam/signalbeam/pkg/random"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// newTestHandler wires a ServiceHandler against the in-memory store with
// a pinned clock and deterministic randomness. Bcrypt runs at MinCost to
// keep the suite fast.
func newTestHandler(t *testing.T) (*ServiceHandler, *TestStore, *clock.Fake) {
	t.Helper()
	st := newTestStore()
	cfg := config.NewDefault()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewServiceHandler(st, cfg, NewStoreQuotaGate(st), events.NewNoop(), logger).
		WithClock(fake).
		WithRandom(random.NewDeterministic(1))
	return h, st, fake
}

func seedTenant(st *TestStore, maxDevices int) uuid.UUID {
	id := uuid.New()
	st.tenants[id] = model.Tenant{
		ID:                id,
		Name:              "acme",
		MaxDevices:        maxDevices,
		DataRetentionDays: 30,
		Tier:              api.TierPaid,
	}
	return id
}

func seedDevice(st *TestStore, tenantID uuid.UUID, status api.RegistrationStatus) uuid.UUID {
	id := uuid.New()
	seedDeviceWithID(st, tenantID, id, status)
	return id
}

func seedDeviceWithID(st *TestStore, tenantID, deviceID uuid.UUID, status api.RegistrationStatus) {
	st.devices[deviceID] = model.Device{
		ID:                 deviceID,
		TenantID:           tenantID,
		Name:               "dev-" + deviceID.String()[:8],
		RegistrationStatus: status,
		OnlineStatus:       api.OnlineStatusOffline,
	}
}

func seedBundle(st *TestStore, tenantID uuid.UUID, versions ...string) uuid.UUID {
	id := uuid.New()
	bundle := model.Bundle{ID: id, TenantID: tenantID, Name: "sensors"}
	if len(versions) > 0 {
		latest := versions[len(versions)-1]
		bundle.LatestVersion = &latest
	}
	st.bundles[id] = bundle
	for _, v := range versions {
		vid := uuid.New()
		st.bundleVersions[vid] = model.BundleVersion{
			ID:       vid,
			BundleID: id,
			Version:  v,
			Containers: []api.ContainerSpec{
				{Name: "app", Image: "registry.local/app:" + v},
			},
		}
	}
	return id
}
