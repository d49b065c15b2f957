package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

// TestStore is a map-backed store.Store used by the service tests. It
// mirrors the error semantics of the gorm-backed stores (not-found
// sentinels, single-use token consumption, monotonic last-seen) without
// a database. All methods are safe for concurrent use.
type TestStore struct {
	mu sync.Mutex

	tenants        map[uuid.UUID]model.Tenant
	devices        map[uuid.UUID]model.Device
	groups         map[uuid.UUID]model.DeviceGroup
	groupMembers   map[uuid.UUID]map[uuid.UUID]struct{}
	regTokens      map[uuid.UUID]model.RegistrationToken
	apiKeys        map[uuid.UUID]model.DeviceApiKey
	authAttempts   []model.AuthAttempt
	heartbeats     []model.DeviceHeartbeat
	metrics        []model.DeviceMetrics
	healthScores   []model.DeviceHealthScore
	bundles        map[uuid.UUID]model.Bundle
	bundleVersions map[uuid.UUID]model.BundleVersion
	desiredStates  map[uuid.UUID]model.DeviceDesiredState
	reports        map[uuid.UUID]model.ReportedStatus
	rollouts       map[uuid.UUID]model.Rollout
	phases         map[uuid.UUID]model.RolloutPhase
	assignments    map[uuid.UUID]model.RolloutDeviceAssignment
	alerts         map[uuid.UUID]model.Alert
	notifications  []model.Notification

	seq uint64
}

var _ store.Store = (*TestStore)(nil)

func newTestStore() *TestStore {
	return &TestStore{
		tenants:        map[uuid.UUID]model.Tenant{},
		devices:        map[uuid.UUID]model.Device{},
		groups:         map[uuid.UUID]model.DeviceGroup{},
		groupMembers:   map[uuid.UUID]map[uuid.UUID]struct{}{},
		regTokens:      map[uuid.UUID]model.RegistrationToken{},
		apiKeys:        map[uuid.UUID]model.DeviceApiKey{},
		bundles:        map[uuid.UUID]model.Bundle{},
		bundleVersions: map[uuid.UUID]model.BundleVersion{},
		desiredStates:  map[uuid.UUID]model.DeviceDesiredState{},
		reports:        map[uuid.UUID]model.ReportedStatus{},
		rollouts:       map[uuid.UUID]model.Rollout{},
		phases:         map[uuid.UUID]model.RolloutPhase{},
		assignments:    map[uuid.UUID]model.RolloutDeviceAssignment{},
		alerts:         map[uuid.UUID]model.Alert{},
	}
}

func (s *TestStore) Tenant() store.Tenant                       { return testTenants{s} }
func (s *TestStore) Device() store.Device                       { return testDevices{s} }
func (s *TestStore) DeviceGroup() store.DeviceGroup             { return testGroups{s} }
func (s *TestStore) RegistrationToken() store.RegistrationToken { return testRegTokens{s} }
func (s *TestStore) DeviceApiKey() store.DeviceApiKey           { return testApiKeys{s} }
func (s *TestStore) AuthAttempt() store.AuthAttempt             { return testAuthAttempts{s} }
func (s *TestStore) Telemetry() store.Telemetry                 { return testTelemetry{s} }
func (s *TestStore) HealthScore() store.HealthScore             { return testHealthScores{s} }
func (s *TestStore) Bundle() store.Bundle                       { return testBundles{s} }
func (s *TestStore) DesiredState() store.DesiredState           { return testDesiredStates{s} }
func (s *TestStore) ReportedStatus() store.ReportedStatus       { return testReports{s} }
func (s *TestStore) Rollout() store.Rollout                     { return testRollouts{s} }
func (s *TestStore) Alert() store.Alert                         { return testAlerts{s} }
func (s *TestStore) Notification() store.Notification           { return testNotifications{s} }

// Transaction has no rollback: tests drive failure paths through the
// service guards, which check before writing.
func (s *TestStore) Transaction(_ context.Context, fn func(store.Store) error) error {
	return fn(s)
}

func (s *TestStore) WithRolloutLock(_ context.Context, _ uuid.UUID, fn func(store.Store) error) error {
	return fn(s)
}

func (s *TestStore) InitialMigration() error             { return nil }
func (s *TestStore) CheckHealth(_ context.Context) error { return nil }

func (s *TestStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func uuidLess(a, b uuid.UUID) bool {
	return strings.Compare(a.String(), b.String()) < 0
}

// --- tenants ---

type testTenants struct{ s *TestStore }

func (t testTenants) InitialMigration() error { return nil }

func (t testTenants) Get(_ context.Context, tenantID uuid.UUID) (*model.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tenant, ok := t.s.tenants[tenantID]
	if !ok {
		return nil, sberrors.ErrNotFound
	}
	return &tenant, nil
}

func (t testTenants) Upsert(_ context.Context, tenant *model.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.tenants[tenant.ID] = *tenant
	return nil
}

func (t testTenants) List(_ context.Context) ([]model.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]model.Tenant, 0, len(t.s.tenants))
	for _, tenant := range t.s.tenants {
		out = append(out, tenant)
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

// --- devices ---

type testDevices struct{ s *TestStore }

func (d testDevices) InitialMigration() error { return nil }

func (d testDevices) Create(_ context.Context, device *model.Device) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, ok := d.s.devices[device.ID]; ok {
		return sberrors.ErrDeviceAlreadyExists
	}
	d.s.devices[device.ID] = *device
	return nil
}

func (d testDevices) Get(_ context.Context, tenantID, deviceID uuid.UUID) (*model.Device, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	device, ok := d.s.devices[deviceID]
	if !ok || device.TenantID != tenantID {
		return nil, sberrors.ErrDeviceNotFound
	}
	return &device, nil
}

func (d testDevices) GetByID(_ context.Context, deviceID uuid.UUID) (*model.Device, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	device, ok := d.s.devices[deviceID]
	if !ok {
		return nil, sberrors.ErrDeviceNotFound
	}
	return &device, nil
}

func (d testDevices) Update(_ context.Context, device *model.Device) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.devices[device.ID] = *device
	return nil
}

func (d testDevices) UpdateOnlineStatus(_ context.Context, deviceID uuid.UUID, status api.OnlineStatus) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	device, ok := d.s.devices[deviceID]
	if !ok {
		return nil
	}
	device.OnlineStatus = status
	d.s.devices[deviceID] = device
	return nil
}

func (d testDevices) TouchLastSeen(_ context.Context, deviceID uuid.UUID, at time.Time) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	device, ok := d.s.devices[deviceID]
	if !ok {
		return nil
	}
	if device.LastSeenAt == nil || device.LastSeenAt.Before(at) {
		seen := at
		device.LastSeenAt = &seen
	}
	device.OnlineStatus = api.OnlineStatusOnline
	d.s.devices[deviceID] = device
	return nil
}

func (d testDevices) List(_ context.Context, tenantID uuid.UUID, params store.ListDevicesParams) ([]model.Device, int64, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var matched []model.Device
	for _, device := range d.s.devices {
		if device.TenantID != tenantID {
			continue
		}
		if params.Status != nil && device.RegistrationStatus != *params.Status {
			continue
		}
		if params.GroupID != nil {
			members := d.s.groupMembers[*params.GroupID]
			if _, ok := members[device.ID]; !ok {
				continue
			}
		}
		matched = append(matched, device)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return uuidLess(matched[i].ID, matched[j].ID)
	})
	total := int64(len(matched))
	if params.Offset > 0 {
		if params.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[params.Offset:]
		}
	}
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return matched, total, nil
}

func (d testDevices) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]model.Device, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []model.Device
	for _, device := range d.s.devices {
		if device.TenantID == tenantID {
			out = append(out, device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (d testDevices) ListOnlineNotSeenSince(_ context.Context, cutoff time.Time) ([]model.Device, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []model.Device
	for _, device := range d.s.devices {
		if device.OnlineStatus != api.OnlineStatusOnline {
			continue
		}
		if device.LastSeenAt == nil || device.LastSeenAt.Before(cutoff) {
			out = append(out, device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (d testDevices) ListSeenSince(_ context.Context, since time.Time) ([]model.Device, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []model.Device
	for _, device := range d.s.devices {
		if device.LastSeenAt != nil && !device.LastSeenAt.Before(since) {
			out = append(out, device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (d testDevices) CountByTenant(_ context.Context, tenantID uuid.UUID) (int64, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var count int64
	for _, device := range d.s.devices {
		if device.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (d testDevices) Delete(_ context.Context, tenantID, deviceID uuid.UUID) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	device, ok := d.s.devices[deviceID]
	if !ok || device.TenantID != tenantID {
		return sberrors.ErrDeviceNotFound
	}
	delete(d.s.devices, deviceID)
	return nil
}

// --- device groups ---

type testGroups struct{ s *TestStore }

func (g testGroups) InitialMigration() error { return nil }

func (g testGroups) Create(_ context.Context, group *model.DeviceGroup) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.s.groups[group.ID] = *group
	return nil
}

func (g testGroups) Get(_ context.Context, tenantID, groupID uuid.UUID) (*model.DeviceGroup, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	group, ok := g.s.groups[groupID]
	if !ok || group.TenantID != tenantID {
		return nil, sberrors.ErrNotFound
	}
	return &group, nil
}

func (g testGroups) List(_ context.Context, tenantID uuid.UUID) ([]model.DeviceGroup, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	var out []model.DeviceGroup
	for _, group := range g.s.groups {
		if group.TenantID == tenantID {
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g testGroups) ListDynamic(_ context.Context) ([]model.DeviceGroup, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	var out []model.DeviceGroup
	for _, group := range g.s.groups {
		if group.Type == api.GroupTypeDynamic {
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (g testGroups) Delete(_ context.Context, tenantID, groupID uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	group, ok := g.s.groups[groupID]
	if !ok || group.TenantID != tenantID {
		return sberrors.ErrNotFound
	}
	delete(g.s.groups, groupID)
	delete(g.s.groupMembers, groupID)
	return nil
}

func (g testGroups) AddMember(_ context.Context, groupID, deviceID uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	members, ok := g.s.groupMembers[groupID]
	if !ok {
		members = map[uuid.UUID]struct{}{}
		g.s.groupMembers[groupID] = members
	}
	members[deviceID] = struct{}{}
	return nil
}

func (g testGroups) RemoveMember(_ context.Context, groupID, deviceID uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	delete(g.s.groupMembers[groupID], deviceID)
	return nil
}

func (g testGroups) ListMemberIDs(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	var out []uuid.UUID
	for id := range g.s.groupMembers[groupID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i], out[j]) })
	return out, nil
}

// --- registration tokens ---

type testRegTokens struct{ s *TestStore }

func (r testRegTokens) InitialMigration() error { return nil }

func (r testRegTokens) Create(_ context.Context, token *model.RegistrationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.regTokens[token.ID] = *token
	return nil
}

func (r testRegTokens) GetByPrefix(_ context.Context, prefix string) (*model.RegistrationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, token := range r.s.regTokens {
		if token.Prefix == prefix {
			return &token, nil
		}
	}
	return nil, sberrors.ErrInvalidToken
}

func (r testRegTokens) MarkUsed(_ context.Context, tokenID, deviceID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.regTokens[tokenID]
	if !ok || token.IsUsed {
		return sberrors.ErrInvalidToken
	}
	token.IsUsed = true
	token.UsedByDevice = &deviceID
	usedAt := at
	token.UsedAt = &usedAt
	r.s.regTokens[tokenID] = token
	return nil
}

func (r testRegTokens) List(_ context.Context, tenantID uuid.UUID) ([]model.RegistrationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RegistrationToken
	for _, token := range r.s.regTokens {
		if token.TenantID == tenantID {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- device api keys ---

type testApiKeys struct{ s *TestStore }

func (k testApiKeys) InitialMigration() error { return nil }

func (k testApiKeys) Create(_ context.Context, key *model.DeviceApiKey) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	k.s.apiKeys[key.ID] = *key
	return nil
}

func (k testApiKeys) GetByPrefix(_ context.Context, prefix string) (*model.DeviceApiKey, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	for _, key := range k.s.apiKeys {
		if key.Prefix == prefix {
			return &key, nil
		}
	}
	return nil, sberrors.ErrInvalidApiKey
}

func (k testApiKeys) ListActiveByDevice(_ context.Context, deviceID uuid.UUID) ([]model.DeviceApiKey, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	var out []model.DeviceApiKey
	for _, key := range k.s.apiKeys {
		if key.DeviceID == deviceID && key.RevokedAt == nil {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (k testApiKeys) Revoke(_ context.Context, keyID uuid.UUID, at time.Time) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	key, ok := k.s.apiKeys[keyID]
	if !ok || key.RevokedAt != nil {
		return nil
	}
	revoked := at
	key.RevokedAt = &revoked
	k.s.apiKeys[keyID] = key
	return nil
}

func (k testApiKeys) UpdateLastUsed(_ context.Context, keyID uuid.UUID, at time.Time) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	key, ok := k.s.apiKeys[keyID]
	if !ok {
		return nil
	}
	used := at
	key.LastUsedAt = &used
	k.s.apiKeys[keyID] = key
	return nil
}

func (k testApiKeys) ListExpiringBefore(_ context.Context, cutoff time.Time, now time.Time) ([]model.DeviceApiKey, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	var out []model.DeviceApiKey
	for _, key := range k.s.apiKeys {
		if key.RevokedAt != nil || key.ExpiresAt == nil {
			continue
		}
		if key.ExpiresAt.After(now) && !key.ExpiresAt.After(cutoff) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (k testApiKeys) ListExpired(_ context.Context, now time.Time) ([]model.DeviceApiKey, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	var out []model.DeviceApiKey
	for _, key := range k.s.apiKeys {
		if key.RevokedAt != nil || key.ExpiresAt == nil {
			continue
		}
		if !key.ExpiresAt.After(now) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

// --- auth attempts ---

type testAuthAttempts struct{ s *TestStore }

func (a testAuthAttempts) InitialMigration() error { return nil }

func (a testAuthAttempts) Create(_ context.Context, attempt *model.AuthAttempt) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.authAttempts = append(a.s.authAttempts, *attempt)
	return nil
}

func (a testAuthAttempts) ListByDevice(_ context.Context, deviceID uuid.UUID, limit int) ([]model.AuthAttempt, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []model.AuthAttempt
	for _, attempt := range a.s.authAttempts {
		if attempt.DeviceID != nil && *attempt.DeviceID == deviceID {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- telemetry ---

type testTelemetry struct{ s *TestStore }

func (t testTelemetry) InitialMigration() error { return nil }

func (t testTelemetry) InsertHeartbeat(_ context.Context, hb *model.DeviceHeartbeat) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	hb.ID = t.s.nextSeq()
	t.s.heartbeats = append(t.s.heartbeats, *hb)
	return nil
}

func (t testTelemetry) InsertMetrics(_ context.Context, m *model.DeviceMetrics) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m.ID = t.s.nextSeq()
	t.s.metrics = append(t.s.metrics, *m)
	return nil
}

func (t testTelemetry) LatestHeartbeat(_ context.Context, deviceID uuid.UUID) (*model.DeviceHeartbeat, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var latest *model.DeviceHeartbeat
	for i := range t.s.heartbeats {
		hb := t.s.heartbeats[i]
		if hb.DeviceID != deviceID {
			continue
		}
		if latest == nil || hb.At.After(latest.At) {
			cp := hb
			latest = &cp
		}
	}
	if latest == nil {
		return nil, sberrors.ErrNotFound
	}
	return latest, nil
}

func (t testTelemetry) CountHeartbeatsSince(_ context.Context, deviceID uuid.UUID, since time.Time) (int64, int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var total, errored int64
	for _, hb := range t.s.heartbeats {
		if hb.DeviceID != deviceID || hb.At.Before(since) {
			continue
		}
		total++
		if hb.Status == "error" {
			errored++
		}
	}
	return total, errored, nil
}

func (t testTelemetry) LatestMetrics(_ context.Context, deviceID uuid.UUID) (*model.DeviceMetrics, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var latest *model.DeviceMetrics
	for i := range t.s.metrics {
		m := t.s.metrics[i]
		if m.DeviceID != deviceID {
			continue
		}
		if latest == nil || m.At.After(latest.At) {
			cp := m
			latest = &cp
		}
	}
	if latest == nil {
		return nil, sberrors.ErrNotFound
	}
	return latest, nil
}

func (t testTelemetry) DeleteOlderThan(_ context.Context, tenantID uuid.UUID, cutoff time.Time, batchSize int) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	inTenant := func(deviceID uuid.UUID) bool {
		device, ok := t.s.devices[deviceID]
		return ok && device.TenantID == tenantID
	}

	var deleted int64
	var keptHB []model.DeviceHeartbeat
	for _, hb := range t.s.heartbeats {
		if deleted < int64(batchSize) && inTenant(hb.DeviceID) && hb.At.Before(cutoff) {
			deleted++
			continue
		}
		keptHB = append(keptHB, hb)
	}
	t.s.heartbeats = keptHB

	var metricsDeleted int64
	var keptM []model.DeviceMetrics
	for _, m := range t.s.metrics {
		if metricsDeleted < int64(batchSize) && inTenant(m.DeviceID) && m.At.Before(cutoff) {
			metricsDeleted++
			continue
		}
		keptM = append(keptM, m)
	}
	t.s.metrics = keptM

	return deleted + metricsDeleted, nil
}

// --- health scores ---

type testHealthScores struct{ s *TestStore }

func (h testHealthScores) InitialMigration() error { return nil }

func (h testHealthScores) Insert(_ context.Context, score *model.DeviceHealthScore) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	score.ID = h.s.nextSeq()
	h.s.healthScores = append(h.s.healthScores, *score)
	return nil
}

func (h testHealthScores) Latest(_ context.Context, deviceID uuid.UUID) (*model.DeviceHealthScore, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	var latest *model.DeviceHealthScore
	for i := range h.s.healthScores {
		score := h.s.healthScores[i]
		if score.DeviceID != deviceID {
			continue
		}
		if latest == nil || score.At.After(latest.At) || (score.At.Equal(latest.At) && score.ID > latest.ID) {
			cp := score
			latest = &cp
		}
	}
	if latest == nil {
		return nil, sberrors.ErrNotFound
	}
	return latest, nil
}

// --- bundles ---

type testBundles struct{ s *TestStore }

func (b testBundles) InitialMigration() error { return nil }

func (b testBundles) Create(_ context.Context, bundle *model.Bundle) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, existing := range b.s.bundles {
		if existing.TenantID == bundle.TenantID && existing.Name == bundle.Name {
			return sberrors.ErrDuplicateName
		}
	}
	b.s.bundles[bundle.ID] = *bundle
	return nil
}

func (b testBundles) Get(_ context.Context, tenantID, bundleID uuid.UUID) (*model.Bundle, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bundle, ok := b.s.bundles[bundleID]
	if !ok || bundle.TenantID != tenantID {
		return nil, sberrors.ErrBundleNotFound
	}
	return &bundle, nil
}

func (b testBundles) GetByID(_ context.Context, bundleID uuid.UUID) (*model.Bundle, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bundle, ok := b.s.bundles[bundleID]
	if !ok {
		return nil, sberrors.ErrBundleNotFound
	}
	return &bundle, nil
}

func (b testBundles) List(_ context.Context, tenantID uuid.UUID) ([]model.Bundle, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []model.Bundle
	for _, bundle := range b.s.bundles {
		if bundle.TenantID == tenantID {
			out = append(out, bundle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b testBundles) UpdateLatestVersion(_ context.Context, bundleID uuid.UUID, version string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bundle, ok := b.s.bundles[bundleID]
	if !ok {
		return sberrors.ErrBundleNotFound
	}
	bundle.LatestVersion = &version
	b.s.bundles[bundleID] = bundle
	return nil
}

func (b testBundles) Delete(_ context.Context, tenantID, bundleID uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bundle, ok := b.s.bundles[bundleID]
	if !ok || bundle.TenantID != tenantID {
		return sberrors.ErrBundleNotFound
	}
	delete(b.s.bundles, bundleID)
	for id, version := range b.s.bundleVersions {
		if version.BundleID == bundleID {
			delete(b.s.bundleVersions, id)
		}
	}
	return nil
}

func (b testBundles) CreateVersion(_ context.Context, version *model.BundleVersion) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, existing := range b.s.bundleVersions {
		if existing.BundleID == version.BundleID && existing.Version == version.Version {
			return sberrors.ErrDuplicateName
		}
	}
	b.s.bundleVersions[version.ID] = *version
	return nil
}

func (b testBundles) GetVersion(_ context.Context, bundleID uuid.UUID, version string) (*model.BundleVersion, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, existing := range b.s.bundleVersions {
		if existing.BundleID == bundleID && existing.Version == version {
			return &existing, nil
		}
	}
	return nil, sberrors.ErrNotFound
}

func (b testBundles) ListVersions(_ context.Context, bundleID uuid.UUID) ([]model.BundleVersion, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []model.BundleVersion
	for _, version := range b.s.bundleVersions {
		if version.BundleID == bundleID {
			out = append(out, version)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- desired state ---

type testDesiredStates struct{ s *TestStore }

func (d testDesiredStates) InitialMigration() error { return nil }

func (d testDesiredStates) Upsert(_ context.Context, state *model.DeviceDesiredState) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.desiredStates[state.DeviceID] = *state
	return nil
}

func (d testDesiredStates) Get(_ context.Context, deviceID uuid.UUID) (*model.DeviceDesiredState, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	state, ok := d.s.desiredStates[deviceID]
	if !ok {
		return nil, sberrors.ErrNotFound
	}
	return &state, nil
}

func (d testDesiredStates) Delete(_ context.Context, deviceID uuid.UUID) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	delete(d.s.desiredStates, deviceID)
	return nil
}

func (d testDesiredStates) ListByBundle(_ context.Context, bundleID uuid.UUID) ([]model.DeviceDesiredState, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []model.DeviceDesiredState
	for _, state := range d.s.desiredStates {
		if state.BundleID == bundleID {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].DeviceID, out[j].DeviceID) })
	return out, nil
}

// --- reported status ---

type testReports struct{ s *TestStore }

func (r testReports) InitialMigration() error { return nil }

func (r testReports) Get(_ context.Context, deviceID, bundleID uuid.UUID, version string) (*model.ReportedStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, report := range r.s.reports {
		if report.DeviceID == deviceID && report.BundleID == bundleID && report.Version == version {
			return &report, nil
		}
	}
	return nil, sberrors.ErrNotFound
}

// Save upserts on the (device, bundle, version) tuple like the unique
// index does in the real store.
func (r testReports) Save(_ context.Context, status *model.ReportedStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, report := range r.s.reports {
		if report.DeviceID == status.DeviceID && report.BundleID == status.BundleID && report.Version == status.Version {
			updated := *status
			updated.ID = id
			r.s.reports[id] = updated
			return nil
		}
	}
	if status.ID == uuid.Nil {
		status.ID = uuid.New()
	}
	r.s.reports[status.ID] = *status
	return nil
}

func (r testReports) ListRecentTerminalByDevice(_ context.Context, deviceID uuid.UUID, limit int) ([]model.ReportedStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ReportedStatus
	for _, report := range r.s.reports {
		if report.DeviceID == deviceID && report.State.Terminal() {
			out = append(out, report)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- rollouts ---

type testRollouts struct{ s *TestStore }

func (r testRollouts) InitialMigration() error { return nil }

func (r testRollouts) Create(_ context.Context, rollout *model.Rollout, phases []model.RolloutPhase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rollouts[rollout.ID] = *rollout
	for _, phase := range phases {
		r.s.phases[phase.ID] = phase
	}
	return nil
}

func (r testRollouts) Get(_ context.Context, tenantID, rolloutID uuid.UUID) (*model.Rollout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rollout, ok := r.s.rollouts[rolloutID]
	if !ok || rollout.TenantID != tenantID {
		return nil, sberrors.ErrRolloutNotFound
	}
	return &rollout, nil
}

func (r testRollouts) GetByID(_ context.Context, rolloutID uuid.UUID) (*model.Rollout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rollout, ok := r.s.rollouts[rolloutID]
	if !ok {
		return nil, sberrors.ErrRolloutNotFound
	}
	return &rollout, nil
}

func (r testRollouts) List(_ context.Context, tenantID uuid.UUID) ([]model.Rollout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Rollout
	for _, rollout := range r.s.rollouts {
		if rollout.TenantID == tenantID {
			out = append(out, rollout)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r testRollouts) ListByStatus(_ context.Context, statuses []api.RolloutStatus) ([]model.Rollout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Rollout
	for _, rollout := range r.s.rollouts {
		for _, status := range statuses {
			if rollout.Status == status {
				out = append(out, rollout)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r testRollouts) ExistsActiveForBundle(_ context.Context, bundleID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rollout := range r.s.rollouts {
		if rollout.BundleID == bundleID && rollout.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r testRollouts) Update(_ context.Context, rollout *model.Rollout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rollouts[rollout.ID] = *rollout
	return nil
}

func (r testRollouts) Delete(_ context.Context, tenantID, rolloutID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rollout, ok := r.s.rollouts[rolloutID]
	if !ok || rollout.TenantID != tenantID {
		return sberrors.ErrNotFound
	}
	delete(r.s.rollouts, rolloutID)
	for id, phase := range r.s.phases {
		if phase.RolloutID == rolloutID {
			delete(r.s.phases, id)
		}
	}
	for id, assignment := range r.s.assignments {
		if assignment.RolloutID == rolloutID {
			delete(r.s.assignments, id)
		}
	}
	return nil
}

func (r testRollouts) ListPhases(_ context.Context, rolloutID uuid.UUID) ([]model.RolloutPhase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RolloutPhase
	for _, phase := range r.s.phases {
		if phase.RolloutID == rolloutID {
			out = append(out, phase)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseNumber < out[j].PhaseNumber })
	return out, nil
}

func (r testRollouts) UpdatePhase(_ context.Context, phase *model.RolloutPhase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.phases[phase.ID] = *phase
	return nil
}

func (r testRollouts) CreateAssignment(_ context.Context, assignment *model.RolloutDeviceAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.assignments {
		if existing.RolloutID == assignment.RolloutID && existing.DeviceID == assignment.DeviceID {
			return sberrors.ErrDuplicateName
		}
	}
	r.s.assignments[assignment.ID] = *assignment
	return nil
}

func (r testRollouts) ListAssignments(_ context.Context, rolloutID uuid.UUID) ([]model.RolloutDeviceAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RolloutDeviceAssignment
	for _, assignment := range r.s.assignments {
		if assignment.RolloutID == rolloutID {
			out = append(out, assignment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].DeviceID, out[j].DeviceID) })
	return out, nil
}

func (r testRollouts) ListPhaseAssignments(_ context.Context, phaseID uuid.UUID) ([]model.RolloutDeviceAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RolloutDeviceAssignment
	for _, assignment := range r.s.assignments {
		if assignment.PhaseID == phaseID {
			out = append(out, assignment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].DeviceID, out[j].DeviceID) })
	return out, nil
}

func (r testRollouts) UpdateAssignment(_ context.Context, assignment *model.RolloutDeviceAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.assignments[assignment.ID] = *assignment
	return nil
}

// --- alerts ---

type testAlerts struct{ s *TestStore }

func (a testAlerts) InitialMigration() error { return nil }

func (a testAlerts) Create(_ context.Context, alert *model.Alert) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.alerts[alert.ID] = *alert
	return nil
}

func (a testAlerts) Get(_ context.Context, tenantID, alertID uuid.UUID) (*model.Alert, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	alert, ok := a.s.alerts[alertID]
	if !ok || alert.TenantID != tenantID {
		return nil, sberrors.ErrNotFound
	}
	return &alert, nil
}

func (a testAlerts) FindActive(_ context.Context, deviceID, rolloutID *uuid.UUID, alertType string) (*model.Alert, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, alert := range a.s.alerts {
		if alert.Type != alertType || alert.Status != api.AlertActive {
			continue
		}
		if deviceID != nil && (alert.DeviceID == nil || *alert.DeviceID != *deviceID) {
			continue
		}
		if rolloutID != nil && (alert.RolloutID == nil || *alert.RolloutID != *rolloutID) {
			continue
		}
		return &alert, nil
	}
	return nil, sberrors.ErrNotFound
}

func (a testAlerts) List(_ context.Context, tenantID uuid.UUID, status *api.AlertStatus) ([]model.Alert, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []model.Alert
	for _, alert := range a.s.alerts {
		if alert.TenantID != tenantID {
			continue
		}
		if status != nil && alert.Status != *status {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (a testAlerts) ListActive(_ context.Context) ([]model.Alert, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []model.Alert
	for _, alert := range a.s.alerts {
		if alert.Status == api.AlertActive {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (a testAlerts) Update(_ context.Context, alert *model.Alert) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.alerts[alert.ID] = *alert
	return nil
}

// --- notifications ---

type testNotifications struct{ s *TestStore }

func (n testNotifications) InitialMigration() error { return nil }

func (n testNotifications) Create(_ context.Context, notification *model.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	n.s.notifications = append(n.s.notifications, *notification)
	return nil
}

func (n testNotifications) List(_ context.Context, tenantID uuid.UUID, limit int) ([]model.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var out []model.Notification
	for _, notification := range n.s.notifications {
		if notification.TenantID == tenantID {
			out = append(out, notification)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
