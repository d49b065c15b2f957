package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/stretchr/testify/require"
)

var (
	tokenPattern  = regexp.MustCompile(`^sbt_[0-9a-f]{8}_[A-Za-z0-9_-]{22}$`)
	apiKeyPattern = regexp.MustCompile(`^sb_device_[0-9a-f]{8}_[A-Za-z0-9_-]{22}$`)
)

func TestCreateRegistrationToken(t *testing.T) {
	h, st, fake := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)

	resp, err := h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID:     tenantID,
		ValidityDays: 7,
	}, "ops@acme.io")
	require.NoError(t, err)
	require.Regexp(t, tokenPattern, resp.Token)
	require.Equal(t, fake.Now().AddDate(0, 0, 7), resp.ExpiresAt)

	stored := st.regTokens[resp.TokenID]
	require.Equal(t, resp.Prefix, stored.Prefix)
	require.Equal(t, "ops@acme.io", stored.CreatedBy)
	require.False(t, stored.IsUsed)
	// only the hash is persisted
	require.NotContains(t, stored.Hash, resp.Token)

	_, err = h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID:     tenantID,
		ValidityDays: 0,
	}, "ops@acme.io")
	require.ErrorIs(t, err, sberrors.ErrInvalidRequest)
}

func TestRegisterDevice(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)

	token, err := h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID: tenantID, ValidityDays: 7,
	}, "ops")
	require.NoError(t, err)

	deviceID := uuid.New()
	resp, err := h.RegisterDevice(ctx, tenantID, api.RegisterDeviceRequest{
		DeviceID: deviceID,
		Token:    token.Token,
		Name:     "gateway-1",
	})
	require.NoError(t, err)
	require.Equal(t, deviceID, resp.DeviceID)
	require.Equal(t, api.RegistrationPending, resp.RegistrationStatus)
	require.Equal(t, api.OnlineStatusOffline, resp.OnlineStatus)

	// the token is single-use
	_, err = h.RegisterDevice(ctx, tenantID, api.RegisterDeviceRequest{
		DeviceID: uuid.New(),
		Token:    token.Token,
		Name:     "gateway-2",
	})
	require.ErrorIs(t, err, sberrors.ErrInvalidToken)
}

func TestRegisterDeviceRejectsWrongTenant(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	otherTenant := seedTenant(st, 10)

	token, err := h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID: tenantID, ValidityDays: 7,
	}, "ops")
	require.NoError(t, err)

	_, err = h.RegisterDevice(ctx, otherTenant, api.RegisterDeviceRequest{
		DeviceID: uuid.New(),
		Token:    token.Token,
	})
	require.ErrorIs(t, err, sberrors.ErrInvalidToken)
}

func TestRegisterDeviceRejectsExpiredToken(t *testing.T) {
	h, st, fake := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)

	token, err := h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID: tenantID, ValidityDays: 1,
	}, "ops")
	require.NoError(t, err)

	fake.Advance(25 * time.Hour)
	_, err = h.RegisterDevice(ctx, tenantID, api.RegisterDeviceRequest{
		DeviceID: uuid.New(),
		Token:    token.Token,
	})
	require.ErrorIs(t, err, sberrors.ErrInvalidToken)
}

func TestRegisterDeviceQuotaDenialLeavesTokenUnused(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 1)
	seedDevice(st, tenantID, api.RegistrationApproved)

	token, err := h.CreateRegistrationToken(ctx, api.CreateRegistrationTokenRequest{
		TenantID: tenantID, ValidityDays: 7,
	}, "ops")
	require.NoError(t, err)

	_, err = h.RegisterDevice(ctx, tenantID, api.RegisterDeviceRequest{
		DeviceID: uuid.New(),
		Token:    token.Token,
	})
	require.ErrorIs(t, err, sberrors.ErrDeviceQuotaExceeded)
	require.False(t, st.regTokens[token.TokenID].IsUsed)

	// after the quota is raised the same token still redeems
	tenant := st.tenants[tenantID]
	tenant.MaxDevices = 2
	st.tenants[tenantID] = tenant

	_, err = h.RegisterDevice(ctx, tenantID, api.RegisterDeviceRequest{
		DeviceID: uuid.New(),
		Token:    token.Token,
	})
	require.NoError(t, err)
	require.True(t, st.regTokens[token.TokenID].IsUsed)
}

func TestApproveDevice(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	key, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)
	require.Regexp(t, apiKeyPattern, key.ApiKey)
	require.NotNil(t, key.ExpiresAt)

	device := st.devices[deviceID]
	require.Equal(t, api.RegistrationApproved, device.RegistrationStatus)

	// re-approval is a no-op: no new key, no plaintext
	again, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)
	require.Nil(t, again)

	identity, err := h.ValidateApiKey(ctx, key.ApiKey, "10.0.0.1", "agent/1.0")
	require.NoError(t, err)
	require.Equal(t, deviceID, identity.DeviceID)
	require.Equal(t, tenantID, identity.TenantID)
}

func TestApproveRejectedDevice(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationRejected)

	_, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.ErrorIs(t, err, sberrors.ErrInvalidRequest)
}

func TestRejectDevice(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	require.NoError(t, h.RejectDevice(ctx, tenantID, deviceID))
	require.Equal(t, api.RegistrationRejected, st.devices[deviceID].RegistrationStatus)
	// rejecting twice is a no-op
	require.NoError(t, h.RejectDevice(ctx, tenantID, deviceID))

	approved := seedDevice(st, tenantID, api.RegistrationApproved)
	require.ErrorIs(t, h.RejectDevice(ctx, tenantID, approved), sberrors.ErrInvalidRequest)
}

func TestRotateApiKeyRevokesActiveKeys(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	first, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)

	second, err := h.RotateApiKey(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)
	require.NotEqual(t, first.Prefix, second.Prefix)

	_, err = h.ValidateApiKey(ctx, first.ApiKey, "", "")
	require.ErrorIs(t, err, sberrors.ErrInvalidApiKey)

	identity, err := h.ValidateApiKey(ctx, second.ApiKey, "", "")
	require.NoError(t, err)
	require.Equal(t, deviceID, identity.DeviceID)
}

func TestRevokeApiKeys(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	key, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)
	require.NoError(t, h.RevokeApiKeys(ctx, tenantID, deviceID))

	_, err = h.ValidateApiKey(ctx, key.ApiKey, "", "")
	require.ErrorIs(t, err, sberrors.ErrInvalidApiKey)
}

func TestValidateApiKeyAuditsEveryOutcome(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	key, err := h.ApproveDevice(ctx, tenantID, deviceID, 0)
	require.NoError(t, err)

	_, err = h.ValidateApiKey(ctx, "garbage", "10.0.0.9", "")
	require.ErrorIs(t, err, sberrors.ErrInvalidApiKey)

	wrongSecret := "sb_device_" + key.Prefix + "_AAAAAAAAAAAAAAAAAAAAAA"
	_, err = h.ValidateApiKey(ctx, wrongSecret, "10.0.0.9", "")
	require.ErrorIs(t, err, sberrors.ErrInvalidApiKey)

	_, err = h.ValidateApiKey(ctx, key.ApiKey, "10.0.0.9", "")
	require.NoError(t, err)

	require.Len(t, st.authAttempts, 3)
	require.Equal(t, "malformed api key", st.authAttempts[0].FailureReason)
	require.Equal(t, "hash mismatch", st.authAttempts[1].FailureReason)
	require.True(t, st.authAttempts[2].Success)
}

func TestValidateApiKeyRejectsExpired(t *testing.T) {
	h, st, fake := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	key, err := h.ApproveDevice(ctx, tenantID, deviceID, 1)
	require.NoError(t, err)

	fake.Advance(48 * time.Hour)
	_, err = h.ValidateApiKey(ctx, key.ApiKey, "", "")
	require.ErrorIs(t, err, sberrors.ErrInvalidApiKey)
}

func TestCheckApiKeyExpiry(t *testing.T) {
	h, st, fake := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationPending)

	// expires in 3 days, inside the 7-day warning window
	_, err := h.ApproveDevice(ctx, tenantID, deviceID, 3)
	require.NoError(t, err)

	require.NoError(t, h.CheckApiKeyExpiry(ctx))
	require.Len(t, st.notifications, 1)
	require.Equal(t, "apikey", st.notifications[0].Channel)
	require.Contains(t, st.notifications[0].Payload, api.AlertTypeApiKeyExpiring)

	fake.Advance(4 * 24 * time.Hour)
	require.NoError(t, h.CheckApiKeyExpiry(ctx))
	require.Len(t, st.notifications, 2)
	require.Contains(t, st.notifications[1].Payload, api.AlertTypeApiKeyExpired)
}
