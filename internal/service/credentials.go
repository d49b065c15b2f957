package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/signalbeam/signalbeam/pkg/random"
	"golang.org/x/crypto/bcrypt"
)

const (
	registrationTokenScheme = "sbt"
	deviceApiKeyScheme      = "sb_device"
	tokenPrefixBytes        = 4  // 8 hex chars
	tokenSecretBytes        = 16 // 22 base64url chars
	maxMetadataBytes        = 4000
)

// DeviceIdentity is what a successful API-key validation yields.
type DeviceIdentity struct {
	DeviceID     uuid.UUID
	TenantID     uuid.UUID
	OnlineStatus api.OnlineStatus
}

// CreateRegistrationToken mints a single-use token and returns the
// plaintext exactly once; only the bcrypt hash is stored.
func (h *ServiceHandler) CreateRegistrationToken(ctx context.Context, req api.CreateRegistrationTokenRequest, createdBy string) (*api.RegistrationTokenResponse, error) {
	if req.ValidityDays <= 0 {
		return nil, fmt.Errorf("%w: validityDays must be positive", sberrors.ErrInvalidRequest)
	}

	prefix, secret, err := h.newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	token := model.RegistrationToken{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		Prefix:      prefix,
		Hash:        string(hash),
		ExpiresAt:   now.AddDate(0, 0, req.ValidityDays),
		CreatedBy:   createdBy,
		Description: req.Description,
		CreatedAt:   now,
	}
	if err := h.store.RegistrationToken().Create(ctx, &token); err != nil {
		return nil, err
	}

	return &api.RegistrationTokenResponse{
		TokenID:   token.ID,
		Token:     fmt.Sprintf("%s_%s_%s", registrationTokenScheme, prefix, secret),
		Prefix:    prefix,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// RegisterDevice redeems a registration token. The token lookup, hash
// check, quota gate, device creation and token consumption are one
// logical transaction: a failure at any step leaves no partial effect.
func (h *ServiceHandler) RegisterDevice(ctx context.Context, tenantID uuid.UUID, req api.RegisterDeviceRequest) (*api.DeviceResponse, error) {
	if req.DeviceID == uuid.Nil {
		return nil, fmt.Errorf("%w: deviceId is required", sberrors.ErrInvalidRequest)
	}
	if len(req.Metadata) > maxMetadataBytes {
		return nil, fmt.Errorf("%w: metadata exceeds %d bytes", sberrors.ErrInvalidRequest, maxMetadataBytes)
	}

	prefix, secret, err := splitCredential(req.Token, registrationTokenScheme)
	if err != nil {
		return nil, sberrors.ErrInvalidToken
	}

	now := h.clock.Now()
	var created *model.Device
	err = h.store.Transaction(ctx, func(tx store.Store) error {
		token, err := tx.RegistrationToken().GetByPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if token.IsUsed || !now.Before(token.ExpiresAt) || token.TenantID != tenantID {
			return sberrors.ErrInvalidToken
		}
		if err := bcrypt.CompareHashAndPassword([]byte(token.Hash), []byte(secret)); err != nil {
			h.auditAuth(ctx, &model.AuthAttempt{
				ID:            uuid.New(),
				At:            now,
				Success:       false,
				FailureReason: "registration token hash mismatch",
				ApiKeyPrefix:  prefix,
			})
			return sberrors.ErrInvalidToken
		}

		// Quota denial must not consume the token.
		if err := h.quota.CheckDeviceQuota(ctx, tenantID); err != nil {
			return err
		}

		device := model.Device{
			ID:                 req.DeviceID,
			TenantID:           tenantID,
			Name:               req.Name,
			Metadata:           req.Metadata,
			RegistrationStatus: api.RegistrationPending,
			OnlineStatus:       api.OnlineStatusOffline,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Device().Create(ctx, &device); err != nil {
			return err
		}
		if err := tx.RegistrationToken().MarkUsed(ctx, token.ID, device.ID, now); err != nil {
			return err
		}
		created = &device
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.events.Publish(ctx, events.SubjectDeviceEvents+"registered", created.ToApiResource())
	resp := created.ToApiResource()
	return &resp, nil
}

// ApproveDevice transitions the device to Approved and mints its API
// key. Re-approving an Approved device is a no-op; the existing keys
// stay valid and no plaintext is returned.
func (h *ServiceHandler) ApproveDevice(ctx context.Context, tenantID, deviceID uuid.UUID, expirationDays int) (*api.ApiKeyResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	switch device.RegistrationStatus {
	case api.RegistrationRejected:
		return nil, fmt.Errorf("%w: device was rejected", sberrors.ErrInvalidRequest)
	case api.RegistrationApproved:
		return nil, nil
	}

	if expirationDays <= 0 {
		expirationDays = h.cfg.Auth.ApiKeyExpirationDays
	}

	var resp *api.ApiKeyResponse
	err = h.store.Transaction(ctx, func(tx store.Store) error {
		device.RegistrationStatus = api.RegistrationApproved
		device.UpdatedAt = h.clock.Now()
		if err := tx.Device().Update(ctx, device); err != nil {
			return err
		}
		resp, err = h.mintApiKey(ctx, tx, deviceID, expirationDays)
		return err
	})
	if err != nil {
		return nil, err
	}

	h.events.Publish(ctx, events.SubjectDeviceEvents+"approved", device.ToApiResource())
	return resp, nil
}

// RejectDevice is terminal for the registration.
func (h *ServiceHandler) RejectDevice(ctx context.Context, tenantID, deviceID uuid.UUID) error {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if device.RegistrationStatus == api.RegistrationApproved {
		return fmt.Errorf("%w: device is already approved", sberrors.ErrInvalidRequest)
	}
	if device.RegistrationStatus == api.RegistrationRejected {
		return nil
	}
	device.RegistrationStatus = api.RegistrationRejected
	device.UpdatedAt = h.clock.Now()
	if err := h.store.Device().Update(ctx, device); err != nil {
		return err
	}
	h.events.Publish(ctx, events.SubjectDeviceEvents+"rejected", device.ToApiResource())
	return nil
}

// RotateApiKey mints a new key and revokes all active keys atomically.
func (h *ServiceHandler) RotateApiKey(ctx context.Context, tenantID, deviceID uuid.UUID, expirationDays int) (*api.ApiKeyResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if device.RegistrationStatus != api.RegistrationApproved {
		return nil, sberrors.ErrDeviceNotApproved
	}
	if expirationDays <= 0 {
		expirationDays = h.cfg.Auth.ApiKeyExpirationDays
	}

	now := h.clock.Now()
	var resp *api.ApiKeyResponse
	err = h.store.Transaction(ctx, func(tx store.Store) error {
		existing, err := tx.DeviceApiKey().ListActiveByDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		for _, key := range existing {
			if err := tx.DeviceApiKey().Revoke(ctx, key.ID, now); err != nil {
				return err
			}
		}
		resp, err = h.mintApiKey(ctx, tx, deviceID, expirationDays)
		return err
	})
	return resp, err
}

// RevokeApiKeys revokes every active key of the device.
func (h *ServiceHandler) RevokeApiKeys(ctx context.Context, tenantID, deviceID uuid.UUID) error {
	if _, err := h.store.Device().Get(ctx, tenantID, deviceID); err != nil {
		return err
	}
	now := h.clock.Now()
	keys, err := h.store.DeviceApiKey().ListActiveByDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := h.store.DeviceApiKey().Revoke(ctx, key.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// ValidateApiKey authenticates a device request. Every outcome is
// recorded in the audit ledger; audit failures never fail the request.
func (h *ServiceHandler) ValidateApiKey(ctx context.Context, plaintext, observedIP, userAgent string) (*DeviceIdentity, error) {
	now := h.clock.Now()
	attempt := model.AuthAttempt{
		ID:        uuid.New(),
		IPAddress: observedIP,
		UserAgent: userAgent,
		At:        now,
	}

	prefix, secret, err := splitCredential(plaintext, deviceApiKeyScheme)
	if err != nil {
		attempt.FailureReason = "malformed api key"
		h.auditAuth(ctx, &attempt)
		return nil, sberrors.ErrInvalidApiKey
	}
	attempt.ApiKeyPrefix = prefix

	key, err := h.store.DeviceApiKey().GetByPrefix(ctx, prefix)
	if err != nil || !key.Active(now) {
		attempt.FailureReason = "no active key for prefix"
		h.auditAuth(ctx, &attempt)
		return nil, sberrors.ErrInvalidApiKey
	}
	attempt.DeviceID = lo.ToPtr(key.DeviceID)

	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		attempt.FailureReason = "hash mismatch"
		h.auditAuth(ctx, &attempt)
		return nil, sberrors.ErrInvalidApiKey
	}

	device, err := h.store.Device().GetByID(ctx, key.DeviceID)
	if err != nil {
		attempt.FailureReason = "device not found"
		h.auditAuth(ctx, &attempt)
		return nil, sberrors.ErrInvalidApiKey
	}
	if device.RegistrationStatus != api.RegistrationApproved {
		attempt.FailureReason = "device not approved"
		h.auditAuth(ctx, &attempt)
		return nil, sberrors.ErrDeviceNotApproved
	}

	// best-effort; a failed write must not fail authentication
	if err := h.store.DeviceApiKey().UpdateLastUsed(ctx, key.ID, now); err != nil {
		h.log.WithError(err).Warn("updating api key last_used_at")
	}
	attempt.Success = true
	h.auditAuth(ctx, &attempt)

	return &DeviceIdentity{
		DeviceID:     device.ID,
		TenantID:     device.TenantID,
		OnlineStatus: device.OnlineStatus,
	}, nil
}

// CheckApiKeyExpiry is the read-only sweeper body. It emits a warning
// notification for keys expiring within the warning window and an
// expired notification for keys past their expiry. Keys are never
// modified.
func (h *ServiceHandler) CheckApiKeyExpiry(ctx context.Context) error {
	now := h.clock.Now()
	warningCutoff := now.AddDate(0, 0, h.cfg.Auth.ApiKeyWarningDays)

	expiring, err := h.store.DeviceApiKey().ListExpiringBefore(ctx, warningCutoff, now)
	if err != nil {
		return err
	}
	for _, key := range expiring {
		h.notifyKeyEvent(ctx, key, api.AlertTypeApiKeyExpiring)
	}

	expired, err := h.store.DeviceApiKey().ListExpired(ctx, now)
	if err != nil {
		return err
	}
	for _, key := range expired {
		h.notifyKeyEvent(ctx, key, api.AlertTypeApiKeyExpired)
	}
	return nil
}

func (h *ServiceHandler) notifyKeyEvent(ctx context.Context, key model.DeviceApiKey, eventType string) {
	device, err := h.store.Device().GetByID(ctx, key.DeviceID)
	if err != nil {
		h.log.WithError(err).Warnf("resolving device for key %s", key.Prefix)
		return
	}
	notification := model.Notification{
		ID:        uuid.New(),
		TenantID:  device.TenantID,
		Channel:   "apikey",
		Payload:   fmt.Sprintf(`{"type":%q,"deviceId":%q,"prefix":%q}`, eventType, key.DeviceID, key.Prefix),
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.Notification().Create(ctx, &notification); err != nil {
		h.log.WithError(err).Warn("writing api key expiry notification")
	}
	h.events.Publish(ctx, events.SubjectDeviceEvents+eventType, notification)
}

func (h *ServiceHandler) mintApiKey(ctx context.Context, tx store.Store, deviceID uuid.UUID, expirationDays int) (*api.ApiKeyResponse, error) {
	prefix, secret, err := h.newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	key := model.DeviceApiKey{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Prefix:    prefix,
		Hash:      string(hash),
		ExpiresAt: lo.ToPtr(now.AddDate(0, 0, expirationDays)),
		CreatedAt: now,
	}
	if err := tx.DeviceApiKey().Create(ctx, &key); err != nil {
		return nil, err
	}

	return &api.ApiKeyResponse{
		KeyID:     key.ID,
		ApiKey:    fmt.Sprintf("%s_%s_%s", deviceApiKeyScheme, prefix, secret),
		Prefix:    prefix,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

func (h *ServiceHandler) newSecret() (prefix, secret string, err error) {
	prefix, err = random.Hex(h.rand, tokenPrefixBytes)
	if err != nil {
		return "", "", err
	}
	secret, err = random.Base64URL(h.rand, tokenSecretBytes)
	if err != nil {
		return "", "", err
	}
	return prefix, secret, nil
}

// auditAuth appends to the auth ledger fire-and-forget.
func (h *ServiceHandler) auditAuth(ctx context.Context, attempt *model.AuthAttempt) {
	if err := h.store.AuthAttempt().Create(ctx, attempt); err != nil {
		h.log.WithError(err).Warn("writing auth attempt")
	}
}

// splitCredential parses "<scheme>_<prefix>_<secret>", splitting on the
// last underscore so the scheme may itself contain one.
func splitCredential(credential, scheme string) (prefix, secret string, err error) {
	idx := strings.LastIndex(credential, "_")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed credential")
	}
	head, secret := credential[:idx], credential[idx+1:]
	expectedHead := scheme + "_"
	if !strings.HasPrefix(head, expectedHead) || secret == "" {
		return "", "", fmt.Errorf("malformed credential")
	}
	prefix = head[len(expectedHead):]
	if len(prefix) != tokenPrefixBytes*2 {
		return "", "", fmt.Errorf("malformed credential")
	}
	return prefix, secret, nil
}
