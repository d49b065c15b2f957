package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type RegistrationToken interface {
	Create(ctx context.Context, token *model.RegistrationToken) error
	GetByPrefix(ctx context.Context, prefix string) (*model.RegistrationToken, error)
	MarkUsed(ctx context.Context, tokenID, deviceID uuid.UUID, at time.Time) error
	List(ctx context.Context, tenantID uuid.UUID) ([]model.RegistrationToken, error)
	InitialMigration() error
}

type RegistrationTokenStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ RegistrationToken = (*RegistrationTokenStore)(nil)

func NewRegistrationToken(db *gorm.DB, log logrus.FieldLogger) RegistrationToken {
	return &RegistrationTokenStore{db: db, log: log}
}

func (s *RegistrationTokenStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.RegistrationToken{})
}

func (s *RegistrationTokenStore) Create(ctx context.Context, token *model.RegistrationToken) error {
	result := s.db.WithContext(ctx).Create(token)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *RegistrationTokenStore) GetByPrefix(ctx context.Context, prefix string) (*model.RegistrationToken, error) {
	var token model.RegistrationToken
	result := s.db.WithContext(ctx).Where("prefix = ?", prefix).First(&token)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrInvalidToken
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &token, nil
}

// MarkUsed consumes the token; the WHERE clause on is_used makes
// concurrent redeems lose cleanly.
func (s *RegistrationTokenStore) MarkUsed(ctx context.Context, tokenID, deviceID uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.RegistrationToken{}).
		Where("id = ? AND is_used = ?", tokenID, false).
		Updates(map[string]interface{}{
			"is_used":        true,
			"used_by_device": deviceID,
			"used_at":        at,
		})
	if result.Error != nil {
		return sberrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return sberrors.ErrInvalidToken
	}
	return nil
}

func (s *RegistrationTokenStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.RegistrationToken, error) {
	var tokens []model.RegistrationToken
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&tokens)
	return tokens, sberrors.ErrorFromGormError(result.Error)
}

type DeviceApiKey interface {
	Create(ctx context.Context, key *model.DeviceApiKey) error
	GetByPrefix(ctx context.Context, prefix string) (*model.DeviceApiKey, error)
	ListActiveByDevice(ctx context.Context, deviceID uuid.UUID) ([]model.DeviceApiKey, error)
	Revoke(ctx context.Context, keyID uuid.UUID, at time.Time) error
	UpdateLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error
	ListExpiringBefore(ctx context.Context, cutoff time.Time, now time.Time) ([]model.DeviceApiKey, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.DeviceApiKey, error)
	InitialMigration() error
}

type DeviceApiKeyStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ DeviceApiKey = (*DeviceApiKeyStore)(nil)

func NewDeviceApiKey(db *gorm.DB, log logrus.FieldLogger) DeviceApiKey {
	return &DeviceApiKeyStore{db: db, log: log}
}

func (s *DeviceApiKeyStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.DeviceApiKey{})
}

func (s *DeviceApiKeyStore) Create(ctx context.Context, key *model.DeviceApiKey) error {
	result := s.db.WithContext(ctx).Create(key)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceApiKeyStore) GetByPrefix(ctx context.Context, prefix string) (*model.DeviceApiKey, error) {
	var key model.DeviceApiKey
	result := s.db.WithContext(ctx).Where("prefix = ?", prefix).First(&key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrInvalidApiKey
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &key, nil
}

func (s *DeviceApiKeyStore) ListActiveByDevice(ctx context.Context, deviceID uuid.UUID) ([]model.DeviceApiKey, error) {
	var keys []model.DeviceApiKey
	result := s.db.WithContext(ctx).
		Where("device_id = ? AND revoked_at IS NULL", deviceID).
		Find(&keys)
	return keys, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceApiKeyStore) Revoke(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.DeviceApiKey{}).
		Where("id = ? AND revoked_at IS NULL", keyID).
		Update("revoked_at", at)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceApiKeyStore) UpdateLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.DeviceApiKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", at)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceApiKeyStore) ListExpiringBefore(ctx context.Context, cutoff time.Time, now time.Time) ([]model.DeviceApiKey, error) {
	var keys []model.DeviceApiKey
	result := s.db.WithContext(ctx).
		Where("revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", now, cutoff).
		Find(&keys)
	return keys, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceApiKeyStore) ListExpired(ctx context.Context, now time.Time) ([]model.DeviceApiKey, error) {
	var keys []model.DeviceApiKey
	result := s.db.WithContext(ctx).
		Where("revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Find(&keys)
	return keys, sberrors.ErrorFromGormError(result.Error)
}

type AuthAttempt interface {
	Create(ctx context.Context, attempt *model.AuthAttempt) error
	ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]model.AuthAttempt, error)
	InitialMigration() error
}

type AuthAttemptStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ AuthAttempt = (*AuthAttemptStore)(nil)

func NewAuthAttempt(db *gorm.DB, log logrus.FieldLogger) AuthAttempt {
	return &AuthAttemptStore{db: db, log: log}
}

func (s *AuthAttemptStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.AuthAttempt{})
}

func (s *AuthAttemptStore) Create(ctx context.Context, attempt *model.AuthAttempt) error {
	result := s.db.WithContext(ctx).Create(attempt)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *AuthAttemptStore) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]model.AuthAttempt, error) {
	var attempts []model.AuthAttempt
	query := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&attempts)
	return attempts, sberrors.ErrorFromGormError(result.Error)
}
