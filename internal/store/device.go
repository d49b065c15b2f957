package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ListDevicesParams struct {
	Status  *api.RegistrationStatus
	GroupID *uuid.UUID
	Limit   int
	Offset  int
}

type Device interface {
	Create(ctx context.Context, device *model.Device) error
	Get(ctx context.Context, tenantID, deviceID uuid.UUID) (*model.Device, error)
	GetByID(ctx context.Context, deviceID uuid.UUID) (*model.Device, error)
	Update(ctx context.Context, device *model.Device) error
	UpdateOnlineStatus(ctx context.Context, deviceID uuid.UUID, status api.OnlineStatus) error
	TouchLastSeen(ctx context.Context, deviceID uuid.UUID, at time.Time) error
	List(ctx context.Context, tenantID uuid.UUID, params ListDevicesParams) ([]model.Device, int64, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Device, error)
	ListOnlineNotSeenSince(ctx context.Context, cutoff time.Time) ([]model.Device, error)
	ListSeenSince(ctx context.Context, since time.Time) ([]model.Device, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	Delete(ctx context.Context, tenantID, deviceID uuid.UUID) error
	InitialMigration() error
}

type DeviceStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Device = (*DeviceStore)(nil)

func NewDevice(db *gorm.DB, log logrus.FieldLogger) Device {
	return &DeviceStore{db: db, log: log}
}

func (s *DeviceStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Device{})
}

func (s *DeviceStore) Create(ctx context.Context, device *model.Device) error {
	result := s.db.WithContext(ctx).Create(device)
	if result.Error == gorm.ErrDuplicatedKey {
		return sberrors.ErrDeviceAlreadyExists
	}
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) Get(ctx context.Context, tenantID, deviceID uuid.UUID) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", deviceID, tenantID).First(&device)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, sberrors.ErrDeviceNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

func (s *DeviceStore) GetByID(ctx context.Context, deviceID uuid.UUID) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).Where("id = ?", deviceID).First(&device)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, sberrors.ErrDeviceNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

func (s *DeviceStore) Update(ctx context.Context, device *model.Device) error {
	result := s.db.WithContext(ctx).Save(device)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) UpdateOnlineStatus(ctx context.Context, deviceID uuid.UUID, status api.OnlineStatus) error {
	result := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).
		Update("online_status", status)
	return sberrors.ErrorFromGormError(result.Error)
}

// TouchLastSeen advances last_seen_at monotonically and flips the device
// Online. Replayed heartbeats with an older timestamp are no-ops on
// last_seen_at, which keeps ingest idempotent.
func (s *DeviceStore) TouchLastSeen(ctx context.Context, deviceID uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]interface{}{
			"last_seen_at":  gorm.Expr("CASE WHEN last_seen_at IS NULL OR last_seen_at < ? THEN ? ELSE last_seen_at END", at, at),
			"online_status": api.OnlineStatusOnline,
		})
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) List(ctx context.Context, tenantID uuid.UUID, params ListDevicesParams) ([]model.Device, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Device{}).Where("tenant_id = ?", tenantID)
	if params.Status != nil {
		query = query.Where("registration_status = ?", *params.Status)
	}
	if params.GroupID != nil {
		query = query.Where("id IN (?)", s.db.Model(&model.DeviceGroupMember{}).
			Select("device_id").Where("group_id = ?", *params.GroupID))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, sberrors.ErrorFromGormError(err)
	}

	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}
	if params.Offset > 0 {
		query = query.Offset(params.Offset)
	}

	var devices []model.Device
	result := query.Order("name ASC, id ASC").Find(&devices)
	return devices, total, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Device, error) {
	var devices []model.Device
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&devices)
	return devices, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) ListOnlineNotSeenSince(ctx context.Context, cutoff time.Time) ([]model.Device, error) {
	var devices []model.Device
	result := s.db.WithContext(ctx).
		Where("online_status = ? AND (last_seen_at IS NULL OR last_seen_at < ?)", api.OnlineStatusOnline, cutoff).
		Find(&devices)
	return devices, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) ListSeenSince(ctx context.Context, since time.Time) ([]model.Device, error) {
	var devices []model.Device
	result := s.db.WithContext(ctx).
		Where("last_seen_at >= ?", since).
		Find(&devices)
	return devices, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("tenant_id = ?", tenantID).Count(&count)
	return count, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) Delete(ctx context.Context, tenantID, deviceID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", deviceID, tenantID).
		Delete(&model.Device{})
	if result.Error == nil && result.RowsAffected == 0 {
		return sberrors.ErrDeviceNotFound
	}
	return sberrors.ErrorFromGormError(result.Error)
}
