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

type Telemetry interface {
	InsertHeartbeat(ctx context.Context, hb *model.DeviceHeartbeat) error
	InsertMetrics(ctx context.Context, m *model.DeviceMetrics) error
	LatestHeartbeat(ctx context.Context, deviceID uuid.UUID) (*model.DeviceHeartbeat, error)
	CountHeartbeatsSince(ctx context.Context, deviceID uuid.UUID, since time.Time) (total int64, errored int64, err error)
	LatestMetrics(ctx context.Context, deviceID uuid.UUID) (*model.DeviceMetrics, error)
	DeleteOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, batchSize int) (int64, error)
	InitialMigration() error
}

type TelemetryStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Telemetry = (*TelemetryStore)(nil)

func NewTelemetry(db *gorm.DB, log logrus.FieldLogger) Telemetry {
	return &TelemetryStore{db: db, log: log}
}

func (s *TelemetryStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.DeviceHeartbeat{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&model.DeviceMetrics{})
}

func (s *TelemetryStore) InsertHeartbeat(ctx context.Context, hb *model.DeviceHeartbeat) error {
	result := s.db.WithContext(ctx).Create(hb)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *TelemetryStore) InsertMetrics(ctx context.Context, m *model.DeviceMetrics) error {
	result := s.db.WithContext(ctx).Create(m)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *TelemetryStore) LatestHeartbeat(ctx context.Context, deviceID uuid.UUID) (*model.DeviceHeartbeat, error) {
	var hb model.DeviceHeartbeat
	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("at DESC").
		First(&hb)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &hb, nil
}

func (s *TelemetryStore) CountHeartbeatsSince(ctx context.Context, deviceID uuid.UUID, since time.Time) (int64, int64, error) {
	var total, errored int64
	base := s.db.WithContext(ctx).Model(&model.DeviceHeartbeat{}).
		Where("device_id = ? AND at >= ?", deviceID, since)
	if err := base.Count(&total).Error; err != nil {
		return 0, 0, sberrors.ErrorFromGormError(err)
	}
	err := s.db.WithContext(ctx).Model(&model.DeviceHeartbeat{}).
		Where("device_id = ? AND at >= ? AND status = ?", deviceID, since, "error").
		Count(&errored).Error
	return total, errored, sberrors.ErrorFromGormError(err)
}

func (s *TelemetryStore) LatestMetrics(ctx context.Context, deviceID uuid.UUID) (*model.DeviceMetrics, error) {
	var m model.DeviceMetrics
	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("at DESC").
		First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &m, nil
}

// DeleteOlderThan removes the oldest heartbeat and metric rows for one
// tenant, at most batchSize of each series per call.
func (s *TelemetryStore) DeleteOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, batchSize int) (int64, error) {
	deviceIDs := s.db.Model(&model.Device{}).Select("id").Where("tenant_id = ?", tenantID)

	var deleted int64
	hb := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&model.DeviceHeartbeat{}).Select("id").
			Where("device_id IN (?) AND at < ?", deviceIDs, cutoff).
			Order("at ASC").Limit(batchSize)).
		Delete(&model.DeviceHeartbeat{})
	if hb.Error != nil {
		return 0, sberrors.ErrorFromGormError(hb.Error)
	}
	deleted += hb.RowsAffected

	m := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&model.DeviceMetrics{}).Select("id").
			Where("device_id IN (?) AND at < ?", deviceIDs, cutoff).
			Order("at ASC").Limit(batchSize)).
		Delete(&model.DeviceMetrics{})
	if m.Error != nil {
		return deleted, sberrors.ErrorFromGormError(m.Error)
	}
	deleted += m.RowsAffected
	return deleted, nil
}

type HealthScore interface {
	Insert(ctx context.Context, score *model.DeviceHealthScore) error
	Latest(ctx context.Context, deviceID uuid.UUID) (*model.DeviceHealthScore, error)
	InitialMigration() error
}

type HealthScoreStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ HealthScore = (*HealthScoreStore)(nil)

func NewHealthScore(db *gorm.DB, log logrus.FieldLogger) HealthScore {
	return &HealthScoreStore{db: db, log: log}
}

func (s *HealthScoreStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.DeviceHealthScore{})
}

func (s *HealthScoreStore) Insert(ctx context.Context, score *model.DeviceHealthScore) error {
	result := s.db.WithContext(ctx).Create(score)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *HealthScoreStore) Latest(ctx context.Context, deviceID uuid.UUID) (*model.DeviceHealthScore, error) {
	var score model.DeviceHealthScore
	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("at DESC").
		First(&score)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &score, nil
}
