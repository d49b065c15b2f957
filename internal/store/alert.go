package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Alert interface {
	Create(ctx context.Context, alert *model.Alert) error
	Get(ctx context.Context, tenantID, alertID uuid.UUID) (*model.Alert, error)
	FindActive(ctx context.Context, deviceID, rolloutID *uuid.UUID, alertType string) (*model.Alert, error)
	List(ctx context.Context, tenantID uuid.UUID, status *api.AlertStatus) ([]model.Alert, error)
	ListActive(ctx context.Context) ([]model.Alert, error)
	Update(ctx context.Context, alert *model.Alert) error
	InitialMigration() error
}

type AlertStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Alert = (*AlertStore)(nil)

func NewAlert(db *gorm.DB, log logrus.FieldLogger) Alert {
	return &AlertStore{db: db, log: log}
}

func (s *AlertStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.Alert{}); err != nil {
		return err
	}
	// Dedup invariant: one Active alert per (device, type). Postgres
	// enforces it with a partial unique index; on sqlite the engine
	// checks before insert.
	if s.db.Dialector.Name() == "postgres" {
		if err := s.db.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_active_dedup
			 ON alerts (device_id, type) WHERE status = 'Active' AND device_id IS NOT NULL`).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) error {
	result := s.db.WithContext(ctx).Create(alert)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *AlertStore) Get(ctx context.Context, tenantID, alertID uuid.UUID) (*model.Alert, error) {
	var alert model.Alert
	result := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", alertID, tenantID).First(&alert)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &alert, nil
}

func (s *AlertStore) FindActive(ctx context.Context, deviceID, rolloutID *uuid.UUID, alertType string) (*model.Alert, error) {
	query := s.db.WithContext(ctx).Where("type = ? AND status = ?", alertType, api.AlertActive)
	if deviceID != nil {
		query = query.Where("device_id = ?", *deviceID)
	}
	if rolloutID != nil {
		query = query.Where("rollout_id = ?", *rolloutID)
	}
	var alert model.Alert
	result := query.First(&alert)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &alert, nil
}

func (s *AlertStore) List(ctx context.Context, tenantID uuid.UUID, status *api.AlertStatus) ([]model.Alert, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var alerts []model.Alert
	result := query.Order("created_at DESC").Find(&alerts)
	return alerts, sberrors.ErrorFromGormError(result.Error)
}

func (s *AlertStore) ListActive(ctx context.Context) ([]model.Alert, error) {
	var alerts []model.Alert
	result := s.db.WithContext(ctx).Where("status = ?", api.AlertActive).Find(&alerts)
	return alerts, sberrors.ErrorFromGormError(result.Error)
}

func (s *AlertStore) Update(ctx context.Context, alert *model.Alert) error {
	result := s.db.WithContext(ctx).Save(alert)
	return sberrors.ErrorFromGormError(result.Error)
}
