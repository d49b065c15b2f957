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
	"gorm.io/gorm/clause"
)

type DesiredState interface {
	Upsert(ctx context.Context, state *model.DeviceDesiredState) error
	Get(ctx context.Context, deviceID uuid.UUID) (*model.DeviceDesiredState, error)
	Delete(ctx context.Context, deviceID uuid.UUID) error
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]model.DeviceDesiredState, error)
	InitialMigration() error
}

type DesiredStateStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ DesiredState = (*DesiredStateStore)(nil)

func NewDesiredState(db *gorm.DB, log logrus.FieldLogger) DesiredState {
	return &DesiredStateStore{db: db, log: log}
}

func (s *DesiredStateStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.DeviceDesiredState{})
}

// Upsert overwrites the single desired-state row for the device; the
// storage layer totally orders these writes, newest wins.
func (s *DesiredStateStore) Upsert(ctx context.Context, state *model.DeviceDesiredState) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(state)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DesiredStateStore) Get(ctx context.Context, deviceID uuid.UUID) (*model.DeviceDesiredState, error) {
	var state model.DeviceDesiredState
	result := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&state)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &state, nil
}

func (s *DesiredStateStore) Delete(ctx context.Context, deviceID uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&model.DeviceDesiredState{})
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DesiredStateStore) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]model.DeviceDesiredState, error) {
	var states []model.DeviceDesiredState
	result := s.db.WithContext(ctx).Where("bundle_id = ?", bundleID).Find(&states)
	return states, sberrors.ErrorFromGormError(result.Error)
}

type ReportedStatus interface {
	Get(ctx context.Context, deviceID, bundleID uuid.UUID, version string) (*model.ReportedStatus, error)
	Save(ctx context.Context, status *model.ReportedStatus) error
	ListRecentTerminalByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]model.ReportedStatus, error)
	InitialMigration() error
}

type ReportedStatusStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ ReportedStatus = (*ReportedStatusStore)(nil)

func NewReportedStatus(db *gorm.DB, log logrus.FieldLogger) ReportedStatus {
	return &ReportedStatusStore{db: db, log: log}
}

func (s *ReportedStatusStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.ReportedStatus{})
}

func (s *ReportedStatusStore) Get(ctx context.Context, deviceID, bundleID uuid.UUID, version string) (*model.ReportedStatus, error) {
	var status model.ReportedStatus
	result := s.db.WithContext(ctx).
		Where("device_id = ? AND bundle_id = ? AND version = ?", deviceID, bundleID, version).
		First(&status)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &status, nil
}

func (s *ReportedStatusStore) Save(ctx context.Context, status *model.ReportedStatus) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "bundle_id"}, {Name: "version"}},
		UpdateAll: true,
	}).Create(status)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *ReportedStatusStore) ListRecentTerminalByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]model.ReportedStatus, error) {
	var statuses []model.ReportedStatus
	result := s.db.WithContext(ctx).
		Where("device_id = ? AND state IN ?", deviceID,
			[]api.ReportState{api.ReportStateCompleted, api.ReportStateFailed, api.ReportStateRolledBack}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&statuses)
	return statuses, sberrors.ErrorFromGormError(result.Error)
}
