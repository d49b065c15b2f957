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

type Rollout interface {
	Create(ctx context.Context, rollout *model.Rollout, phases []model.RolloutPhase) error
	Get(ctx context.Context, tenantID, rolloutID uuid.UUID) (*model.Rollout, error)
	GetByID(ctx context.Context, rolloutID uuid.UUID) (*model.Rollout, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Rollout, error)
	ListByStatus(ctx context.Context, statuses []api.RolloutStatus) ([]model.Rollout, error)
	ExistsActiveForBundle(ctx context.Context, bundleID uuid.UUID) (bool, error)
	Update(ctx context.Context, rollout *model.Rollout) error
	Delete(ctx context.Context, tenantID, rolloutID uuid.UUID) error

	ListPhases(ctx context.Context, rolloutID uuid.UUID) ([]model.RolloutPhase, error)
	UpdatePhase(ctx context.Context, phase *model.RolloutPhase) error

	CreateAssignment(ctx context.Context, assignment *model.RolloutDeviceAssignment) error
	ListAssignments(ctx context.Context, rolloutID uuid.UUID) ([]model.RolloutDeviceAssignment, error)
	ListPhaseAssignments(ctx context.Context, phaseID uuid.UUID) ([]model.RolloutDeviceAssignment, error)
	UpdateAssignment(ctx context.Context, assignment *model.RolloutDeviceAssignment) error

	InitialMigration() error
}

type RolloutStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Rollout = (*RolloutStore)(nil)

func NewRollout(db *gorm.DB, log logrus.FieldLogger) Rollout {
	return &RolloutStore{db: db, log: log}
}

func (s *RolloutStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.Rollout{}); err != nil {
		return err
	}
	if err := s.db.AutoMigrate(&model.RolloutPhase{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&model.RolloutDeviceAssignment{})
}

func (s *RolloutStore) Create(ctx context.Context, rollout *model.Rollout, phases []model.RolloutPhase) error {
	return sberrors.ErrorFromGormError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rollout).Error; err != nil {
			return err
		}
		for i := range phases {
			if err := tx.Create(&phases[i]).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *RolloutStore) Get(ctx context.Context, tenantID, rolloutID uuid.UUID) (*model.Rollout, error) {
	var rollout model.Rollout
	result := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", rolloutID, tenantID).First(&rollout)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrRolloutNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &rollout, nil
}

func (s *RolloutStore) GetByID(ctx context.Context, rolloutID uuid.UUID) (*model.Rollout, error) {
	var rollout model.Rollout
	result := s.db.WithContext(ctx).Where("id = ?", rolloutID).First(&rollout)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrRolloutNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &rollout, nil
}

func (s *RolloutStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Rollout, error) {
	var rollouts []model.Rollout
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&rollouts)
	return rollouts, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) ListByStatus(ctx context.Context, statuses []api.RolloutStatus) ([]model.Rollout, error) {
	var rollouts []model.Rollout
	result := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at ASC").Find(&rollouts)
	return rollouts, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) ExistsActiveForBundle(ctx context.Context, bundleID uuid.UUID) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Rollout{}).
		Where("bundle_id = ? AND status IN ?", bundleID,
			[]api.RolloutStatus{api.RolloutInProgress, api.RolloutPaused}).
		Count(&count)
	return count > 0, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) Update(ctx context.Context, rollout *model.Rollout) error {
	result := s.db.WithContext(ctx).Save(rollout)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) Delete(ctx context.Context, tenantID, rolloutID uuid.UUID) error {
	return sberrors.ErrorFromGormError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rollout_id = ?", rolloutID).Delete(&model.RolloutDeviceAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("rollout_id = ?", rolloutID).Delete(&model.RolloutPhase{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND tenant_id = ?", rolloutID, tenantID).Delete(&model.Rollout{})
		if result.Error == nil && result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return result.Error
	}))
}

func (s *RolloutStore) ListPhases(ctx context.Context, rolloutID uuid.UUID) ([]model.RolloutPhase, error) {
	var phases []model.RolloutPhase
	result := s.db.WithContext(ctx).
		Where("rollout_id = ?", rolloutID).
		Order("phase_number ASC").
		Find(&phases)
	return phases, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) UpdatePhase(ctx context.Context, phase *model.RolloutPhase) error {
	result := s.db.WithContext(ctx).Save(phase)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) CreateAssignment(ctx context.Context, assignment *model.RolloutDeviceAssignment) error {
	result := s.db.WithContext(ctx).Create(assignment)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) ListAssignments(ctx context.Context, rolloutID uuid.UUID) ([]model.RolloutDeviceAssignment, error) {
	var assignments []model.RolloutDeviceAssignment
	result := s.db.WithContext(ctx).
		Where("rollout_id = ?", rolloutID).
		Order("device_id ASC").
		Find(&assignments)
	return assignments, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) ListPhaseAssignments(ctx context.Context, phaseID uuid.UUID) ([]model.RolloutDeviceAssignment, error) {
	var assignments []model.RolloutDeviceAssignment
	result := s.db.WithContext(ctx).
		Where("phase_id = ?", phaseID).
		Order("device_id ASC").
		Find(&assignments)
	return assignments, sberrors.ErrorFromGormError(result.Error)
}

func (s *RolloutStore) UpdateAssignment(ctx context.Context, assignment *model.RolloutDeviceAssignment) error {
	result := s.db.WithContext(ctx).Save(assignment)
	return sberrors.ErrorFromGormError(result.Error)
}
