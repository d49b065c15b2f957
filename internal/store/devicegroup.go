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

type DeviceGroup interface {
	Create(ctx context.Context, group *model.DeviceGroup) error
	Get(ctx context.Context, tenantID, groupID uuid.UUID) (*model.DeviceGroup, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.DeviceGroup, error)
	ListDynamic(ctx context.Context) ([]model.DeviceGroup, error)
	Delete(ctx context.Context, tenantID, groupID uuid.UUID) error
	AddMember(ctx context.Context, groupID, deviceID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, deviceID uuid.UUID) error
	ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	InitialMigration() error
}

type DeviceGroupStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ DeviceGroup = (*DeviceGroupStore)(nil)

func NewDeviceGroup(db *gorm.DB, log logrus.FieldLogger) DeviceGroup {
	return &DeviceGroupStore{db: db, log: log}
}

func (s *DeviceGroupStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.DeviceGroup{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&model.DeviceGroupMember{})
}

func (s *DeviceGroupStore) Create(ctx context.Context, group *model.DeviceGroup) error {
	result := s.db.WithContext(ctx).Create(group)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceGroupStore) Get(ctx context.Context, tenantID, groupID uuid.UUID) (*model.DeviceGroup, error) {
	var group model.DeviceGroup
	result := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", groupID, tenantID).First(&group)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &group, nil
}

func (s *DeviceGroupStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.DeviceGroup, error) {
	var groups []model.DeviceGroup
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&groups)
	return groups, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceGroupStore) ListDynamic(ctx context.Context) ([]model.DeviceGroup, error) {
	var groups []model.DeviceGroup
	result := s.db.WithContext(ctx).Where("type = ?", api.GroupTypeDynamic).Find(&groups)
	return groups, sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceGroupStore) Delete(ctx context.Context, tenantID, groupID uuid.UUID) error {
	return sberrors.ErrorFromGormError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&model.DeviceGroupMember{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND tenant_id = ?", groupID, tenantID).Delete(&model.DeviceGroup{})
		if result.Error == nil && result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return result.Error
	}))
}

func (s *DeviceGroupStore) AddMember(ctx context.Context, groupID, deviceID uuid.UUID) error {
	member := model.DeviceGroupMember{GroupID: groupID, DeviceID: deviceID}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceGroupStore) RemoveMember(ctx context.Context, groupID, deviceID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("group_id = ? AND device_id = ?", groupID, deviceID).
		Delete(&model.DeviceGroupMember{})
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *DeviceGroupStore) ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	result := s.db.WithContext(ctx).Model(&model.DeviceGroupMember{}).
		Where("group_id = ?", groupID).
		Order("device_id ASC").
		Pluck("device_id", &ids)
	return ids, sberrors.ErrorFromGormError(result.Error)
}
