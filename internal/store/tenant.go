package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Tenant interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*model.Tenant, error)
	Upsert(ctx context.Context, tenant *model.Tenant) error
	List(ctx context.Context) ([]model.Tenant, error)
	InitialMigration() error
}

type TenantStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Tenant = (*TenantStore)(nil)

func NewTenant(db *gorm.DB, log logrus.FieldLogger) Tenant {
	return &TenantStore{db: db, log: log}
}

func (s *TenantStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Tenant{})
}

func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*model.Tenant, error) {
	var tenant model.Tenant
	result := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &tenant, nil
}

func (s *TenantStore) Upsert(ctx context.Context, tenant *model.Tenant) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(tenant)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	result := s.db.WithContext(ctx).Find(&tenants)
	return tenants, sberrors.ErrorFromGormError(result.Error)
}
