package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Bundle interface {
	Create(ctx context.Context, bundle *model.Bundle) error
	Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*model.Bundle, error)
	GetByID(ctx context.Context, bundleID uuid.UUID) (*model.Bundle, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Bundle, error)
	UpdateLatestVersion(ctx context.Context, bundleID uuid.UUID, version string) error
	Delete(ctx context.Context, tenantID, bundleID uuid.UUID) error
	CreateVersion(ctx context.Context, version *model.BundleVersion) error
	GetVersion(ctx context.Context, bundleID uuid.UUID, version string) (*model.BundleVersion, error)
	ListVersions(ctx context.Context, bundleID uuid.UUID) ([]model.BundleVersion, error)
	InitialMigration() error
}

type BundleStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Bundle = (*BundleStore)(nil)

func NewBundle(db *gorm.DB, log logrus.FieldLogger) Bundle {
	return &BundleStore{db: db, log: log}
}

func (s *BundleStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.Bundle{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&model.BundleVersion{})
}

func (s *BundleStore) Create(ctx context.Context, bundle *model.Bundle) error {
	result := s.db.WithContext(ctx).Create(bundle)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *BundleStore) Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*model.Bundle, error) {
	var bundle model.Bundle
	result := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", bundleID, tenantID).First(&bundle)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrBundleNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &bundle, nil
}

func (s *BundleStore) GetByID(ctx context.Context, bundleID uuid.UUID) (*model.Bundle, error) {
	var bundle model.Bundle
	result := s.db.WithContext(ctx).Where("id = ?", bundleID).First(&bundle)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrBundleNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &bundle, nil
}

func (s *BundleStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Bundle, error) {
	var bundles []model.Bundle
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&bundles)
	return bundles, sberrors.ErrorFromGormError(result.Error)
}

func (s *BundleStore) UpdateLatestVersion(ctx context.Context, bundleID uuid.UUID, version string) error {
	result := s.db.WithContext(ctx).Model(&model.Bundle{}).
		Where("id = ?", bundleID).
		Update("latest_version", version)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *BundleStore) Delete(ctx context.Context, tenantID, bundleID uuid.UUID) error {
	return sberrors.ErrorFromGormError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bundle_id = ?", bundleID).Delete(&model.BundleVersion{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND tenant_id = ?", bundleID, tenantID).Delete(&model.Bundle{})
		if result.Error == nil && result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return result.Error
	}))
}

func (s *BundleStore) CreateVersion(ctx context.Context, version *model.BundleVersion) error {
	result := s.db.WithContext(ctx).Create(version)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *BundleStore) GetVersion(ctx context.Context, bundleID uuid.UUID, version string) (*model.BundleVersion, error) {
	var bv model.BundleVersion
	result := s.db.WithContext(ctx).Where("bundle_id = ? AND version = ?", bundleID, version).First(&bv)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, sberrors.ErrBundleNotFound
	}
	if result.Error != nil {
		return nil, sberrors.ErrorFromGormError(result.Error)
	}
	return &bv, nil
}

func (s *BundleStore) ListVersions(ctx context.Context, bundleID uuid.UUID) ([]model.BundleVersion, error) {
	var versions []model.BundleVersion
	result := s.db.WithContext(ctx).Where("bundle_id = ?", bundleID).Order("created_at DESC").Find(&versions)
	return versions, sberrors.ErrorFromGormError(result.Error)
}
