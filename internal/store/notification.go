package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Notification interface {
	Create(ctx context.Context, notification *model.Notification) error
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Notification, error)
	InitialMigration() error
}

type NotificationStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Notification = (*NotificationStore)(nil)

func NewNotification(db *gorm.DB, log logrus.FieldLogger) Notification {
	return &NotificationStore{db: db, log: log}
}

func (s *NotificationStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Notification{})
}

func (s *NotificationStore) Create(ctx context.Context, notification *model.Notification) error {
	result := s.db.WithContext(ctx).Create(notification)
	return sberrors.ErrorFromGormError(result.Error)
}

func (s *NotificationStore) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Notification, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var notifications []model.Notification
	result := query.Find(&notifications)
	return notifications, sberrors.ErrorFromGormError(result.Error)
}
