package model

import (
	"time"

	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/google/uuid"
)

type Alert struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;index"`
	Severity       api.AlertSeverity
	Type           string `gorm:"index"`
	Status         api.AlertStatus `gorm:"index"`
	Title          string
	Description    string
	DeviceID       *uuid.UUID `gorm:"type:uuid;index"`
	RolloutID      *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
}

func (a *Alert) ToApiResource() api.AlertResponse {
	return api.AlertResponse{
		AlertID:        a.ID,
		TenantID:       a.TenantID,
		Severity:       a.Severity,
		Type:           a.Type,
		Status:         a.Status,
		Title:          a.Title,
		Description:    a.Description,
		DeviceID:       a.DeviceID,
		RolloutID:      a.RolloutID,
		CreatedAt:      a.CreatedAt,
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: a.AcknowledgedBy,
		ResolvedAt:     a.ResolvedAt,
	}
}

// Notification is the best-effort delivery ledger; an external
// dispatcher drains it.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;index"`
	AlertID   uuid.UUID `gorm:"type:uuid;index"`
	Channel   string
	Payload   string
	CreatedAt time.Time
}
