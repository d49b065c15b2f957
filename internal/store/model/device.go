package model

import (
	"time"

	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/google/uuid"
)

// Tenant mirrors the external identity record; the quota gate and
// retention sweeper read it, registration never writes it.
type Tenant struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name              string
	MaxDevices        int
	DataRetentionDays int
	Tier              api.TenantTier
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Device struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID `gorm:"type:uuid;index"`
	Name               string
	Metadata           string `gorm:"size:4000"`
	RegistrationStatus api.RegistrationStatus `gorm:"index"`
	OnlineStatus       api.OnlineStatus       `gorm:"index"`
	LastSeenAt         *time.Time             `gorm:"index"`
	DeviceGroupID      *uuid.UUID             `gorm:"type:uuid"`
	Tags               []string               `gorm:"serializer:json"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (d *Device) ToApiResource() api.DeviceResponse {
	return api.DeviceResponse{
		DeviceID:           d.ID,
		TenantID:           d.TenantID,
		Name:               d.Name,
		Metadata:           d.Metadata,
		RegistrationStatus: d.RegistrationStatus,
		OnlineStatus:       d.OnlineStatus,
		LastSeenAt:         d.LastSeenAt,
		DeviceGroupID:      d.DeviceGroupID,
		Tags:               d.Tags,
	}
}

type DeviceGroup struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;index"`
	Name      string
	Type      api.GroupType
	TagQuery  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (g *DeviceGroup) ToApiResource() api.DeviceGroupResponse {
	return api.DeviceGroupResponse{
		GroupID:  g.ID,
		TenantID: g.TenantID,
		Name:     g.Name,
		Type:     g.Type,
		TagQuery: g.TagQuery,
	}
}

// DeviceGroupMember is the membership join row; dynamic-group sync and
// static assignment both write it.
type DeviceGroupMember struct {
	GroupID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}
