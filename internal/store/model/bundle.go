package model

import (
	"time"

	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/google/uuid"
)

type Bundle struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;index:idx_bundle_tenant_name,unique,priority:1"`
	Name          string    `gorm:"index:idx_bundle_tenant_name,unique,priority:2"`
	LatestVersion *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b *Bundle) ToApiResource() api.BundleResponse {
	return api.BundleResponse{
		BundleID:      b.ID,
		TenantID:      b.TenantID,
		Name:          b.Name,
		LatestVersion: b.LatestVersion,
	}
}

type BundleVersion struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	BundleID     uuid.UUID `gorm:"type:uuid;index:idx_bundle_version,unique,priority:1"`
	Version      string    `gorm:"index:idx_bundle_version,unique,priority:2"`
	Containers   []api.ContainerSpec `gorm:"serializer:json"`
	CreatedAt    time.Time
	ReleaseNotes string
	BlobURI      string
	Checksum     string
	SizeBytes    int64
	Status       string
}

func (v *BundleVersion) ToApiResource() api.BundleVersionResponse {
	return api.BundleVersionResponse{
		BundleID:     v.BundleID,
		Version:      v.Version,
		Containers:   v.Containers,
		CreatedAt:    v.CreatedAt,
		ReleaseNotes: v.ReleaseNotes,
		BlobURI:      v.BlobURI,
		Checksum:     v.Checksum,
		SizeBytes:    v.SizeBytes,
	}
}

// DeviceDesiredState is the authoritative per-device assignment; at most
// one row per device. Deleting the row means "no bundle assigned".
type DeviceDesiredState struct {
	DeviceID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	BundleID   uuid.UUID `gorm:"type:uuid;index"`
	Version    string
	AssignedAt time.Time
	AssignedBy string
	Reason     string
}

// ReportedStatus rows are unique per (device, bundle, version); later
// reports for the same tuple update state in place.
type ReportedStatus struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID     uuid.UUID `gorm:"type:uuid;index:idx_report_tuple,unique,priority:1"`
	BundleID     uuid.UUID `gorm:"type:uuid;index:idx_report_tuple,unique,priority:2"`
	Version      string    `gorm:"index:idx_report_tuple,unique,priority:3"`
	RolloutID    *uuid.UUID `gorm:"type:uuid;index"`
	State        api.ReportState
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	RetryCount   int
	UpdatedAt    time.Time
}
