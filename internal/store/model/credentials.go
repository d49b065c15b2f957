package model

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationToken is single-use: valid iff !IsUsed and not expired.
// Only the bcrypt hash of the secret is stored.
type RegistrationToken struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;index"`
	Prefix        string    `gorm:"uniqueIndex;size:16"`
	Hash          string
	ExpiresAt     time.Time
	IsUsed        bool
	UsedByDevice  *uuid.UUID `gorm:"type:uuid"`
	UsedAt        *time.Time
	CreatedBy     string
	Description   string
	CreatedAt     time.Time
}

type DeviceApiKey struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID   uuid.UUID `gorm:"type:uuid;index"`
	Prefix     string    `gorm:"uniqueIndex;size:16"`
	Hash       string
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Active reports whether the key is neither revoked nor expired at now.
func (k *DeviceApiKey) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// AuthAttempt is the append-only audit ledger row. Writes are
// fire-and-forget; a logging failure never fails the request.
type AuthAttempt struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DeviceID      *uuid.UUID `gorm:"type:uuid;index"`
	IPAddress     string
	UserAgent     string
	At            time.Time `gorm:"index"`
	Success       bool
	FailureReason string
	ApiKeyPrefix  string `gorm:"index"`
}
