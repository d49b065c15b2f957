package model

import (
	"time"

	"github.com/google/uuid"
)

// DeviceHeartbeat is append-only time-series; rows are only removed by
// the retention sweeper.
type DeviceHeartbeat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	DeviceID  uuid.UUID `gorm:"type:uuid;index:idx_heartbeat_device_at,priority:1"`
	At        time.Time `gorm:"index:idx_heartbeat_device_at,priority:2"`
	Status    string
	IPAddress string
	Extras    string
}

type DeviceMetrics struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement"`
	DeviceID          uuid.UUID `gorm:"type:uuid;index:idx_metrics_device_at,priority:1"`
	At                time.Time `gorm:"index:idx_metrics_device_at,priority:2"`
	CPUPercent        float64
	MemoryPercent     float64
	DiskPercent       float64
	UptimeSec         int64
	RunningContainers int
	Extras            string
}

// DeviceHealthScore components are bounded: heartbeat 0..40,
// reconciliation 0..30, resource 0..30, total is their sum.
type DeviceHealthScore struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement"`
	DeviceID            uuid.UUID `gorm:"type:uuid;index:idx_health_device_at,priority:1"`
	At                  time.Time `gorm:"index:idx_health_device_at,priority:2"`
	Total               float64
	HeartbeatScore      float64
	ReconciliationScore float64
	ResourceScore       float64
}
