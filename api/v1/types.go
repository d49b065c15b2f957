// Package v1 holds the wire types of the SignalBeam Edge control plane:
// enums shared with the storage layer, request/response bodies, and the
// error envelope.
package v1

import (
	"time"

	"github.com/google/uuid"
)

type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationApproved RegistrationStatus = "Approved"
	RegistrationRejected RegistrationStatus = "Rejected"
)

type OnlineStatus string

const (
	OnlineStatusOnline   OnlineStatus = "Online"
	OnlineStatusOffline  OnlineStatus = "Offline"
	OnlineStatusUpdating OnlineStatus = "Updating"
	OnlineStatusError    OnlineStatus = "Error"
)

type GroupType string

const (
	GroupTypeStatic  GroupType = "Static"
	GroupTypeDynamic GroupType = "Dynamic"
)

type ReportState string

const (
	ReportStatePending    ReportState = "Pending"
	ReportStateInProgress ReportState = "InProgress"
	ReportStateCompleted  ReportState = "Completed"
	ReportStateFailed     ReportState = "Failed"
	ReportStateRolledBack ReportState = "RolledBack"
)

// Terminal reports whether s is a terminal reconciliation outcome.
func (s ReportState) Terminal() bool {
	return s == ReportStateCompleted || s == ReportStateFailed || s == ReportStateRolledBack
}

type RolloutStatus string

const (
	RolloutPending    RolloutStatus = "Pending"
	RolloutInProgress RolloutStatus = "InProgress"
	RolloutPaused     RolloutStatus = "Paused"
	RolloutCompleted  RolloutStatus = "Completed"
	RolloutRolledBack RolloutStatus = "RolledBack"
	RolloutFailed     RolloutStatus = "Failed"
)

func (s RolloutStatus) Terminal() bool {
	return s == RolloutCompleted || s == RolloutRolledBack || s == RolloutFailed
}

type PhaseStatus string

const (
	PhasePending    PhaseStatus = "Pending"
	PhaseInProgress PhaseStatus = "InProgress"
	PhaseCompleted  PhaseStatus = "Completed"
	PhaseFailed     PhaseStatus = "Failed"
)

type AssignmentStatus string

const (
	AssignmentPending     AssignmentStatus = "Pending"
	AssignmentAssigned    AssignmentStatus = "Assigned"
	AssignmentReconciling AssignmentStatus = "Reconciling"
	AssignmentSucceeded   AssignmentStatus = "Succeeded"
	AssignmentFailed      AssignmentStatus = "Failed"
)

type EligibilityPolicy string

const (
	EligibilityAllBundleUsers EligibilityPolicy = "AllBundleUsers"
	EligibilityGroupMembers   EligibilityPolicy = "GroupMembers"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "Info"
	SeverityWarning  AlertSeverity = "Warning"
	SeverityCritical AlertSeverity = "Critical"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "Active"
	AlertAcknowledged AlertStatus = "Acknowledged"
	AlertResolved     AlertStatus = "Resolved"
)

// Alert rule types. The dedup key is (deviceId, type, Active).
const (
	AlertTypeDeviceOfflineWarning  = "device_offline_warning"
	AlertTypeDeviceOfflineCritical = "device_offline_critical"
	AlertTypeDeviceUnhealthy       = "device_unhealthy"
	AlertTypeHighErrorRate         = "high_error_rate"
	AlertTypeRolloutFailed         = "rollout_failed"
	AlertTypeApiKeyExpiring        = "api_key_expiring"
	AlertTypeApiKeyExpired         = "api_key_expired"
)

type TenantTier string

const (
	TierFree TenantTier = "Free"
	TierPaid TenantTier = "Paid"
)

// ContainerSpec is passed verbatim to the agent; the control plane does
// not interpret it.
type ContainerSpec struct {
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	Env          map[string]string `json:"env,omitempty"`
	PortMappings []string          `json:"portMappings,omitempty"`
	VolumeMounts []string          `json:"volumeMounts,omitempty"`
}

// ErrorResponse is the envelope every failed request carries.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter *int           `json:"retryAfter,omitempty"`
}

// --- Credential plane ---

type CreateRegistrationTokenRequest struct {
	TenantID     uuid.UUID `json:"tenantId"`
	ValidityDays int       `json:"validityDays"`
	Description  string    `json:"description,omitempty"`
}

type RegistrationTokenResponse struct {
	TokenID   uuid.UUID `json:"tokenId"`
	Token     string    `json:"token"` // plaintext, returned exactly once
	Prefix    string    `json:"prefix"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RegisterDeviceRequest struct {
	DeviceID uuid.UUID `json:"deviceId"`
	Token    string    `json:"token"`
	Name     string    `json:"name"`
	Metadata string    `json:"metadata,omitempty"`
}

type ApproveDeviceRequest struct {
	ApiKeyExpirationDays int `json:"apiKeyExpirationDays,omitempty"`
}

type ApiKeyResponse struct {
	KeyID     uuid.UUID  `json:"keyId"`
	ApiKey    string     `json:"apiKey"` // plaintext, returned exactly once
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// --- Device registry ---

type DeviceResponse struct {
	DeviceID           uuid.UUID          `json:"deviceId"`
	TenantID           uuid.UUID          `json:"tenantId"`
	Name               string             `json:"name"`
	Metadata           string             `json:"metadata,omitempty"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	OnlineStatus       OnlineStatus       `json:"onlineStatus"`
	LastSeenAt         *time.Time         `json:"lastSeenAt,omitempty"`
	DeviceGroupID      *uuid.UUID         `json:"deviceGroupId,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
}

type DeviceListResponse struct {
	Items []DeviceResponse `json:"items"`
	Total int64            `json:"total"`
}

type UpdateDeviceRequest struct {
	Name     *string `json:"name,omitempty"`
	Metadata *string `json:"metadata,omitempty"`
}

type DeviceTagsRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type CreateDeviceGroupRequest struct {
	Name     string    `json:"name"`
	Type     GroupType `json:"type"`
	TagQuery string    `json:"tagQuery,omitempty"`
}

type DeviceGroupResponse struct {
	GroupID  uuid.UUID `json:"groupId"`
	TenantID uuid.UUID `json:"tenantId"`
	Name     string    `json:"name"`
	Type     GroupType `json:"type"`
	TagQuery string    `json:"tagQuery,omitempty"`
}

// --- Telemetry ---

type HeartbeatRequest struct {
	At        time.Time `json:"at"`
	Status    string    `json:"status,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Extras    string    `json:"extras,omitempty"`
}

type MetricsRequest struct {
	At                time.Time `json:"at"`
	CPUPercent        float64   `json:"cpuPercent"`
	MemoryPercent     float64   `json:"memoryPercent"`
	DiskPercent       float64   `json:"diskPercent"`
	UptimeSec         int64     `json:"uptimeSec"`
	RunningContainers int       `json:"runningContainers"`
	Extras            string    `json:"extras,omitempty"`
}

// --- Bundles ---

type CreateBundleRequest struct {
	Name string `json:"name"`
}

type BundleResponse struct {
	BundleID      uuid.UUID `json:"bundleId"`
	TenantID      uuid.UUID `json:"tenantId"`
	Name          string    `json:"name"`
	LatestVersion *string   `json:"latestVersion,omitempty"`
}

type CreateBundleVersionRequest struct {
	Version      string          `json:"version"`
	Containers   []ContainerSpec `json:"containers"`
	ReleaseNotes string          `json:"releaseNotes,omitempty"`
	BlobURI      string          `json:"blobUri,omitempty"`
	Checksum     string          `json:"checksum,omitempty"`
	SizeBytes    int64           `json:"sizeBytes,omitempty"`
}

type BundleVersionResponse struct {
	BundleID     uuid.UUID       `json:"bundleId"`
	Version      string          `json:"version"`
	Containers   []ContainerSpec `json:"containers"`
	CreatedAt    time.Time       `json:"createdAt"`
	ReleaseNotes string          `json:"releaseNotes,omitempty"`
	BlobURI      string          `json:"blobUri,omitempty"`
	Checksum     string          `json:"checksum,omitempty"`
	SizeBytes    int64           `json:"sizeBytes,omitempty"`
}

// --- Desired / reported state ---

type AssignDesiredStateRequest struct {
	BundleID uuid.UUID `json:"bundleId"`
	Version  string    `json:"version"`
	Reason   string    `json:"reason,omitempty"`
}

type DesiredStateResponse struct {
	DeviceID   uuid.UUID       `json:"deviceId"`
	BundleID   uuid.UUID       `json:"bundleId"`
	Version    string          `json:"version"`
	Containers []ContainerSpec `json:"containers"`
	AssignedAt time.Time       `json:"assignedAt"`
	AssignedBy string          `json:"assignedBy"`
	Reason     string          `json:"reason,omitempty"`
}

type ReportStateRequest struct {
	BundleID     uuid.UUID   `json:"bundleId"`
	Version      string      `json:"version"`
	State        ReportState `json:"state"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	At           time.Time   `json:"at"`
	RolloutID    *uuid.UUID  `json:"rolloutId,omitempty"`
}

// --- Rollouts ---

type RolloutPhaseSpec struct {
	Name                  string  `json:"name"`
	TargetDeviceCount     *int    `json:"targetDeviceCount,omitempty"`
	TargetPercentage      *float64 `json:"targetPercentage,omitempty"`
	MinHealthyDurationSec *int    `json:"minHealthyDurationSeconds,omitempty"`
}

type CreateRolloutRequest struct {
	BundleID            uuid.UUID          `json:"bundleId"`
	TargetVersion       string             `json:"targetVersion"`
	PreviousVersion     *string            `json:"previousVersion,omitempty"`
	Name                string             `json:"name"`
	Description         string             `json:"description,omitempty"`
	Phases              []RolloutPhaseSpec `json:"phases"`
	FailureThreshold    *float64           `json:"failureThreshold,omitempty"`
	EligibilityPolicy   EligibilityPolicy  `json:"eligibilityPolicy,omitempty"`
	TargetDeviceGroupID *uuid.UUID         `json:"targetDeviceGroupId,omitempty"`
}

type RolloutPhaseResponse struct {
	PhaseID            uuid.UUID   `json:"phaseId"`
	PhaseNumber        int         `json:"phaseNumber"`
	Name               string      `json:"name"`
	TargetDeviceCount  *int        `json:"targetDeviceCount,omitempty"`
	TargetPercentage   *float64    `json:"targetPercentage,omitempty"`
	Status             PhaseStatus `json:"status"`
	StartedAt          *time.Time  `json:"startedAt,omitempty"`
	CompletedAt        *time.Time  `json:"completedAt,omitempty"`
	SuccessCount       int         `json:"successCount"`
	FailureCount       int         `json:"failureCount"`
}

type RolloutResponse struct {
	RolloutID          uuid.UUID              `json:"rolloutId"`
	TenantID           uuid.UUID              `json:"tenantId"`
	BundleID           uuid.UUID              `json:"bundleId"`
	TargetVersion      string                 `json:"targetVersion"`
	PreviousVersion    *string                `json:"previousVersion,omitempty"`
	Name               string                 `json:"name"`
	Description        string                 `json:"description,omitempty"`
	FailureThreshold   float64                `json:"failureThreshold"`
	Status             RolloutStatus          `json:"status"`
	CurrentPhaseNumber int                    `json:"currentPhaseNumber"`
	CreatedAt          time.Time              `json:"createdAt"`
	StartedAt          *time.Time             `json:"startedAt,omitempty"`
	CompletedAt        *time.Time             `json:"completedAt,omitempty"`
	CreatedBy          string                 `json:"createdBy,omitempty"`
	Phases             []RolloutPhaseResponse `json:"phases,omitempty"`
}

// --- Alerts ---

type AlertResponse struct {
	AlertID        uuid.UUID     `json:"alertId"`
	TenantID       uuid.UUID     `json:"tenantId"`
	Severity       AlertSeverity `json:"severity"`
	Type           string        `json:"type"`
	Status         AlertStatus   `json:"status"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	DeviceID       *uuid.UUID    `json:"deviceId,omitempty"`
	RolloutID      *uuid.UUID    `json:"rolloutId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string        `json:"acknowledgedBy,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
}
