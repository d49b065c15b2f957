package sberrors

import (
	"errors"
	"net/http"

	"gorm.io/gorm"
)

var (
	// validation
	ErrInvalidTagQuery   = errors.New("invalid tag query")
	ErrInvalidTimestamp  = errors.New("timestamp is too far in the future")
	ErrInvalidVersion    = errors.New("version is not a valid semantic version")
	ErrNoPreviousVersion = errors.New("rollout has no previous version to roll back to")
	ErrStaleReport       = errors.New("report is older than the stored terminal state")
	ErrInvalidRequest    = errors.New("request is not valid")

	// not found
	ErrDeviceNotFound  = errors.New("device not found")
	ErrBundleNotFound  = errors.New("bundle not found")
	ErrRolloutNotFound = errors.New("rollout not found")
	ErrNotFound        = errors.New("object not found")

	// conflict
	ErrDeviceAlreadyExists    = errors.New("a device with this id already exists")
	ErrDuplicateName          = errors.New("an object with this name already exists")
	ErrConcurrentModification = errors.New("the object was modified concurrently; retry")
	ErrActiveRolloutExists    = errors.New("an active rollout already exists for this bundle")

	// unauthorized
	ErrInvalidApiKey = errors.New("api key is invalid")
	ErrInvalidToken  = errors.New("registration token is invalid")

	// forbidden
	ErrDeviceNotApproved = errors.New("device is not approved")
	ErrTenantMismatch    = errors.New("object belongs to a different tenant")

	// quota
	ErrDeviceQuotaExceeded = errors.New("tenant device quota exceeded")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")

	// retriable infra
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDownstreamTimeout  = errors.New("downstream call timed out")
)

// Code returns the stable wire code for err, or INTERNAL_ERROR for
// anything outside the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTagQuery):
		return "INVALID_TAG_QUERY"
	case errors.Is(err, ErrInvalidTimestamp):
		return "INVALID_TIMESTAMP"
	case errors.Is(err, ErrInvalidVersion):
		return "INVALID_VERSION"
	case errors.Is(err, ErrNoPreviousVersion):
		return "NO_PREVIOUS_VERSION"
	case errors.Is(err, ErrStaleReport):
		return "STALE_REPORT"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrDeviceNotFound):
		return "DEVICE_NOT_FOUND"
	case errors.Is(err, ErrBundleNotFound):
		return "BUNDLE_NOT_FOUND"
	case errors.Is(err, ErrRolloutNotFound):
		return "ROLLOUT_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrDeviceAlreadyExists):
		return "DEVICE_ALREADY_EXISTS"
	case errors.Is(err, ErrDuplicateName):
		return "DUPLICATE_NAME"
	case errors.Is(err, ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, ErrActiveRolloutExists):
		return "ACTIVE_ROLLOUT_EXISTS"
	case errors.Is(err, ErrInvalidApiKey):
		return "INVALID_API_KEY"
	case errors.Is(err, ErrInvalidToken):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrDeviceNotApproved):
		return "DEVICE_NOT_APPROVED"
	case errors.Is(err, ErrTenantMismatch):
		return "TENANT_MISMATCH"
	case errors.Is(err, ErrDeviceQuotaExceeded):
		return "DEVICE_QUOTA_EXCEEDED"
	case errors.Is(err, ErrRateLimitExceeded):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrDownstreamTimeout):
		return "DOWNSTREAM_TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps err to its status class for the transport edge.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidTagQuery),
		errors.Is(err, ErrInvalidTimestamp),
		errors.Is(err, ErrInvalidVersion),
		errors.Is(err, ErrNoPreviousVersion),
		errors.Is(err, ErrStaleReport),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrBundleNotFound),
		errors.Is(err, ErrRolloutNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDeviceAlreadyExists),
		errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrActiveRolloutExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidApiKey),
		errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDeviceNotApproved),
		errors.Is(err, ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrDeviceQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrDownstreamTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the agent may retry the failed call.
func Retriable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrDownstreamTimeout) ||
		errors.Is(err, ErrRateLimitExceeded)
}

func ErrorFromGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateName
	default:
		return err
	}
}
