package transport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/instrumentation"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/service"
	"github.com/signalbeam/signalbeam/pkg/log"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	tenantContextKey   contextKey = "tenant"
	identityContextKey contextKey = "device-identity"
)

// TenantFromContext returns the tenant scoping the current admin
// request.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	return id, ok
}

// IdentityFromContext returns the authenticated device on agent
// routes.
func IdentityFromContext(ctx context.Context) (*service.DeviceIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*service.DeviceIdentity)
	return identity, ok
}

// AdminTenant resolves the tenant from the X-Tenant-ID header and
// stashes it in the request context. Requests without a valid tenant
// are rejected before any handler runs.
func AdminTenant(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(r.Header.Get("X-Tenant-ID"))
			if err != nil {
				WriteError(w, log, sberrors.ErrInvalidRequest)
				return
			}
			ctx := context.WithValue(r.Context(), tenantContextKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceAuth authenticates agent requests with the X-API-Key header.
// Every failed attempt is already audited by the service layer.
func DeviceAuth(handler *service.ServiceHandler, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				instrumentation.AuthFailures.WithLabelValues("missing_key").Inc()
				WriteError(w, log, sberrors.ErrInvalidApiKey)
				return
			}
			identity, err := handler.ValidateApiKey(r.Context(), key, remoteIP(r), r.UserAgent())
			if err != nil {
				instrumentation.AuthFailures.WithLabelValues(sberrors.Code(err)).Inc()
				WriteError(w, log, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies the per-tenant request budget. Devices count
// against their tenant; unauthenticated requests fall back to the
// client IP.
func RateLimit(cfg *config.Config) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RateLimit.Requests,
		cfg.RateLimitWindow(),
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if identity, ok := IdentityFromContext(r.Context()); ok {
				return identity.TenantID.String(), nil
			}
			if tenantID, ok := TenantFromContext(r.Context()); ok {
				return tenantID.String(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retry := int(cfg.RateLimitWindow().Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			WriteJSONResponse(w, http.StatusTooManyRequests, api.ErrorResponse{
				Error:      sberrors.Code(sberrors.ErrRateLimitExceeded),
				Message:    "request budget exhausted",
				RetryAfter: &retry,
			})
		}),
	)
}

// RequestLogger emits one line per served request, tagged with the
// request id assigned by chi's RequestID middleware.
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithReqIDFromCtx(r.Context(), logger).WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(started).String(),
			}).Debug("request served")
		})
	}
}

// Metrics records request latency per method and route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		instrumentation.ObserveRequest(r.Method, route, rec.status, started)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
