package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/service"
	"github.com/sirupsen/logrus"
)

// Handler exposes the service operations over HTTP.
type Handler struct {
	svc *service.ServiceHandler
	cfg *config.Config
	log logrus.FieldLogger
}

func NewHandler(svc *service.ServiceHandler, cfg *config.Config, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log}
}

// Register mounts the API under /api/v1. Admin routes are scoped by
// the X-Tenant-ID header; agent routes authenticate with the device
// API key and derive the tenant from it.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AdminTenant(h.log))
			r.Use(RateLimit(h.cfg))

			r.Post("/registration-tokens", h.createRegistrationToken)
			r.Post("/devices/register", h.registerDevice)

			r.Get("/devices", h.listDevices)
			r.Route("/devices/{deviceId}", func(r chi.Router) {
				r.Get("/", h.getDevice)
				r.Patch("/", h.updateDevice)
				r.Delete("/", h.deleteDevice)
				r.Put("/tags", h.updateDeviceTags)
				r.Post("/approve", h.approveDevice)
				r.Post("/reject", h.rejectDevice)
				r.Post("/apikeys/rotate", h.rotateApiKey)
				r.Delete("/apikeys", h.revokeApiKeys)
				r.Put("/desired-state", h.assignDesiredState)
				r.Get("/desired-state", h.getDeviceDesiredState)
			})

			r.Post("/device-groups", h.createDeviceGroup)
			r.Get("/device-groups", h.listDeviceGroups)
			r.Route("/device-groups/{groupId}", func(r chi.Router) {
				r.Delete("/", h.deleteDeviceGroup)
				r.Put("/members/{deviceId}", h.addGroupMember)
				r.Delete("/members/{deviceId}", h.removeGroupMember)
			})

			r.Post("/bundles", h.createBundle)
			r.Get("/bundles", h.listBundles)
			r.Route("/bundles/{bundleId}", func(r chi.Router) {
				r.Get("/", h.getBundle)
				r.Delete("/", h.deleteBundle)
				r.Post("/versions", h.createBundleVersion)
				r.Get("/versions", h.listBundleVersions)
				r.Get("/versions/{version}", h.getBundleVersion)
			})

			r.Post("/rollouts", h.createRollout)
			r.Get("/rollouts", h.listRollouts)
			r.Route("/rollouts/{rolloutId}", func(r chi.Router) {
				r.Get("/", h.getRollout)
				r.Post("/start", h.startRollout)
				r.Post("/pause", h.pauseRollout)
				r.Post("/resume", h.resumeRollout)
				r.Post("/advance", h.advanceRollout)
				r.Post("/rollback", h.rollbackRollout)
			})

			r.Get("/alerts", h.listAlerts)
			r.Route("/alerts/{alertId}", func(r chi.Router) {
				r.Get("/", h.getAlert)
				r.Post("/acknowledge", h.acknowledgeAlert)
				r.Post("/resolve", h.resolveAlert)
			})
		})

		r.Route("/agent", func(r chi.Router) {
			r.Use(DeviceAuth(h.svc, h.log))
			r.Use(RateLimit(h.cfg))

			r.Post("/heartbeat", h.postHeartbeat)
			r.Post("/metrics", h.postMetrics)
			r.Get("/desired-state", h.getAgentDesiredState)
			r.Post("/report", h.reportState)
		})
	})
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := TenantFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, sberrors.ErrInvalidRequest)
	}
	return id, ok
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (*service.DeviceIdentity, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, sberrors.ErrInvalidApiKey)
	}
	return identity, ok
}
