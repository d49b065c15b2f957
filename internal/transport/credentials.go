package transport

import (
	"net/http"

	api "github.com/signalbeam/signalbeam/api/v1"
)

func (h *Handler) createRegistrationToken(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req api.CreateRegistrationTokenRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	req.TenantID = tenantID
	resp, err := h.svc.CreateRegistrationToken(r.Context(), req, r.Header.Get("X-User"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req api.RegisterDeviceRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.RegisterDevice(r.Context(), tenantID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) approveDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req api.ApproveDeviceRequest
	if r.ContentLength > 0 {
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, h.log, err)
			return
		}
	}
	days := req.ApiKeyExpirationDays
	if days <= 0 {
		days = h.cfg.Auth.ApiKeyExpirationDays
	}
	key, err := h.svc.ApproveDevice(r.Context(), tenantID, deviceID, days)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if key == nil {
		// Already approved; no new key is minted.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSONResponse(w, http.StatusOK, key)
}

func (h *Handler) rejectDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.RejectDevice(r.Context(), tenantID, deviceID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateApiKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	key, err := h.svc.RotateApiKey(r.Context(), tenantID, deviceID, h.cfg.Auth.ApiKeyExpirationDays)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, key)
}

func (h *Handler) revokeApiKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.RevokeApiKeys(r.Context(), tenantID, deviceID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
