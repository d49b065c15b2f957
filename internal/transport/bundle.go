package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	api "github.com/signalbeam/signalbeam/api/v1"
)

func (h *Handler) createBundle(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req api.CreateBundleRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.CreateBundle(r.Context(), tenantID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) listBundles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.ListBundles(r.Context(), tenantID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getBundle(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	bundleID, err := PathUUID(r, "bundleId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.GetBundle(r.Context(), tenantID, bundleID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) deleteBundle(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	bundleID, err := PathUUID(r, "bundleId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.DeleteBundle(r.Context(), tenantID, bundleID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createBundleVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	bundleID, err := PathUUID(r, "bundleId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req api.CreateBundleVersionRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.CreateBundleVersion(r.Context(), tenantID, bundleID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) listBundleVersions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	bundleID, err := PathUUID(r, "bundleId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.ListBundleVersions(r.Context(), tenantID, bundleID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getBundleVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	bundleID, err := PathUUID(r, "bundleId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.GetBundleVersion(r.Context(), tenantID, bundleID, chi.URLParam(r, "version"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) assignDesiredState(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req api.AssignDesiredStateRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.AssignDesiredState(r.Context(), tenantID, deviceID, "operator", req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getDeviceDesiredState(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	// Scope check before the device-keyed lookup.
	if _, err := h.svc.GetDevice(r.Context(), tenantID, deviceID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.GetDesiredState(r.Context(), deviceID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}
