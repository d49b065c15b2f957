package transport

import (
	"net/http"

	api "github.com/signalbeam/signalbeam/api/v1"
)

func (h *Handler) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req api.HeartbeatRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.PostHeartbeat(r.Context(), identity.DeviceID, req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) postMetrics(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req api.MetricsRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.PostMetrics(r.Context(), identity.DeviceID, req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getAgentDesiredState(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.GetDesiredState(r.Context(), identity.DeviceID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) reportState(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req api.ReportStateRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.ReportState(r.Context(), identity.DeviceID, req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
