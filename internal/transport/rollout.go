package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
)

func (h *Handler) createRollout(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req api.CreateRolloutRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.CreateRollout(r.Context(), tenantID, r.Header.Get("X-User"), req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) listRollouts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.ListRollouts(r.Context(), tenantID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.GetRollout)
}

func (h *Handler) startRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.StartRollout)
}

func (h *Handler) pauseRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.PauseRollout)
}

func (h *Handler) resumeRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.ResumeRollout)
}

func (h *Handler) advanceRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.AdvanceRolloutPhase)
}

func (h *Handler) rollbackRollout(w http.ResponseWriter, r *http.Request) {
	h.rolloutAction(w, r, h.svc.RollbackRollout)
}

func (h *Handler) rolloutAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, rolloutID uuid.UUID) (*api.RolloutResponse, error)) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	rolloutID, err := PathUUID(r, "rolloutId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := op(r.Context(), tenantID, rolloutID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var status *api.AlertStatus
	if s := r.URL.Query().Get("status"); s != "" {
		v := api.AlertStatus(s)
		status = &v
	}
	resp, err := h.svc.ListAlerts(r.Context(), tenantID, status)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	alertID, err := PathUUID(r, "alertId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.GetAlert(r.Context(), tenantID, alertID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	alertID, err := PathUUID(r, "alertId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.AcknowledgeAlert(r.Context(), tenantID, alertID, r.Header.Get("X-User"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	alertID, err := PathUUID(r, "alertId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.ResolveAlert(r.Context(), tenantID, alertID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}
