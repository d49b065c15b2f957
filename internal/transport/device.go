package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/service"
)

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	req := service.ListDevicesRequest{
		TagQuery: r.URL.Query().Get("tagQuery"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := api.RegistrationStatus(s)
		req.Status = &status
	}
	if g := r.URL.Query().Get("groupId"); g != "" {
		groupID, err := uuid.Parse(g)
		if err != nil {
			WriteError(w, h.log, err)
			return
		}
		req.GroupID = &groupID
	}
	req.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	req.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	resp, err := h.svc.ListDevices(r.Context(), tenantID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.GetDevice(r.Context(), tenantID, deviceID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req api.UpdateDeviceRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.UpdateDevice(r.Context(), tenantID, deviceID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.DeleteDevice(r.Context(), tenantID, deviceID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateDeviceTags(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req api.DeviceTagsRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.UpdateDeviceTags(r.Context(), tenantID, deviceID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) createDeviceGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req api.CreateDeviceGroupRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	resp, err := h.svc.CreateDeviceGroup(r.Context(), tenantID, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) listDeviceGroups(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.ListDeviceGroups(r.Context(), tenantID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) deleteDeviceGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := PathUUID(r, "groupId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.svc.DeleteDeviceGroup(r.Context(), tenantID, groupID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addGroupMember(w http.ResponseWriter, r *http.Request) {
	h.groupMembership(w, r, h.svc.AssignDeviceToGroup)
}

func (h *Handler) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	h.groupMembership(w, r, h.svc.RemoveDeviceFromGroup)
}

func (h *Handler) groupMembership(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, groupID, deviceID uuid.UUID) error) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := PathUUID(r, "groupId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	deviceID, err := PathUUID(r, "deviceId")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := op(r.Context(), tenantID, groupID, deviceID); err != nil {
		WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
