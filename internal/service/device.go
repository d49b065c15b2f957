package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/signalbeam/signalbeam/internal/tagquery"
)

// ListDevicesRequest carries the registry list filters.
type ListDevicesRequest struct {
	Status   *api.RegistrationStatus
	TagQuery string
	GroupID  *uuid.UUID
	Limit    int
	Offset   int
}

func (h *ServiceHandler) GetDevice(ctx context.Context, tenantID, deviceID uuid.UUID) (*api.DeviceResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	resp := device.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) UpdateDevice(ctx context.Context, tenantID, deviceID uuid.UUID, req api.UpdateDeviceRequest) (*api.DeviceResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		device.Name = *req.Name
	}
	if req.Metadata != nil {
		if len(*req.Metadata) > maxMetadataBytes {
			return nil, fmt.Errorf("%w: metadata exceeds %d bytes", sberrors.ErrInvalidRequest, maxMetadataBytes)
		}
		device.Metadata = *req.Metadata
	}
	device.UpdatedAt = h.clock.Now()
	if err := h.store.Device().Update(ctx, device); err != nil {
		return nil, err
	}
	resp := device.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) DeleteDevice(ctx context.Context, tenantID, deviceID uuid.UUID) error {
	err := h.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.DesiredState().Delete(ctx, deviceID); err != nil {
			return err
		}
		return tx.Device().Delete(ctx, tenantID, deviceID)
	})
	if err != nil {
		return err
	}
	h.events.Publish(ctx, events.SubjectDeviceEvents+"deleted", map[string]string{"deviceId": deviceID.String()})
	return nil
}

// ListDevices applies the status and group filters in the store and the
// tag query in memory; fleets are small (5-200 devices).
func (h *ServiceHandler) ListDevices(ctx context.Context, tenantID uuid.UUID, req ListDevicesRequest) (*api.DeviceListResponse, error) {
	var expr tagquery.Expr
	if req.TagQuery != "" {
		var err error
		expr, err = tagquery.Parse(req.TagQuery)
		if err != nil {
			return nil, err
		}
	}

	params := store.ListDevicesParams{Status: req.Status, GroupID: req.GroupID}
	if expr == nil {
		params.Limit = req.Limit
		params.Offset = req.Offset
	}
	devices, total, err := h.store.Device().List(ctx, tenantID, params)
	if err != nil {
		return nil, err
	}

	if expr != nil {
		filtered := devices[:0]
		for _, d := range devices {
			if expr.Matches(tagquery.ParseTags(d.Tags)) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
		total = int64(len(devices))
		if req.Offset > 0 {
			if req.Offset >= len(devices) {
				devices = nil
			} else {
				devices = devices[req.Offset:]
			}
		}
		if req.Limit > 0 && len(devices) > req.Limit {
			devices = devices[:req.Limit]
		}
	}

	return &api.DeviceListResponse{
		Items: lo.Map(devices, func(d model.Device, _ int) api.DeviceResponse { return d.ToApiResource() }),
		Total: total,
	}, nil
}

// UpdateDeviceTags adds and removes tags in one atomic write. Tags are
// canonicalized; invalid atoms are rejected.
func (h *ServiceHandler) UpdateDeviceTags(ctx context.Context, tenantID, deviceID uuid.UUID, req api.DeviceTagsRequest) (*api.DeviceResponse, error) {
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}

	tags := make(map[string]struct{}, len(device.Tags))
	for _, t := range device.Tags {
		tags[t] = struct{}{}
	}
	for _, raw := range req.Add {
		tag, ok := tagquery.ParseTag(raw)
		if !ok {
			return nil, fmt.Errorf("%w: invalid tag %q", sberrors.ErrInvalidRequest, raw)
		}
		tags[tagString(tag)] = struct{}{}
	}
	for _, raw := range req.Remove {
		tag, ok := tagquery.ParseTag(raw)
		if !ok {
			continue
		}
		delete(tags, tagString(tag))
	}

	device.Tags = lo.Keys(tags)
	device.UpdatedAt = h.clock.Now()
	if err := h.store.Device().Update(ctx, device); err != nil {
		return nil, err
	}
	resp := device.ToApiResource()
	return &resp, nil
}

func tagString(tag tagquery.Tag) string {
	if tag.Key == "" {
		return tag.Value
	}
	return tag.Key + "=" + tag.Value
}
