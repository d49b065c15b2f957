package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
	"github.com/signalbeam/signalbeam/internal/tagquery"
)

func (h *ServiceHandler) CreateDeviceGroup(ctx context.Context, tenantID uuid.UUID, req api.CreateDeviceGroupRequest) (*api.DeviceGroupResponse, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", sberrors.ErrInvalidRequest)
	}
	switch req.Type {
	case api.GroupTypeStatic:
		if req.TagQuery != "" {
			return nil, fmt.Errorf("%w: static groups cannot carry a tag query", sberrors.ErrInvalidRequest)
		}
	case api.GroupTypeDynamic:
		if _, err := tagquery.Parse(req.TagQuery); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown group type %q", sberrors.ErrInvalidRequest, req.Type)
	}

	now := h.clock.Now()
	group := model.DeviceGroup{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      req.Name,
		Type:      req.Type,
		TagQuery:  req.TagQuery,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.DeviceGroup().Create(ctx, &group); err != nil {
		return nil, err
	}
	resp := group.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) ListDeviceGroups(ctx context.Context, tenantID uuid.UUID) ([]api.DeviceGroupResponse, error) {
	groups, err := h.store.DeviceGroup().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	resp := make([]api.DeviceGroupResponse, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, g.ToApiResource())
	}
	return resp, nil
}

func (h *ServiceHandler) DeleteDeviceGroup(ctx context.Context, tenantID, groupID uuid.UUID) error {
	return h.store.DeviceGroup().Delete(ctx, tenantID, groupID)
}

// AssignDeviceToGroup adds a device to a static group and records it as
// the device's primary group.
func (h *ServiceHandler) AssignDeviceToGroup(ctx context.Context, tenantID, groupID, deviceID uuid.UUID) error {
	group, err := h.store.DeviceGroup().Get(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	if group.Type != api.GroupTypeStatic {
		return fmt.Errorf("%w: dynamic group membership is computed from the tag query", sberrors.ErrInvalidRequest)
	}
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if err := h.store.DeviceGroup().AddMember(ctx, groupID, deviceID); err != nil {
		return err
	}
	device.DeviceGroupID = &groupID
	device.UpdatedAt = h.clock.Now()
	return h.store.Device().Update(ctx, device)
}

func (h *ServiceHandler) RemoveDeviceFromGroup(ctx context.Context, tenantID, groupID, deviceID uuid.UUID) error {
	group, err := h.store.DeviceGroup().Get(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	if group.Type != api.GroupTypeStatic {
		return fmt.Errorf("%w: dynamic group membership is computed from the tag query", sberrors.ErrInvalidRequest)
	}
	device, err := h.store.Device().Get(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if err := h.store.DeviceGroup().RemoveMember(ctx, groupID, deviceID); err != nil {
		return err
	}
	if device.DeviceGroupID != nil && *device.DeviceGroupID == groupID {
		device.DeviceGroupID = nil
		device.UpdatedAt = h.clock.Now()
		return h.store.Device().Update(ctx, device)
	}
	return nil
}

// SyncDynamicGroups recomputes membership for every dynamic group by
// evaluating its tag query against current device tags, applying only
// the delta. Running it twice with unchanged tags is a fixed point.
func (h *ServiceHandler) SyncDynamicGroups(ctx context.Context) error {
	groups, err := h.store.DeviceGroup().ListDynamic(ctx)
	if err != nil {
		return err
	}
	for i := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := h.syncDynamicGroup(ctx, &groups[i]); err != nil {
			h.log.WithError(err).Warnf("syncing dynamic group %s", groups[i].ID)
		}
	}
	return nil
}

func (h *ServiceHandler) syncDynamicGroup(ctx context.Context, group *model.DeviceGroup) error {
	expr, err := tagquery.Parse(group.TagQuery)
	if err != nil {
		return err
	}

	devices, err := h.store.Device().ListByTenant(ctx, group.TenantID)
	if err != nil {
		return err
	}
	desired := make(map[uuid.UUID]struct{})
	for _, d := range devices {
		if expr.Matches(tagquery.ParseTags(d.Tags)) {
			desired[d.ID] = struct{}{}
		}
	}

	current, err := h.store.DeviceGroup().ListMemberIDs(ctx, group.ID)
	if err != nil {
		return err
	}
	currentSet := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	for id := range desired {
		if _, ok := currentSet[id]; !ok {
			if err := h.store.DeviceGroup().AddMember(ctx, group.ID, id); err != nil {
				return err
			}
		}
	}
	for _, id := range current {
		if _, ok := desired[id]; !ok {
			if err := h.store.DeviceGroup().RemoveMember(ctx, group.ID, id); err != nil {
				return err
			}
		}
	}
	return nil
}
