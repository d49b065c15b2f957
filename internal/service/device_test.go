package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/stretchr/testify/require"
)

func setTags(st *TestStore, deviceID uuid.UUID, tags ...string) {
	device := st.devices[deviceID]
	device.Tags = tags
	st.devices[deviceID] = device
}

func TestUpdateDeviceTags(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationApproved)

	resp, err := h.UpdateDeviceTags(ctx, tenantID, deviceID, api.DeviceTagsRequest{
		Add: []string{"Region=EU-West", "env=prod", "critical"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"region=eu-west", "env=prod", "critical"}, resp.Tags)

	// adding a duplicate under different casing is a no-op
	resp, err = h.UpdateDeviceTags(ctx, tenantID, deviceID, api.DeviceTagsRequest{
		Add:    []string{"ENV=PROD"},
		Remove: []string{"critical"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"region=eu-west", "env=prod"}, resp.Tags)

	_, err = h.UpdateDeviceTags(ctx, tenantID, deviceID, api.DeviceTagsRequest{
		Add: []string{"bad tag!"},
	})
	require.ErrorIs(t, err, sberrors.ErrInvalidRequest)

	// removing a tag that was never set is fine
	resp, err = h.UpdateDeviceTags(ctx, tenantID, deviceID, api.DeviceTagsRequest{
		Remove: []string{"ghost=tag"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Tags, 2)
}

func TestListDevicesWithTagQuery(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)

	euProd := seedDevice(st, tenantID, api.RegistrationApproved)
	usProd := seedDevice(st, tenantID, api.RegistrationApproved)
	euDev := seedDevice(st, tenantID, api.RegistrationApproved)

	setTags(st, euProd, "region=eu", "env=prod")
	setTags(st, usProd, "region=us", "env=prod")
	setTags(st, euDev, "region=eu", "env=dev")

	resp, err := h.ListDevices(ctx, tenantID, ListDevicesRequest{TagQuery: "region=eu AND env=prod"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, euProd, resp.Items[0].DeviceID)

	resp, err = h.ListDevices(ctx, tenantID, ListDevicesRequest{TagQuery: "env=prod OR env=dev"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)

	resp, err = h.ListDevices(ctx, tenantID, ListDevicesRequest{TagQuery: "NOT env=prod"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, euDev, resp.Items[0].DeviceID)

	_, err = h.ListDevices(ctx, tenantID, ListDevicesRequest{TagQuery: "env=="})
	require.ErrorIs(t, err, sberrors.ErrInvalidTagQuery)
}

func TestAssignDeviceToGroup(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)
	deviceID := seedDevice(st, tenantID, api.RegistrationApproved)

	static, err := h.CreateDeviceGroup(ctx, tenantID, api.CreateDeviceGroupRequest{
		Name: "rack-1", Type: api.GroupTypeStatic,
	})
	require.NoError(t, err)
	dynamic, err := h.CreateDeviceGroup(ctx, tenantID, api.CreateDeviceGroupRequest{
		Name: "eu-fleet", Type: api.GroupTypeDynamic, TagQuery: "region=eu",
	})
	require.NoError(t, err)

	require.NoError(t, h.AssignDeviceToGroup(ctx, tenantID, static.GroupID, deviceID))
	require.Equal(t, static.GroupID, *st.devices[deviceID].DeviceGroupID)

	// dynamic membership is owned by the sync loop
	err = h.AssignDeviceToGroup(ctx, tenantID, dynamic.GroupID, deviceID)
	require.ErrorIs(t, err, sberrors.ErrInvalidRequest)

	require.NoError(t, h.RemoveDeviceFromGroup(ctx, tenantID, static.GroupID, deviceID))
	require.Nil(t, st.devices[deviceID].DeviceGroupID)
}

func TestSyncDynamicGroups(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	tenantID := seedTenant(st, 10)

	tagged := seedDevice(st, tenantID, api.RegistrationApproved)
	untagged := seedDevice(st, tenantID, api.RegistrationApproved)

	_, err := h.UpdateDeviceTags(ctx, tenantID, tagged, api.DeviceTagsRequest{Add: []string{"region=eu"}})
	require.NoError(t, err)

	group, err := h.CreateDeviceGroup(ctx, tenantID, api.CreateDeviceGroupRequest{
		Name: "eu-fleet", Type: api.GroupTypeDynamic, TagQuery: "region=eu",
	})
	require.NoError(t, err)

	require.NoError(t, h.SyncDynamicGroups(ctx))
	members, err := st.DeviceGroup().ListMemberIDs(ctx, group.GroupID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, tagged, members[0])

	// a second sync with unchanged tags is a fixed point
	require.NoError(t, h.SyncDynamicGroups(ctx))
	members, err = st.DeviceGroup().ListMemberIDs(ctx, group.GroupID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	// retagging moves membership on the next sync
	_, err = h.UpdateDeviceTags(ctx, tenantID, untagged, api.DeviceTagsRequest{Add: []string{"region=eu"}})
	require.NoError(t, err)
	_, err = h.UpdateDeviceTags(ctx, tenantID, tagged, api.DeviceTagsRequest{Remove: []string{"region=eu"}})
	require.NoError(t, err)

	require.NoError(t, h.SyncDynamicGroups(ctx))
	members, err = st.DeviceGroup().ListMemberIDs(ctx, group.GroupID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, untagged, members[0])
}
