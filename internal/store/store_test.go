package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), nil, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateCluster_DuplicateNameIsConflict(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)

	_, err = st.CreateCluster(ctx, "west", "")
	require.True(t, storeerr.Is(err, storeerr.KindConflict))
}

func TestGetCluster_MissingIsNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetCluster(context.Background(), 999)
	require.True(t, storeerr.Is(err, storeerr.KindNotFound))
}

func TestCreateDevice_AndGetDevice_RoundTrips(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)

	created, err := st.CreateDevice(ctx, &Device{
		ClusterID: cluster.ID, DeviceKey: "sn-1", Vendor: "acme", Model: "x1",
		IP: "10.0.0.5", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version",
		Enabled: true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	fetched, err := st.GetDevice(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "sn-1", fetched.DeviceKey)
	require.Equal(t, "acme", fetched.Vendor)
	require.True(t, fetched.Enabled)
}

func TestUpsertDeviceByKey_CreatesThenUpdates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)

	d := &Device{ClusterID: cluster.ID, DeviceKey: "sn-2", Vendor: "acme", Model: "x1",
		IP: "10.0.0.6", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version"}

	id1, action1, err := st.UpsertDeviceByKey(ctx, d)
	require.NoError(t, err)
	require.Equal(t, "created", action1)

	d.Model = "x2"
	id2, action2, err := st.UpsertDeviceByKey(ctx, d)
	require.NoError(t, err)
	require.Equal(t, "updated", action2)
	require.Equal(t, id1, id2)

	fetched, err := st.GetDevice(ctx, id2)
	require.NoError(t, err)
	require.Equal(t, "x2", fetched.Model)
}

func TestUpdateDevice_PartialUpdateLeavesOtherFieldsUnchanged(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)
	created, err := st.CreateDevice(ctx, &Device{
		ClusterID: cluster.ID, DeviceKey: "sn-3", Vendor: "acme", Model: "x1",
		IP: "10.0.0.7", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version",
	})
	require.NoError(t, err)

	newModel := "x9"
	updated, err := st.UpdateDevice(ctx, created.ID, DeviceUpdate{Model: &newModel})
	require.NoError(t, err)
	require.Equal(t, "x9", updated.Model)
	require.Equal(t, "sn-3", updated.DeviceKey)
	require.Equal(t, "acme", updated.Vendor)
}

func TestDeleteDevice_RemovesRowAndCascadesDependents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)
	created, err := st.CreateDevice(ctx, &Device{
		ClusterID: cluster.ID, DeviceKey: "sn-4", Vendor: "acme", Model: "x1",
		IP: "10.0.0.8", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version",
	})
	require.NoError(t, err)

	_, err = st.CreateEvent(ctx, nil, &Event{DeviceID: created.ID, EventType: EventVersionObserved})
	require.NoError(t, err)

	require.NoError(t, st.DeleteDevice(ctx, created.ID))

	_, err = st.GetDevice(ctx, created.ID)
	require.True(t, storeerr.Is(err, storeerr.KindNotFound))

	events, err := st.ListEvents(ctx, &created.ID, 10, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDeleteDevice_MissingIsNotFound(t *testing.T) {
	st := openTestStore(t)
	err := st.DeleteDevice(context.Background(), 999)
	require.True(t, storeerr.Is(err, storeerr.KindNotFound))
}

func TestUpdateDeviceState_PersistsLastState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)
	created, err := st.CreateDevice(ctx, &Device{
		ClusterID: cluster.ID, DeviceKey: "sn-5", Vendor: "acme", Model: "x1",
		IP: "10.0.0.9", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version",
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdateDeviceState(ctx, created.ID, StateMismatch))

	fetched, err := st.GetDevice(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StateMismatch, fetched.LastState)
	require.NotNil(t, fetched.LastStateAt)
}

func TestListDevices_FiltersByClusterAndEnabled(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c1, err := st.CreateCluster(ctx, "west", "")
	require.NoError(t, err)
	c2, err := st.CreateCluster(ctx, "east", "")
	require.NoError(t, err)

	_, err = st.CreateDevice(ctx, &Device{ClusterID: c1.ID, DeviceKey: "sn-6", Vendor: "acme", Model: "x1",
		IP: "10.0.0.10", Port: 8080, Protocol: "dvp1-http", Path: "/p", Enabled: true})
	require.NoError(t, err)
	_, err = st.CreateDevice(ctx, &Device{ClusterID: c1.ID, DeviceKey: "sn-7", Vendor: "acme", Model: "x1",
		IP: "10.0.0.11", Port: 8080, Protocol: "dvp1-http", Path: "/p", Enabled: false})
	require.NoError(t, err)
	_, err = st.CreateDevice(ctx, &Device{ClusterID: c2.ID, DeviceKey: "sn-8", Vendor: "acme", Model: "x1",
		IP: "10.0.0.12", Port: 8080, Protocol: "dvp1-http", Path: "/p", Enabled: true})
	require.NoError(t, err)

	all, err := st.ListDevices(ctx, nil, false)
	require.NoError(t, err)
	require.Len(t, all, 3)

	onlyC1, err := st.ListDevices(ctx, &c1.ID, false)
	require.NoError(t, err)
	require.Len(t, onlyC1, 2)

	onlyC1Enabled, err := st.ListDevices(ctx, &c1.ID, true)
	require.NoError(t, err)
	require.Len(t, onlyC1Enabled, 1)
	require.Equal(t, "sn-6", onlyC1Enabled[0].DeviceKey)
}

func TestPing_SucceedsOnOpenStore(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.Ping(context.Background()))
}
