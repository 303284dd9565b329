package reconcile

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/differ"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/store"
)

func splitAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

type capturingNotifier struct {
	events []string
}

func (n *capturingNotifier) Notify(eventType string, _ map[string]any) {
	n.events = append(n.events, eventType)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), nil, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newDeviceWithBaseline(t *testing.T, st *store.Store, expected string, globs []string) *store.Device {
	t.Helper()
	ctx := context.Background()
	cluster, err := st.CreateCluster(ctx, "c1", "")
	require.NoError(t, err)
	device, err := st.CreateDevice(ctx, &store.Device{
		ClusterID: cluster.ID, DeviceKey: "d1", Vendor: "acme", Model: "x1",
		IP: "127.0.0.1", Port: 1, Protocol: dvp.ProtocolDVP1HTTP, Path: "/.well-known/device-version",
		AuthType: store.AuthNone, Enabled: true,
	})
	require.NoError(t, err)
	_, err = st.UpsertBaseline(ctx, &store.Baseline{
		ClusterID: cluster.ID, Vendor: "acme", Model: "x1",
		ExpectedMainVersion: expected, AllowedMainGlobs: globs,
	})
	require.NoError(t, err)
	return device
}

func TestReconciler_Reconcile_OfflineOnTransportFailure(t *testing.T) {
	st := newTestStore(t)
	device := newDeviceWithBaseline(t, st, "1.0.0", nil)

	rec := New(st, dvp.NewClient(0), differ.New(st, http.DefaultClient), nil, nil)
	result := rec.Reconcile(context.Background(), device, 0)

	require.False(t, result.Success)
	require.Equal(t, store.StateOffline, result.State)

	updated, err := st.GetDevice(context.Background(), device.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateOffline, updated.LastState)
}

func TestReconciler_Reconcile_OKWhenBaselineMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,"versions":{"main":"1.0.0"}}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	device := deviceAtServer(t, st, srv, "1.0.0", nil)

	notifier := &capturingNotifier{}
	rec := New(st, dvp.NewClient(0), differ.New(st, http.DefaultClient), notifier, nil)
	result := rec.Reconcile(context.Background(), device, 0)

	require.True(t, result.Success)
	require.Equal(t, store.StateOK, result.State)
	require.Contains(t, notifier.events, store.EventStateChange)
	require.Contains(t, notifier.events, store.EventVersionObserved)
}

func TestReconciler_Reconcile_MismatchWhenBaselineDisallows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,"versions":{"main":"9.9.9"}}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	device := deviceAtServer(t, st, srv, "1.0.0", nil)

	rec := New(st, dvp.NewClient(0), differ.New(st, http.DefaultClient), nil, nil)
	result := rec.Reconcile(context.Background(), device, 0)

	require.True(t, result.Success)
	require.Equal(t, store.StateMismatch, result.State)
}

func TestReconciler_Reconcile_NoBaselineConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,"versions":{"main":"1.0.0"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	st := newTestStore(t)
	cluster, err := st.CreateCluster(ctx, "c2", "")
	require.NoError(t, err)
	host, port := splitAddr(t, srv.URL)
	device, err := st.CreateDevice(ctx, &store.Device{
		ClusterID: cluster.ID, DeviceKey: "d2", Vendor: "acme", Model: "x2",
		IP: host, Port: port, Protocol: dvp.ProtocolDVP1HTTP, Path: "/.well-known/device-version",
		AuthType: store.AuthNone, Enabled: true,
	})
	require.NoError(t, err)

	rec := New(st, dvp.NewClient(0), differ.New(st, http.DefaultClient), nil, nil)
	result := rec.Reconcile(ctx, device, 0)

	require.True(t, result.Success)
	require.Equal(t, store.StateNoBaseline, result.State)
}

func deviceAtServer(t *testing.T, st *store.Store, srv *httptest.Server, expected string, globs []string) *store.Device {
	t.Helper()
	ctx := context.Background()
	cluster, err := st.CreateCluster(ctx, "cluster-"+t.Name(), "")
	require.NoError(t, err)
	host, port := splitAddr(t, srv.URL)
	device, err := st.CreateDevice(ctx, &store.Device{
		ClusterID: cluster.ID, DeviceKey: "dev-" + t.Name(), Vendor: "acme", Model: "x1",
		IP: host, Port: port, Protocol: dvp.ProtocolDVP1HTTP, Path: "/.well-known/device-version",
		AuthType: store.AuthNone, Enabled: true,
	})
	require.NoError(t, err)
	_, err = st.UpsertBaseline(ctx, &store.Baseline{
		ClusterID: cluster.ID, Vendor: "acme", Model: "x1", ExpectedMainVersion: expected, AllowedMainGlobs: globs,
	})
	require.NoError(t, err)
	return device
}
