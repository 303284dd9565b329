package discovery

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

	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), nil, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func splitAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestExpandCIDR_CapsAtMaxTargetsAndEnumeratesAddresses(t *testing.T) {
	targets, err := ExpandCIDR("192.0.2.0/30", 8080)
	require.NoError(t, err)
	require.Len(t, targets, 4)
	require.Equal(t, "192.0.2.0", targets[0].IP)
	require.Equal(t, 8080, targets[0].Port)

	capped, err := ExpandCIDR("10.0.0.0/16", 8080)
	require.NoError(t, err)
	require.Len(t, capped, maxTargets)
}

func TestExpandHosts_PairsPort(t *testing.T) {
	targets := ExpandHosts([]string{"10.0.0.1", "10.0.0.2"}, 9000)
	require.Equal(t, []Target{{IP: "10.0.0.1", Port: 9000}, {IP: "10.0.0.2", Port: 9000}}, targets)
}

func TestDiscoverer_Run_UpsertsRespondingDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,
			"device":{"serial":"sn-123","supplier":"acme","device_type":"x1"},
			"versions":{"main":"1.2.3"}}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	host, port := splitAddr(t, srv.URL)

	d := New(st, dvp.NewClient(0), nil, 4)
	outcomes := d.Run(context.Background(), []Target{{IP: host, Port: port}},
		"/.well-known/device-version", "none", "")

	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success)
	require.Equal(t, "created", outcomes[0].Action)

	device, err := st.GetDeviceByKey(context.Background(), "sn-123")
	require.NoError(t, err)
	require.Equal(t, "acme", device.Vendor)
	require.Equal(t, "x1", device.Model)

	snap, err := st.GetLatestSnapshot(context.Background(), device.ID)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", snap.MainVersion)
}

func TestDiscoverer_Run_NoResponseRecordsFailure(t *testing.T) {
	st := newTestStore(t)
	d := New(st, dvp.NewClient(0), nil, 2)

	outcomes := d.Run(context.Background(), []Target{{IP: "127.0.0.1", Port: 1}},
		"/.well-known/device-version", "none", "")

	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Success)
	require.NotEmpty(t, outcomes[0].Error)
}

func TestDiscoverer_Run_MissingIdentitySkipsUpsert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,"versions":{"main":"1.0.0"}}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	host, port := splitAddr(t, srv.URL)

	d := New(st, dvp.NewClient(0), nil, 2)
	outcomes := d.Run(context.Background(), []Target{{IP: host, Port: port}},
		"/.well-known/device-version", "none", "")

	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Success)
	require.Equal(t, "missing_device_identity", outcomes[0].Error)
}
