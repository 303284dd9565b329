package differ

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(context.Background(), nil, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testDevice(t *testing.T, st *store.Store) *store.Device {
	t.Helper()
	cluster, err := st.CreateCluster(context.Background(), "cluster-a", "")
	require.NoError(t, err)
	d, err := st.CreateDevice(context.Background(), &store.Device{
		ClusterID: cluster.ID, DeviceKey: "dev-1", Vendor: "acme", Model: "x1",
		IP: "10.0.0.1", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version",
		AuthType: store.AuthNone, Enabled: true,
	})
	require.NoError(t, err)
	return d
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestDiffer_Run_FirstFilesPayload_NoChangesYetBaselineRecorded(t *testing.T) {
	st := newTestStore(t)
	device := testDevice(t, st)
	rule := &store.ControlledFileRule{MaxBytes: 1024, Mode: store.ModeInline, Paths: []string{"/etc/*.conf"}}

	curr := map[string]any{
		"files": []any{
			map[string]any{"path": "/etc/app.conf", "checksum": "abc", "content_b64": b64("hello")},
		},
	}

	d := New(st, http.DefaultClient)
	changes, err := d.Run(context.Background(), nil, device, rule, curr, nil, 1)
	require.NoError(t, err)
	require.Empty(t, changes)

	obs, err := st.GetObservation(context.Background(), device.ID, "/etc/app.conf", "abc")
	require.NoError(t, err)
	require.Equal(t, b64("hello"), obs.ContentB64)
}

func TestDiffer_Run_DetectsChangeAndProducesDiff(t *testing.T) {
	st := newTestStore(t)
	device := testDevice(t, st)
	rule := &store.ControlledFileRule{MaxBytes: 1024, Mode: store.ModeInline, Paths: []string{"/etc/*.conf"}}

	prev := map[string]any{
		"files": []any{
			map[string]any{"path": "/etc/app.conf", "checksum": "v1", "content_b64": b64("line1\nline2\n")},
		},
	}
	curr := map[string]any{
		"files": []any{
			map[string]any{"path": "/etc/app.conf", "checksum": "v2", "content_b64": b64("line1\nline2changed\n")},
		},
	}

	d := New(st, http.DefaultClient)
	changes, err := d.Run(context.Background(), nil, device, rule, curr, prev, 2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "/etc/app.conf", changes[0].Path)
	require.Equal(t, "v1", changes[0].OldFingerprint)
	require.Equal(t, "v2", changes[0].NewFingerprint)
	require.Contains(t, changes[0].Diff, "line2changed")
}

func TestDiffer_Run_IgnoresUnselectedFiles(t *testing.T) {
	st := newTestStore(t)
	device := testDevice(t, st)
	rule := &store.ControlledFileRule{MaxBytes: 1024, Mode: store.ModeInline, Paths: []string{"/etc/*.conf"}}

	prev := map[string]any{"files": []any{map[string]any{"path": "/var/log/app.log", "checksum": "a"}}}
	curr := map[string]any{"files": []any{map[string]any{"path": "/var/log/app.log", "checksum": "b"}}}

	d := New(st, http.DefaultClient)
	changes, err := d.Run(context.Background(), nil, device, rule, curr, prev, 3)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestDiffer_Run_NoRuleGlobs_ReturnsNil(t *testing.T) {
	st := newTestStore(t)
	device := testDevice(t, st)
	d := New(st, http.DefaultClient)
	changes, err := d.Run(context.Background(), nil, device, &store.ControlledFileRule{MaxBytes: 100}, map[string]any{}, nil, 1)
	require.NoError(t, err)
	require.Nil(t, changes)
}

func TestDiffer_Run_FetchMode_UsesFileEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/device-version/file", r.URL.Path)
		require.Equal(t, "/etc/app.conf", r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content_b64":"` + b64("fetched-content") + `"}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	cluster, err := st.CreateCluster(context.Background(), "cluster-b", "")
	require.NoError(t, err)
	host, port := splitTestServerAddr(t, srv.URL)
	device, err := st.CreateDevice(context.Background(), &store.Device{
		ClusterID: cluster.ID, DeviceKey: "dev-2", Vendor: "acme", Model: "x1",
		IP: host, Port: port, Protocol: "dvp1-http", Path: "/.well-known/device-version",
		AuthType: store.AuthNone, Enabled: true,
	})
	require.NoError(t, err)

	rule := &store.ControlledFileRule{MaxBytes: 1024, Mode: store.ModeFetch, Paths: []string{"/etc/*.conf"}}
	prev := map[string]any{"files": []any{map[string]any{"path": "/etc/app.conf", "checksum": "v1"}}}
	curr := map[string]any{"files": []any{map[string]any{"path": "/etc/app.conf", "checksum": "v2"}}}

	d := New(st, http.DefaultClient)
	changes, err := d.Run(context.Background(), nil, device, rule, curr, prev, 5)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	obs, err := st.GetObservation(context.Background(), device.ID, "/etc/app.conf", "v2")
	require.NoError(t, err)
	require.Equal(t, "fetch", obs.Source)
}

func splitTestServerAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
