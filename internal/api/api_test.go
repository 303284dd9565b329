package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/auth"
	"github.com/xxrust/device-version-manager/internal/discovery"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/llm"
	"github.com/xxrust/device-version-manager/internal/reconcile"
	"github.com/xxrust/device-version-manager/internal/scheduler"
	"github.com/xxrust/device-version-manager/internal/store"
)

func splitTestAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), nil, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dvpClient := dvp.NewClient(0)
	rec := reconcile.New(st, dvpClient, nil, nil, nil)
	sched := scheduler.New(st, rec, nil, 0)
	disc := discovery.New(st, dvpClient, nil, 4)
	gate := auth.NewGate(st, "admin-token")
	analyzer := llm.New("")

	srv := New(st, dvpClient, rec, sched, disc, gate, nil, analyzer, nil, "", false)
	return srv, st
}

func adminRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Api-Token", "admin-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAPI_Healthz_IsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAPI_Readyz_ReturnsServiceUnavailableWhileShuttingDown(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.MarkShuttingDown()

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPI_ClusterAndDeviceCRUD_RequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/clusters", bytes.NewBufferString(`{"name":"west"}`)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/clusters", map[string]string{"name": "west"}))
	require.Equal(t, http.StatusCreated, rr.Code)

	var cluster store.Cluster
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cluster))
	require.Equal(t, "west", cluster.Name)

	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/devices", map[string]any{
		"cluster_id": cluster.ID, "device_key": "sn-1", "vendor": "acme", "model": "x1", "ip": "10.0.0.5", "port": 8080,
	}))
	require.Equal(t, http.StatusCreated, rr.Code)

	var device store.Device
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&device))
	require.Equal(t, "sn-1", device.DeviceKey)
}

func TestAPI_Status_ReturnsAggregatedView(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "c1", "")
	require.NoError(t, err)
	_, err = st.CreateDevice(ctx, &store.Device{ClusterID: cluster.ID, DeviceKey: "sn-2", Vendor: "acme", Model: "x1", IP: "10.0.0.6", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version", Enabled: true})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var entries []store.StatusEntry
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.Equal(t, store.StateNeverPolled, entries[0].State)
}

func TestAPI_StatusSummary_NotConfiguredWithoutAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/status/summary", nil))
	require.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestAPI_Register_ProbesAndInfersIdentityWhenMissing(t *testing.T) {
	dvpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"dvp","protocol_version":1,
			"device":{"serial":"sn-auto","supplier":"acme","device_type":"x2"},
			"versions":{"main":"2.0.0"}}`))
	}))
	defer dvpSrv.Close()

	srv, _ := newTestServer(t)
	host, port := splitTestAddr(t, dvpSrv.URL)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/register", map[string]any{
		"ip": host, "port": port,
	}))
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp registerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "created", resp.Action)
}

func TestAPI_AckControlledFiles_ClearsStickyState(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "c1", "")
	require.NoError(t, err)
	device, err := st.CreateDevice(ctx, &store.Device{ClusterID: cluster.ID, DeviceKey: "sn-3", Vendor: "acme", Model: "x1", IP: "10.0.0.7", Port: 8080, Protocol: "dvp1-http", Path: "/.well-known/device-version", Enabled: true})
	require.NoError(t, err)

	_, err = st.CreateEvent(ctx, nil, &store.Event{DeviceID: device.ID, EventType: store.EventControlledFilesChange, NewState: store.StateFilesChanged})
	require.NoError(t, err)
	require.NoError(t, st.UpdateDeviceState(ctx, device.ID, store.StateOK))

	status, err := st.GetStatus(ctx, device.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateFilesChanged, status.State)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/devices/"+itoa(device.ID)+"/ack-controlled-files", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var ackResp ackResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ackResp))
	require.True(t, ackResp.OK)
	require.NotZero(t, ackResp.AckChangeEventID)

	status, err = st.GetStatus(ctx, device.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateOK, status.State)
}
