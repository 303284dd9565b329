package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifier_Notify_PostsEnvelope(t *testing.T) {
	var mu sync.Mutex
	var got envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	n.Notify("state_change", map[string]any{"device_id": float64(1), "new_state": "ok"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.EventType == "state_change"
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got.EventID)
	require.Equal(t, "ok", got.Fields["new_state"])
}

func TestNotifier_Notify_NoopWithoutURL(t *testing.T) {
	n := New("", nil)
	require.NotPanics(t, func() { n.Notify("state_change", nil) })
}

func TestNotifier_Notify_SilentOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	require.NotPanics(t, func() { n.Notify("state_change", nil) })
}
