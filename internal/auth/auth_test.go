package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), nil, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGate_Authenticate_ByAPIToken(t *testing.T) {
	st := newTestStore(t)
	g := NewGate(st, "s3cr3t")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Api-Token", "s3cr3t")

	p, ok := g.Authenticate(req)
	require.True(t, ok)
	require.Equal(t, RoleAdmin, p.Role)
	require.True(t, p.ViaToken)
}

func TestGate_Authenticate_WrongAPIToken(t *testing.T) {
	st := newTestStore(t)
	g := NewGate(st, "s3cr3t")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Api-Token", "wrong")

	_, ok := g.Authenticate(req)
	require.False(t, ok)
}

func TestGate_Authenticate_BySessionCookie(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := NewGate(st, "")

	user, err := st.CreateUser(ctx, &store.User{Username: "alice", PasswordHash: "x", Role: RoleViewer})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, user, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.ID})

	p, ok := g.Authenticate(req)
	require.True(t, ok)
	require.Equal(t, RoleViewer, p.Role)
	require.Equal(t, "alice", p.Username)

	// Second lookup should hit the TTL cache rather than the store, but must
	// resolve to the same principal.
	p2, ok := g.Authenticate(req)
	require.True(t, ok)
	require.Equal(t, p.Username, p2.Username)
}

func TestGate_Authenticate_ExpiredSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := NewGate(st, "")

	user, err := st.CreateUser(ctx, &store.User{Username: "bob", PasswordHash: "x", Role: RoleViewer})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, user, -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.ID})

	_, ok := g.Authenticate(req)
	require.False(t, ok)
}

func TestGate_RequireAdmin_RejectsViewer(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := NewGate(st, "")

	user, err := st.CreateUser(ctx, &store.User{Username: "carol", PasswordHash: "x", Role: RoleViewer})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, user, time.Hour)
	require.NoError(t, err)

	handler := g.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/poll", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.ID})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGate_RequireLogin_RejectsUnauthenticated(t *testing.T) {
	st := newTestStore(t)
	g := NewGate(st, "")

	handler := g.RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
