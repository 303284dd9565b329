// Package auth implements the Auth Gate (C9): an API-token admin bypass, a
// session-cookie gate backed by internal/store.Session, and a TTL memoization
// cache in front of session lookups, grounded on the reference codebase's
// own ttlcache-fronted provider pattern (internal/data/device).
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/xxrust/device-version-manager/internal/store"
)

const (
	CookieName = "vm_session"

	RoleViewer = "viewer"
	RoleAdmin  = "admin"

	defaultSessionTTL = 24 * time.Hour
	cacheTTLCeiling   = 5 * time.Minute
)

// Principal is what a request resolves to once authorized.
type Principal struct {
	Role     string
	Username string
	UserID   int64
	ViaToken bool
}

// PasswordVerifier checks a plaintext password against a stored hash. The
// hashing scheme itself is out of scope; this is a pluggable seam so the
// login handler can exist without this package knowing the scheme.
type PasswordVerifier interface {
	Verify(passwordHash, password string) bool
}

// Gate maps inbound credentials to a Principal.
type Gate struct {
	store     *store.Store
	apiToken  string
	sessionMu sync.RWMutex
	sessions  *ttlcache.Cache[string, store.Session]
}

func NewGate(st *store.Store, apiToken string) *Gate {
	cache := ttlcache.New[string, store.Session](
		ttlcache.WithTTL[string, store.Session](cacheTTLCeiling),
	)
	go cache.Start()
	return &Gate{store: st, apiToken: apiToken, sessions: cache}
}

// Authenticate resolves the request to a Principal, or returns ok=false if
// no valid credential was presented.
func (g *Gate) Authenticate(r *http.Request) (Principal, bool) {
	if g.apiToken != "" {
		if tok := r.Header.Get("X-Api-Token"); tok != "" && constantTimeEqual(tok, g.apiToken) {
			return Principal{Role: RoleAdmin, ViaToken: true}, true
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, false
	}
	sess, ok := g.resolveSession(r.Context(), cookie.Value)
	if !ok {
		return Principal{}, false
	}
	return Principal{Role: sess.Role, Username: sess.Username, UserID: sess.UserID}, true
}

// resolveSession checks the TTL cache first; on a miss it falls through to
// the Store, which remains authoritative, and repopulates the cache with the
// session's own remaining TTL (capped so a long-lived session doesn't pin a
// stale cache entry past a revocation window).
func (g *Gate) resolveSession(ctx context.Context, id string) (store.Session, bool) {
	g.sessionMu.RLock()
	if item := g.sessions.Get(id); item != nil {
		sess := item.Value()
		g.sessionMu.RUnlock()
		return sess, true
	}
	g.sessionMu.RUnlock()

	sess, err := g.store.GetSession(ctx, id)
	if err != nil {
		return store.Session{}, false
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return store.Session{}, false
	}
	if ttl > cacheTTLCeiling {
		ttl = cacheTTLCeiling
	}

	g.sessionMu.Lock()
	g.sessions.Set(id, *sess, ttl)
	g.sessionMu.Unlock()
	return *sess, true
}

// InvalidateSession drops a session from the cache immediately; called by
// the logout handler so a revoked session cannot be served stale from cache
// for the remainder of its cached TTL.
func (g *Gate) InvalidateSession(id string) {
	g.sessionMu.Lock()
	defer g.sessionMu.Unlock()
	g.sessions.Delete(id)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DefaultSessionTTL is the TTL CreateSession uses when the login handler
// issues a new session.
func DefaultSessionTTL() time.Duration { return defaultSessionTTL }
