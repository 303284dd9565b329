package auth

import (
	"context"
	"net/http"

	"github.com/xxrust/device-version-manager/internal/apierr"
)

type contextKey int

const principalKey contextKey = iota

// FromContext returns the Principal a RequireLogin/RequireAdmin middleware
// attached to the request context, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequireLogin rejects unauthenticated requests with 401; any authenticated
// role (viewer or admin) passes through.
func (g *Gate) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := g.Authenticate(r)
		if !ok {
			apierr.WriteCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// RequireAdmin rejects anything but an admin-token or admin-role session.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := g.Authenticate(r)
		if !ok {
			apierr.WriteCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if p.Role != RoleAdmin {
			apierr.WriteCode(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}
