package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/siep/siep/internal/platform/httpx"
)

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity stored by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// DenialObserver is notified whenever a request is refused.
type DenialObserver interface {
	ObserveDenied(role string)
}

// Middleware wires permission checks for HTTP handlers.
type Middleware struct {
	Matrix   Matrix
	Logger   *slog.Logger
	Observer DenialObserver
}

// Require allows the request when the current identity holds level on resource.
func (m Middleware) Require(resource string, level Level) func(http.Handler) http.Handler {
	return m.RequireAny(Grant{Resource: resource, Level: level})
}

// RequireAny allows the request when the identity satisfies at least one grant.
func (m Middleware) RequireAny(required ...Grant) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			for _, g := range required {
				if m.Matrix.HasPermissionForRole(id.Role, g.Resource, g.Level) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if m.Observer != nil {
				m.Observer.ObserveDenied(string(id.Role))
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("user", id.UserID),
					slog.String("role", string(id.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
		})
	}
}
