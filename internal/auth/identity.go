// Package auth implements coarse authenticated/unauthenticated access
// control: a session cookie for the dashboard, a static API key for
// machine callers, and an optional OIDC SSO front door. There is no
// per-tenant RBAC; fleetctl manages a single cluster's worth of
// applications, not a multi-tenant SaaS.
package auth

import (
	"context"
	"net/http"
)

// Roles. Operators can mutate (start/stop/schedule); readonly can only view.
const (
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

// Authentication methods.
const (
	MethodSession = "session"
	MethodAPIKey  = "apikey"
	MethodOIDC    = "oidc"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Subject string
	Email   string
	Role    string
	Method  string
}

type contextKey string

const identityKey contextKey = "auth_identity"

// NewContext returns a context carrying the given identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the Identity stored by Middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// RequireRole returns middleware that rejects requests whose identity does
// not have the given role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || (id.Role != role && id.Role != RoleOperator) {
				respondErr(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests with no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
