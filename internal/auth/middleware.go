package auth

import (
	"log/slog"
	"net/http"
)

// Middleware authenticates the caller via session cookie, OIDC bearer token,
// or API key, in that order, and stores the resulting Identity in the
// request context. An unauthenticated request simply carries no Identity;
// RequireAuth rejects it downstream.
func Middleware(sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, apikeyAuth *APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if sessionMgr != nil {
				if cookie, err := r.Cookie(CookieName); err == nil {
					if claims, err := sessionMgr.ValidateToken(cookie.Value); err == nil {
						identity = &Identity{
							Subject: claims.Subject,
							Email:   claims.Email,
							Role:    claims.Role,
							Method:  MethodSession,
						}
					} else {
						sessionMgr.ClearCookie(w)
					}
				}
			}

			if identity == nil {
				if authHeader := r.Header.Get("Authorization"); authHeader != "" && oidcAuth != nil {
					if id, err := oidcAuth.Authenticate(r.Context(), authHeader); err == nil {
						identity = id
					} else {
						logger.Debug("oidc authentication failed", "error", err)
					}
				}
			}

			if identity == nil {
				if rawKey := r.Header.Get("X-API-Key"); rawKey != "" && apikeyAuth != nil {
					if id, ok := apikeyAuth.Authenticate(r.Context(), rawKey); ok {
						identity = id
					} else {
						logger.Warn("API key authentication failed")
					}
				}
			}

			ctx := r.Context()
			if identity != nil {
				ctx = NewContext(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
