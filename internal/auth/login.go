package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// LocalCredentials holds the operator's hashed password, loaded from config.
// fleetctl supports exactly one local operator account; additional
// dashboard users are expected to come through OIDC SSO.
type LocalCredentials struct {
	Username     string
	PasswordHash []byte
}

// HashPassword bcrypt-hashes a plaintext password for storage in config.
func HashPassword(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	return string(h), err
}

// LoginHandler handles local username/password login for the dashboard.
type LoginHandler struct {
	sessionMgr *SessionManager
	creds      LocalCredentials
	logger     *slog.Logger
	limiter    *RateLimiter
}

// NewLoginHandler creates a LoginHandler.
func NewLoginHandler(sessionMgr *SessionManager, creds LocalCredentials, logger *slog.Logger, limiter *RateLimiter) *LoginHandler {
	return &LoginHandler{sessionMgr: sessionMgr, creds: creds, logger: logger, limiter: limiter}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin authenticates a local username/password pair and issues a session cookie.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.limiter != nil {
		result, err := h.limiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("rate limit check", "error", err)
		} else if !result.Allowed {
			respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts")
			return
		}
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "username and password are required")
		return
	}

	if req.Username != h.creds.Username || bcrypt.CompareHashAndPassword(h.creds.PasswordHash, []byte(req.Password)) != nil {
		if h.limiter != nil {
			_ = h.limiter.Record(r.Context(), ip)
		}
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	if h.limiter != nil {
		_ = h.limiter.Reset(r.Context(), ip)
	}

	if err := h.sessionMgr.IssueCookie(w, SessionClaims{
		Subject: req.Username,
		Email:   req.Username,
		Role:    RoleOperator,
	}); err != nil {
		h.logger.Error("issuing session cookie", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout clears the session cookie.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	h.sessionMgr.ClearCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMe returns the authenticated caller's identity.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, id)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
