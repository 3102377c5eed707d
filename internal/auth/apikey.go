package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// APIKeyAuthenticator checks a raw API key against a single configured,
// hashed value. fleetctl is a single operator-facing control plane, so one
// static key for machine callers is enough.
type APIKeyAuthenticator struct {
	keyHash [32]byte
	role    string
}

// NewAPIKeyAuthenticator configures the authenticator with the expected raw key.
func NewAPIKeyAuthenticator(rawKey string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		keyHash: sha256.Sum256([]byte(rawKey)),
		role:    RoleOperator,
	}
}

// Authenticate compares the given raw key against the configured key in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, rawKey string) (*Identity, bool) {
	given := sha256.Sum256([]byte(rawKey))
	if subtle.ConstantTimeCompare(given[:], a.keyHash[:]) != 1 {
		return nil, false
	}
	return &Identity{
		Subject: "apikey:" + hex.EncodeToString(a.keyHash[:4]),
		Role:    a.role,
		Method:  MethodAPIKey,
	}, true
}
