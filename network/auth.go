package network

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"sync"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// Environment variables read by NewAuthenticatorFromEnv.
const (
	EnvAuthEnabled = "HEAVYDATA_AUTH_ENABLED"
	EnvAuthToken   = "HEAVYDATA_AUTH_TOKEN"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if every request must carry the token
	Enabled bool
	// Token is the shared secret
	Token string
}

// Authenticator checks request tokens.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator with the given config.
func NewAuthenticator(config AuthConfig) *Authenticator {
	return &Authenticator{config: config}
}

// NewAuthenticatorFromEnv creates an Authenticator from HEAVYDATA_AUTH_ENABLED
// and HEAVYDATA_AUTH_TOKEN. When auth is enabled without a token, a random
// token is generated; read it back with Token.
func NewAuthenticatorFromEnv() *Authenticator {
	v := os.Getenv(EnvAuthEnabled)
	enabled := v == "true" || v == "1"
	token := os.Getenv(EnvAuthToken)

	if enabled && token == "" {
		token = GenerateToken()
	}
	return NewAuthenticator(AuthConfig{Enabled: enabled, Token: token})
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Token returns the configured token.
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken checks the provided token in constant time. Everything is
// accepted when authentication is disabled.
func (a *Authenticator) ValidateToken(provided string) error {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}
	if provided == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(provided)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// GenerateToken generates a random 256-bit hex token.
func GenerateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b) // never fails
	return hex.EncodeToString(b)
}
