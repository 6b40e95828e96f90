package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// TokenManager owns one bearer token's value and validity window. Managers
// are shared by reference across handlers so a refresh performed for one
// request is visible to all of them.
type TokenManager interface {
	// GetToken returns the current token value, acquiring one first when the
	// strategy supports acquisition.
	GetToken(ctx context.Context) (string, error)
	// RefreshToken forces acquisition of a new token. Immutable strategies
	// fail with mesh.ErrTokenImmutable; callers must treat that as terminal
	// for the request.
	RefreshToken(ctx context.Context) error
	// RevokeToken invalidates the current token server-side where supported.
	RevokeToken(ctx context.Context) error
	// SetToken installs a token value directly.
	SetToken(token string, expiresAt time.Time)
	// ExpiresAt returns the instant after which a proactive refresh should
	// occur. ok is false for strategies that cannot expire.
	ExpiresAt() (expiry time.Time, ok bool)
}

// StaticTokenManager serves one fixed token supplied at construction.
type StaticTokenManager struct {
	store *TokenStore
}

// NewStaticTokenManager creates a manager around a fixed token value.
func NewStaticTokenManager(token string) *StaticTokenManager {
	store := NewTokenStore()
	store.Set(&Token{AccessToken: token, TokenType: "bearer"})

	return &StaticTokenManager{store: store}
}

// GetToken returns the stored value.
func (m *StaticTokenManager) GetToken(ctx context.Context) (string, error) {
	token := m.store.Get()
	if token == nil || token.AccessToken == "" {
		return "", &mesh.AuthError{Op: "get", Err: mesh.ErrNoToken}
	}

	return token.AccessToken, nil
}

// RefreshToken always fails: the token is immutable.
func (m *StaticTokenManager) RefreshToken(ctx context.Context) error {
	return mesh.ErrTokenImmutable
}

// RevokeToken always fails: the token is immutable.
func (m *StaticTokenManager) RevokeToken(ctx context.Context) error {
	return mesh.ErrTokenImmutable
}

// SetToken replaces the stored value.
func (m *StaticTokenManager) SetToken(token string, expiresAt time.Time) {
	m.store.Set(&Token{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt})
}

// ExpiresAt reports that a static token never expires.
func (m *StaticTokenManager) ExpiresAt() (time.Time, bool) {
	return time.Time{}, false
}

// EnvTokenManager reads the token from a named process environment variable
// on every call, so external rotation is picked up without a restart.
type EnvTokenManager struct {
	varName string
}

// NewEnvTokenManager creates a manager reading the named variable.
func NewEnvTokenManager(varName string) *EnvTokenManager {
	return &EnvTokenManager{varName: varName}
}

// GetToken reads the variable at call time.
func (m *EnvTokenManager) GetToken(ctx context.Context) (string, error) {
	value := os.Getenv(m.varName)
	if value == "" {
		return "", &mesh.AuthError{Op: "get", Err: fmt.Errorf("%w: environment variable %s is empty", mesh.ErrNoToken, m.varName)}
	}

	return value, nil
}

// RefreshToken always fails: the variable is owned by the environment.
func (m *EnvTokenManager) RefreshToken(ctx context.Context) error {
	return mesh.ErrTokenImmutable
}

// RevokeToken always fails: the variable is owned by the environment.
func (m *EnvTokenManager) RevokeToken(ctx context.Context) error {
	return mesh.ErrTokenImmutable
}

// SetToken is a no-op; the environment owns the value.
func (m *EnvTokenManager) SetToken(token string, expiresAt time.Time) {}

// ExpiresAt reports that an environment token never expires.
func (m *EnvTokenManager) ExpiresAt() (time.Time, bool) {
	return time.Time{}, false
}
