package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/meshapi/internal/constants"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// Static errors for err113 compliance.
var (
	ErrNoValidCredentials = errors.New("no valid credentials available")
	ErrTokenURLRequired   = errors.New("token URL is required")
)

// PasswordConfig configures a credential-exchange token manager.
type PasswordConfig struct {
	// TokenURL is the credential-exchange endpoint.
	TokenURL string
	// TokenURLFunc supplies the exchange endpoint lazily when TokenURL is
	// empty, e.g. from endpoint discovery. The result is cached.
	TokenURLFunc func(ctx context.Context) (string, error)
	// RevokeURL, when set, is posted to on RevokeToken. Without it, revoke
	// only clears the local token.
	RevokeURL string
	// Username and Password for the password exchange.
	Username string
	Password string
	// RefreshToken, when supplied, is preferred over a full re-exchange.
	RefreshToken string
	// HTTPClient used for exchange calls. Defaults to a short-timeout client.
	HTTPClient *http.Client
}

// PasswordTokenManager obtains tokens through a credential exchange and
// refreshes them by a new exchange. Exchanges are serialized per manager so
// concurrent callers racing past an expired token trigger one exchange, not
// many.
type PasswordTokenManager struct {
	config     *PasswordConfig
	store      *TokenStore
	httpClient *http.Client

	// exchangeMu serializes exchanges; the store keeps reads lock-cheap.
	exchangeMu sync.Mutex
}

// NewPasswordTokenManager creates a credential-exchange token manager.
func NewPasswordTokenManager(config *PasswordConfig) *PasswordTokenManager {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	return &PasswordTokenManager{
		config:     config,
		store:      NewTokenStore(),
		httpClient: httpClient,
	}
}

// GetToken returns the current token, performing the initial exchange or a
// refresh when the stored token is missing or near expiry.
func (m *PasswordTokenManager) GetToken(ctx context.Context) (string, error) {
	token := m.store.Get()
	if token.Valid() {
		return token.AccessToken, nil
	}

	err := m.exchange(ctx)
	if err != nil {
		return "", err
	}

	return m.store.Get().AccessToken, nil
}

// RefreshToken forces a new exchange, replacing the stored token. The held
// refresh token survives so the exchange can use the refresh grant.
func (m *PasswordTokenManager) RefreshToken(ctx context.Context) error {
	if token := m.store.Get(); token != nil && token.RefreshToken != "" {
		m.store.Set(&Token{RefreshToken: token.RefreshToken})
	} else {
		m.store.Clear()
	}

	return m.exchange(ctx)
}

// RevokeToken invalidates the current token server-side when a revoke
// endpoint is configured, and always drops the local copy.
func (m *PasswordTokenManager) RevokeToken(ctx context.Context) error {
	token := m.store.Get()
	m.store.Clear()

	if m.config.RevokeURL == "" || token == nil || token.AccessToken == "" {
		return nil
	}

	form := url.Values{"token": []string{token.AccessToken}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &mesh.AuthError{Op: "revoke", Err: err}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &mesh.AuthError{Op: "revoke", Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)

		return &mesh.AuthError{Op: "revoke", Err: fmt.Errorf("revoke endpoint returned %d: %s", resp.StatusCode, string(body))}
	}

	return nil
}

// SetToken installs a token value directly, e.g. one restored from disk.
func (m *PasswordTokenManager) SetToken(token string, expiresAt time.Time) {
	m.store.Set(&Token{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt})
}

// ExpiresAt returns the stored token's expiry.
func (m *PasswordTokenManager) ExpiresAt() (time.Time, bool) {
	token := m.store.Get()
	if token == nil || token.ExpiresAt.IsZero() {
		return time.Time{}, false
	}

	return token.ExpiresAt, true
}

// exchange performs one credential exchange, preferring the refresh grant
// when a refresh token is held. Serialized: a caller that lost the race
// observes the fresh token and returns without its own exchange.
func (m *PasswordTokenManager) exchange(ctx context.Context) error {
	m.exchangeMu.Lock()
	defer m.exchangeMu.Unlock()

	if token := m.store.Get(); token.Valid() {
		return nil
	}

	if m.config.TokenURL == "" && m.config.TokenURLFunc != nil {
		tokenURL, err := m.config.TokenURLFunc(ctx)
		if err != nil {
			return &mesh.AuthError{Op: "exchange", Err: err}
		}

		m.config.TokenURL = tokenURL
	}

	if m.config.TokenURL == "" {
		return &mesh.AuthError{Op: "exchange", Err: ErrTokenURLRequired}
	}

	form, err := m.grantForm()
	if err != nil {
		return &mesh.AuthError{Op: "exchange", Err: err}
	}

	token, err := m.requestToken(ctx, form)
	if err != nil {
		return &mesh.AuthError{Op: "exchange", Err: err}
	}

	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	m.store.Set(token)

	return nil
}

// grantForm picks the exchange grant: refresh token when held, else password.
func (m *PasswordTokenManager) grantForm() (url.Values, error) {
	if stored := m.store.Get(); stored != nil && stored.RefreshToken != "" {
		return url.Values{
			"grant_type":    []string{"refresh_token"},
			"refresh_token": []string{stored.RefreshToken},
		}, nil
	}

	if m.config.RefreshToken != "" {
		return url.Values{
			"grant_type":    []string{"refresh_token"},
			"refresh_token": []string{m.config.RefreshToken},
		}, nil
	}

	if m.config.Username != "" && m.config.Password != "" {
		return url.Values{
			"grant_type": []string{"password"},
			"username":   []string{m.config.Username},
			"password":   []string{m.config.Password},
		}, nil
	}

	return nil, ErrNoValidCredentials
}

// requestToken posts the exchange form and decodes the token response.
func (m *PasswordTokenManager) requestToken(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}

		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("token endpoint returned %d: %s: %s", resp.StatusCode, errResp.Error, errResp.Description) //nolint:err113
		}

		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body)) //nolint:err113
	}

	var token Token

	err = json.Unmarshal(body, &token)
	if err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token") //nolint:err113
	}

	return &token, nil
}
