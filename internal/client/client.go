// Package client wires discovery, authentication, and the request executor
// into the public mesh.Client surface.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fivetwenty-io/meshapi/internal/auth"
	"github.com/fivetwenty-io/meshapi/internal/constants"
	"github.com/fivetwenty-io/meshapi/internal/discovery"
	meshhttp "github.com/fivetwenty-io/meshapi/internal/http"
	"github.com/fivetwenty-io/meshapi/internal/ws"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// AuthAPIName is the version-map entry consulted when a credential exchange
// is needed and no explicit token URL was configured.
const AuthAPIName = "auth"

// Client is the concrete mesh.Client. The resolver and token manager outlive
// any single request and are shared across every request and session this
// client creates.
type Client struct {
	config       *mesh.Config
	logger       mesh.Logger
	resolver     *discovery.Resolver
	tokenManager auth.TokenManager
	executor     *meshhttp.Client
	cache        mesh.Cache
}

var _ mesh.Client = (*Client)(nil)

// New builds a client from configuration.
func New(config *mesh.Config) (*Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = mesh.NoopLogger{}
	}

	httpClient, err := buildHTTPClient(config)
	if err != nil {
		return nil, err
	}

	cache, err := mesh.NewCacheFromConfig(config.Cache)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	resolver := discovery.NewResolver(config.RootURL,
		discovery.WithHTTPClient(httpClient),
		discovery.WithOverrides(config.Overrides),
		discovery.WithCache(cache, cacheTTL(config)),
		discovery.WithLogger(logger))

	tokenManager := newTokenManager(config, resolver, httpClient)

	return &Client{
		config:       config,
		logger:       logger,
		resolver:     resolver,
		tokenManager: tokenManager,
		executor:     newExecutor(config, resolver, tokenManager, httpClient, logger),
		cache:        cache,
	}, nil
}

// NewShared builds a client on an existing resolver and token manager, so
// several clients share one discovery cache and one credential exchange. The
// shared resolver delegates discovery to its parent; only per-client
// overrides differ.
func NewShared(config *mesh.Config, parent *discovery.Resolver, tokenManager auth.TokenManager) (*Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = mesh.NoopLogger{}
	}

	httpClient, err := buildHTTPClient(config)
	if err != nil {
		return nil, err
	}

	resolver := discovery.NewSharedResolver(parent, config.Overrides)

	return &Client{
		config:       config,
		logger:       logger,
		resolver:     resolver,
		tokenManager: tokenManager,
		executor:     newExecutor(config, resolver, tokenManager, httpClient, logger),
	}, nil
}

// Info returns the server's version map.
func (c *Client) Info(ctx context.Context) (mesh.VersionMap, error) {
	return c.resolver.VersionMap(ctx)
}

// Resolve returns the concrete base URI for a named API.
func (c *Client) Resolve(ctx context.Context, api string) (string, error) {
	return c.resolver.Resolve(ctx, api)
}

// Request executes one authenticated request.
func (c *Client) Request(ctx context.Context, req *mesh.Request) (*mesh.Response, error) {
	return c.executor.Do(ctx, req)
}

// Session builds a persistent WebSocket session against a named API. The
// session shares this client's resolver and token manager and starts
// disconnected; the caller drives Connect.
func (c *Client) Session(api, protocol string) (mesh.Session, error) {
	if api == "" {
		api = c.config.API
	}

	return ws.NewSession(c.resolver, api, protocol, c.tokenManager,
		ws.WithLogger(c.logger)), nil
}

// Token returns the current bearer token value.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.tokenManager == nil {
		return "", &mesh.AuthError{Op: "get", Err: mesh.ErrNoCredentials}
	}

	return c.tokenManager.GetToken(ctx)
}

// Resolver exposes the discovery resolver for cross-client sharing.
func (c *Client) Resolver() *discovery.Resolver {
	return c.resolver
}

// TokenManager exposes the token manager for cross-client sharing. May be
// nil when no credentials were configured.
func (c *Client) TokenManager() auth.TokenManager {
	return c.tokenManager
}

// Close releases resources held by the client, such as a NATS-backed cache
// connection. Clients built with NewShared hold no cache of their own.
func (c *Client) Close() error {
	if natsCache, ok := c.cache.(*mesh.NATSKVCache); ok {
		natsCache.Close()
	}

	return nil
}

func newExecutor(config *mesh.Config, resolver *discovery.Resolver, tokenManager auth.TokenManager, httpClient *http.Client, logger mesh.Logger) *meshhttp.Client {
	opts := []meshhttp.Option{
		meshhttp.WithHTTPClient(httpClient),
		meshhttp.WithLogger(logger),
		meshhttp.WithDebug(config.Debug),
	}

	if config.UserAgent != "" {
		opts = append(opts, meshhttp.WithUserAgent(config.UserAgent))
	}

	if config.RetryMax > 0 || config.RetryWaitMin > 0 || config.RetryWaitMax > 0 {
		retryMax := config.RetryMax
		if retryMax <= 0 {
			retryMax = constants.DefaultRetryMax
		}

		waitMin := config.RetryWaitMin
		if waitMin <= 0 {
			waitMin = constants.DefaultRetryWaitMin
		}

		waitMax := config.RetryWaitMax
		if waitMax <= 0 {
			waitMax = constants.DefaultRetryWaitMax
		}

		opts = append(opts, meshhttp.WithRetryConfig(retryMax, waitMin, waitMax))
	}

	if config.RequestTimeout > 0 {
		opts = append(opts, meshhttp.WithRequestTimeout(config.RequestTimeout))
	}

	return meshhttp.NewClient(resolver, config.API, tokenManager, opts...)
}

// newTokenManager applies the credential precedence: static token, token
// environment variable, credential exchange, none.
func newTokenManager(config *mesh.Config, resolver *discovery.Resolver, httpClient *http.Client) auth.TokenManager {
	switch {
	case config.AccessToken != "":
		return auth.NewStaticTokenManager(config.AccessToken)

	case config.TokenVar != "":
		return auth.NewEnvTokenManager(config.TokenVar)

	case config.Username != "" && config.Password != "":
		return auth.NewPasswordTokenManager(&auth.PasswordConfig{
			TokenURL: config.TokenURL,
			TokenURLFunc: func(ctx context.Context) (string, error) {
				return resolver.Resolve(ctx, AuthAPIName)
			},
			Username:   config.Username,
			Password:   config.Password,
			HTTPClient: httpClient,
		})

	default:
		return nil
	}
}

// buildHTTPClient builds the shared transport once from the config's
// transport knobs. A caller-supplied client is used as-is.
func buildHTTPClient(config *mesh.Config) (*http.Client, error) {
	if config.HTTPClient != nil {
		return config.HTTPClient, nil
	}

	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = constants.DefaultHTTPTimeout
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = constants.DefaultMaxIdleConns
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: constants.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}

		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if config.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	client := &http.Client{Transport: transport}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

func cacheTTL(config *mesh.Config) time.Duration {
	if config.Cache != nil && config.Cache.NATS != nil && config.Cache.NATS.TTL > 0 {
		return config.Cache.NATS.TTL
	}

	return constants.DefaultCacheTTL
}
