// Package discovery fetches and caches the server's version map: the
// discovery document mapping named APIs to concrete endpoints.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/meshapi/internal/constants"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// VersionPath is the well-known discovery path under the root URL.
const VersionPath = "/api/version"

// Resolver resolves named APIs to concrete base URIs. A resolver either owns
// its cached version map or is bound to another resolver and delegates every
// lookup, never fetching on its own.
type Resolver struct {
	root       string
	httpClient *http.Client
	overrides  map[string]string
	parent     *Resolver
	cache      mesh.Cache
	cacheTTL   time.Duration
	logger     mesh.Logger

	// mu guards endpoints; the map is replaced wholesale, never patched.
	mu        sync.RWMutex
	endpoints mesh.VersionMap
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the transport used for discovery fetches.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = httpClient
	}
}

// WithOverrides fixes endpoints for the named APIs, bypassing discovery for
// them permanently.
func WithOverrides(overrides map[string]string) Option {
	return func(r *Resolver) {
		r.overrides = overrides
	}
}

// WithCache stores fetched version maps in a shared cache under the root URL,
// so other resolvers (possibly in other processes) skip the network fetch.
func WithCache(cache mesh.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = cache
		r.cacheTTL = ttl
	}
}

// WithLogger sets the structured event sink.
func WithLogger(logger mesh.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates an owning resolver for the given root URL.
func NewResolver(root string, opts ...Option) *Resolver {
	resolver := &Resolver{
		root:   strings.TrimSuffix(root, "/"),
		logger: mesh.NoopLogger{},
	}

	for _, opt := range opts {
		opt(resolver)
	}

	if resolver.httpClient == nil {
		resolver.httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	if resolver.cacheTTL <= 0 {
		resolver.cacheTTL = constants.DefaultCacheTTL
	}

	return resolver
}

// NewSharedResolver creates a resolver bound to parent's live cache. Lookups
// delegate to parent after consulting this instance's own overrides; the
// bound resolver never fetches or holds a map of its own.
func NewSharedResolver(parent *Resolver, overrides map[string]string) *Resolver {
	return &Resolver{
		root:      parent.root,
		parent:    parent,
		overrides: overrides,
		logger:    parent.logger,
	}
}

// Root returns the root URL this resolver discovers against.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the concrete base URI for a named API. The first owning
// resolution fetches the version map; later calls answer from the cached map.
func (r *Resolver) Resolve(ctx context.Context, api string) (string, error) {
	if override, ok := r.overrides[api]; ok {
		return r.absolutize(override), nil
	}

	if r.parent != nil {
		return r.parent.Resolve(ctx, api)
	}

	endpoints, err := r.versionMap(ctx)
	if err != nil {
		return "", err
	}

	endpoint, ok := endpoints[api]
	if !ok {
		return "", &mesh.UnknownAPIError{API: api}
	}

	return r.absolutize(endpoint.Endpoint), nil
}

// VersionMap returns the full discovery document, fetching it if needed.
func (r *Resolver) VersionMap(ctx context.Context) (mesh.VersionMap, error) {
	if r.parent != nil {
		return r.parent.VersionMap(ctx)
	}

	return r.versionMap(ctx)
}

// Invalidate drops the cached map so the next resolution fetches again.
// Bound resolvers delegate to their parent.
func (r *Resolver) Invalidate() {
	if r.parent != nil {
		r.parent.Invalidate()

		return
	}

	r.mu.Lock()
	r.endpoints = nil
	r.mu.Unlock()

	if r.cache != nil {
		_ = r.cache.Delete(context.Background(), r.cacheKey())
	}
}

// versionMap returns the cached map or performs the discovery fetch. The
// fetch is serialized; a failed fetch is never cached.
func (r *Resolver) versionMap(ctx context.Context) (mesh.VersionMap, error) {
	r.mu.RLock()
	endpoints := r.endpoints
	r.mu.RUnlock()

	if endpoints != nil {
		return endpoints, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints != nil {
		return r.endpoints, nil
	}

	if cached := r.fromCache(ctx); cached != nil {
		r.endpoints = cached

		return cached, nil
	}

	fetched, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	r.endpoints = fetched
	r.toCache(ctx, fetched)

	return fetched, nil
}

// fetch issues the discovery request against the well-known version path.
func (r *Resolver) fetch(ctx context.Context) (mesh.VersionMap, error) {
	discoveryURL := r.root + VersionPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, &mesh.DiscoveryError{URL: discoveryURL, Err: err}
	}

	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &mesh.DiscoveryError{URL: discoveryURL, Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &mesh.DiscoveryError{URL: discoveryURL, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &mesh.DiscoveryError{
			URL: discoveryURL,
			Err: fmt.Errorf("discovery returned status %d: %s", resp.StatusCode, string(body)), //nolint:err113
		}
	}

	var endpoints mesh.VersionMap

	err = json.Unmarshal(body, &endpoints)
	if err != nil {
		return nil, &mesh.DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("parsing version map: %w", err)}
	}

	r.logger.Debug("version map fetched", map[string]interface{}{
		"root": r.root,
		"apis": len(endpoints),
	})

	return endpoints, nil
}

// fromCache loads a shared version map, returning nil on any miss.
func (r *Resolver) fromCache(ctx context.Context) mesh.VersionMap {
	if r.cache == nil {
		return nil
	}

	entry, err := r.cache.Get(ctx, r.cacheKey())
	if err != nil {
		return nil
	}

	var endpoints mesh.VersionMap

	err = json.Unmarshal(entry.Data, &endpoints)
	if err != nil {
		return nil
	}

	return endpoints
}

// toCache publishes a fetched version map to the shared cache.
func (r *Resolver) toCache(ctx context.Context, endpoints mesh.VersionMap) {
	if r.cache == nil {
		return
	}

	data, err := json.Marshal(endpoints)
	if err != nil {
		return
	}

	err = r.cache.Set(ctx, r.cacheKey(), &mesh.CacheEntry{
		Data:      data,
		ExpiresAt: time.Now().Add(r.cacheTTL),
	})
	if err != nil {
		r.logger.Warn("caching version map failed", map[string]interface{}{"error": err.Error()})
	}
}

func (r *Resolver) cacheKey() string {
	return "version-map:" + r.root
}

// absolutize joins a relative endpoint path onto the root URL.
func (r *Resolver) absolutize(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return strings.TrimSuffix(endpoint, "/")
	}

	return r.root + "/" + strings.Trim(endpoint, "/")
}
