// Package http executes authenticated requests against discovered endpoints,
// with reactive token refresh and bounded transport retries.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/meshapi/internal/auth"
	"github.com/fivetwenty-io/meshapi/internal/constants"
	"github.com/fivetwenty-io/meshapi/internal/discovery"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// DefaultUserAgent is sent when no override is configured.
const DefaultUserAgent = "mesh-client-go/1.0"

// Client executes requests. It holds non-owning references to one resolver
// and one token manager, shared across many requests.
type Client struct {
	resolver     *discovery.Resolver
	endpoint     string
	defaultAPI   string
	tokenManager auth.TokenManager
	retryClient  *retryablehttp.Client
	userAgent    string
	logger       mesh.Logger
	debug        bool
	interceptors *mesh.InterceptorChain
	timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithLogger sets the structured event sink.
func WithLogger(logger mesh.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithEndpoint fixes the base endpoint, bypassing the resolver for every
// request that does not carry a full URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithRetryConfig tunes the transport-level retry budget.
func WithRetryConfig(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.retryClient.RetryMax = retryMax
		c.retryClient.RetryWaitMin = waitMin
		c.retryClient.RetryWaitMax = waitMax
	}
}

// WithHTTPClient installs an externally supplied transport handle. It is
// applied as-is; the executor never inspects it.
func WithHTTPClient(httpClient *nethttp.Client) Option {
	return func(c *Client) {
		c.retryClient.HTTPClient = httpClient
	}
}

// WithInterceptors installs an interceptor chain run around every request.
func WithInterceptors(chain *mesh.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// WithRequestTimeout sets the default per-request timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates an executor resolving against resolver and authenticating
// via tokenManager. tokenManager may be nil for unauthenticated access.
func NewClient(resolver *discovery.Resolver, defaultAPI string, tokenManager auth.TokenManager, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.Logger = nil
	// Hand exhausted-retry responses back so they can be classified instead
	// of being swallowed by the retry layer.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		resolver:     resolver,
		defaultAPI:   defaultAPI,
		tokenManager: tokenManager,
		retryClient:  retryClient,
		userAgent:    DefaultUserAgent,
		logger:       mesh.NoopLogger{},
		timeout:      constants.DefaultHTTPTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do executes one logical request through the full pipeline: URI resolution,
// header assembly, dispatch, classification, and at most one reactive token
// refresh.
func (c *Client) Do(ctx context.Context, req *mesh.Request) (*mesh.Response, error) {
	err := c.interceptors.ExecuteRequestInterceptors(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, req)

	hookErr := c.interceptors.ExecuteResponseInterceptors(ctx, req, resp, err)
	if err == nil && hookErr != nil {
		return resp, hookErr
	}

	return resp, err
}

// Get issues a GET against the default API.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*mesh.Response, error) {
	return c.Do(ctx, &mesh.Request{Method: nethttp.MethodGet, Path: path, Query: query})
}

// Post issues a POST against the default API.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*mesh.Response, error) {
	return c.Do(ctx, &mesh.Request{Method: nethttp.MethodPost, Path: path, Body: body})
}

// Put issues a PUT against the default API.
func (c *Client) Put(ctx context.Context, path string, body []byte) (*mesh.Response, error) {
	return c.Do(ctx, &mesh.Request{Method: nethttp.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH against the default API.
func (c *Client) Patch(ctx context.Context, path string, body []byte) (*mesh.Response, error) {
	return c.Do(ctx, &mesh.Request{Method: nethttp.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE against the default API.
func (c *Client) Delete(ctx context.Context, path string) (*mesh.Response, error) {
	return c.Do(ctx, &mesh.Request{Method: nethttp.MethodDelete, Path: path})
}

func (c *Client) execute(ctx context.Context, req *mesh.Request) (*mesh.Response, error) {
	finalURL, err := c.buildURL(ctx, req)
	if err != nil {
		return nil, err
	}

	headers, err := c.buildHeaders(ctx, req)
	if err != nil {
		return nil, err
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	resp, err := c.dispatch(ctx, req.Method, finalURL, headers, req.Body, timeout)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == nethttp.StatusUnauthorized && c.tokenManager != nil {
		return c.retryWithFreshToken(ctx, req, finalURL, headers, resp, timeout)
	}

	return c.classify(resp)
}

// retryWithFreshToken performs the single reactive refresh-and-retry cycle a
// logical request is allowed. An immutable token surfaces the original 401.
func (c *Client) retryWithFreshToken(ctx context.Context, req *mesh.Request, finalURL string, headers map[string]string, unauthorized *mesh.Response, timeout time.Duration) (*mesh.Response, error) {
	err := c.tokenManager.RefreshToken(ctx)
	if err != nil {
		if errors.Is(err, mesh.ErrTokenImmutable) {
			return unauthorized, &mesh.RequestError{Status: unauthorized.StatusCode, Body: unauthorized.Body}
		}

		if mesh.IsAuth(err) {
			return nil, err
		}

		return nil, &mesh.AuthError{Op: "refresh", Err: err}
	}

	token, err := c.tokenManager.GetToken(ctx)
	if err != nil {
		if mesh.IsAuth(err) {
			return nil, err
		}

		return nil, &mesh.AuthError{Op: "get", Err: err}
	}

	headers["Authorization"] = "Bearer " + token

	if c.debug {
		c.logger.Debug("retrying after token refresh", map[string]interface{}{
			"method": req.Method,
			"url":    finalURL,
		})
	}

	resp, err := c.dispatch(ctx, req.Method, finalURL, headers, req.Body, timeout)
	if err != nil {
		return nil, err
	}

	return c.classify(resp)
}

// dispatch performs the physical round trips for one header set, including
// the transport-level retry budget. Network-level failure and retryable
// statuses that survived the budget come back as TransportError.
func (c *Client) dispatch(ctx context.Context, method, finalURL string, headers map[string]string, body []byte, timeout time.Duration) (*mesh.Response, error) {
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rawBody interface{}
	if len(body) > 0 {
		rawBody = body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(dispatchCtx, method, finalURL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": method,
			"url":    finalURL,
		})
	}

	httpResp, err := c.retryClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}

		return nil, &mesh.TransportError{Err: err}
	}

	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &mesh.TransportError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method": method,
			"url":    finalURL,
			"status": httpResp.StatusCode,
		})
	}

	if retryableStatus(httpResp.StatusCode) {
		return nil, &mesh.TransportError{Status: httpResp.StatusCode, Body: respBody}
	}

	return &mesh.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// classify maps a terminal response onto the caller-visible outcome.
func (c *Client) classify(resp *mesh.Response) (*mesh.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	return resp, &mesh.RequestError{Status: resp.StatusCode, Body: resp.Body}
}

// retryableStatus mirrors the retry layer's policy: a response with one of
// these statuses only reaches us once the retry budget is spent.
func retryableStatus(status int) bool {
	return status == nethttp.StatusTooManyRequests ||
		(status >= 500 && status != nethttp.StatusNotImplemented)
}

// buildURL resolves the final URI. A full URL on the request is used
// verbatim; otherwise the override endpoint or the resolver supplies the
// base, and path, query, and fragment are joined onto it.
func (c *Client) buildURL(ctx context.Context, req *mesh.Request) (string, error) {
	if req.URL != "" {
		return appendQuery(req.URL, req.Query, req.Fragment)
	}

	base := c.endpoint
	if base == "" {
		api := req.API
		if api == "" {
			api = c.defaultAPI
		}

		resolved, err := c.resolver.Resolve(ctx, api)
		if err != nil {
			return "", err
		}

		base = resolved
	}

	joined := base
	if req.Path != "" {
		joined = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}

	return appendQuery(joined, req.Query, req.Fragment)
}

func appendQuery(rawURL string, query url.Values, fragment string) (string, error) {
	if len(query) == 0 && fragment == "" {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}

	if len(query) > 0 {
		merged := parsed.Query()
		for key, values := range query {
			for _, value := range values {
				merged.Add(key, value)
			}
		}

		parsed.RawQuery = merged.Encode()
	}

	if fragment != "" {
		parsed.Fragment = fragment
	}

	return parsed.String(), nil
}

// buildHeaders assembles the header set: fixed baseline, caller headers
// (caller wins), then the Authorization header from the token manager.
func (c *Client) buildHeaders(ctx context.Context, req *mesh.Request) (map[string]string, error) {
	headers := map[string]string{
		"User-Agent": c.userAgent,
		"Accept":     "application/json",
	}

	if len(req.Body) > 0 {
		headers["Content-Type"] = "application/json"
	}

	for key, value := range req.Headers {
		headers[key] = value
	}

	if c.tokenManager != nil {
		token, err := c.tokenManager.GetToken(ctx)
		if err != nil {
			if mesh.IsAuth(err) {
				return nil, err
			}

			return nil, &mesh.AuthError{Op: "get", Err: err}
		}

		headers["Authorization"] = "Bearer " + token
	}

	return headers, nil
}
