package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RequestInterceptor is called before a request is dispatched. It may mutate
// headers or metadata on the request.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor is called after a response (or terminal error) is
// produced for a request. resp may be nil when callErr is non-nil.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response, callErr error) error

// InterceptorChain manages a chain of interceptors. The executor runs request
// interceptors in order before dispatch and response interceptors in order
// after classification.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// NewInterceptorChain creates an empty interceptor chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor appends a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.requestInterceptors = append(c.requestInterceptors, interceptor)
}

// AddResponseInterceptor appends a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.responseInterceptors = append(c.responseInterceptors, interceptor)
}

// ExecuteRequestInterceptors runs all request interceptors.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	if c == nil {
		return nil
	}

	for _, interceptor := range c.requestInterceptors {
		err := interceptor(ctx, req)
		if err != nil {
			return fmt.Errorf("request interceptor failed: %w", err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors runs all response interceptors.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response, callErr error) error {
	if c == nil {
		return nil
	}

	for _, interceptor := range c.responseInterceptors {
		err := interceptor(ctx, req, resp, callErr)
		if err != nil {
			return fmt.Errorf("response interceptor failed: %w", err)
		}
	}

	return nil
}

// LoggingInterceptor logs outgoing requests.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		logger.Debug("API Request", map[string]interface{}{
			"method": req.Method,
			"api":    req.API,
			"path":   req.Path,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs request outcomes.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response, callErr error) error {
		fields := map[string]interface{}{
			"method": req.Method,
			"api":    req.API,
			"path":   req.Path,
		}

		if resp != nil {
			fields["status_code"] = resp.StatusCode
		}

		if callErr != nil {
			fields["error"] = callErr.Error()
			logger.Error("API Response Error", fields)
		} else {
			logger.Debug("API Response", fields)
		}

		return nil
	}
}

// HeaderInterceptor adds fixed headers to every request. Per-request headers
// still win on conflicting keys.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}

		for key, value := range headers {
			if _, exists := req.Headers[key]; !exists {
				req.Headers[key] = value
			}
		}

		return nil
	}
}

// Metrics holds per-endpoint request counters.
type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
}

// MetricsCollector collects per-endpoint metrics.
type MetricsCollector struct {
	mu      sync.Mutex
	metrics map[string]*Metrics
	starts  map[*Request]time.Time
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metrics),
		starts:  make(map[*Request]time.Time),
	}
}

// GetMetrics returns a copy of the metrics for an endpoint key ("GET /path"),
// or nil when the endpoint has not been seen.
func (m *MetricsCollector) GetMetrics(endpoint string) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.metrics[endpoint]
	if !ok {
		return nil
	}

	copied := *metrics

	return &copied
}

// RequestInterceptor returns the request-side hook recording start times.
func (m *MetricsCollector) RequestInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		m.mu.Lock()
		m.starts[req] = time.Now()
		m.mu.Unlock()

		return nil
	}
}

// ResponseInterceptor returns the response-side hook updating counters.
func (m *MetricsCollector) ResponseInterceptor() ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response, callErr error) error {
		endpoint := fmt.Sprintf("%s %s", req.Method, req.Path)

		m.mu.Lock()
		defer m.mu.Unlock()

		metrics, ok := m.metrics[endpoint]
		if !ok {
			metrics = &Metrics{}
			m.metrics[endpoint] = metrics
		}

		metrics.TotalRequests++
		metrics.LastRequestTime = time.Now()

		if start, ok := m.starts[req]; ok {
			delete(m.starts, req)
			metrics.TotalLatency += time.Since(start)
			metrics.AverageLatency = metrics.TotalLatency / time.Duration(metrics.TotalRequests)
		}

		if callErr != nil || (resp != nil && resp.StatusCode >= 400) {
			metrics.TotalErrors++
		}

		return nil
	}
}
