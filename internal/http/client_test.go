package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/meshapi/internal/auth"
	meshhttp "github.com/fivetwenty-io/meshapi/internal/http"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

func TestClient_Headers(t *testing.T) {
	t.Parallel()
	t.Run("sends baseline and bearer headers", func(t *testing.T) {
		t.Parallel()

		var captured http.Header

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			captured = request.Header.Clone()

			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", auth.NewStaticTokenManager("static-token"),
			meshhttp.WithEndpoint(server.URL), meshhttp.WithUserAgent("test-agent/1.0"))

		resp, err := client.Get(context.Background(), "/things", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bearer static-token", captured.Get("Authorization"))
		assert.Equal(t, "test-agent/1.0", captured.Get("User-Agent"))
		assert.Equal(t, "application/json", captured.Get("Accept"))
	})

	t.Run("caller headers win over defaults", func(t *testing.T) {
		t.Parallel()

		var captured http.Header

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			captured = request.Header.Clone()

			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL))

		req := &mesh.Request{
			Method:  http.MethodPost,
			Path:    "/things",
			Body:    []byte(`{"name":"x"}`),
			Headers: map[string]string{"Content-Type": "application/vnd.mesh+json", "Accept": "text/plain"},
		}

		_, err := client.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "application/vnd.mesh+json", captured.Get("Content-Type"))
		assert.Equal(t, "text/plain", captured.Get("Accept"))
	})

	t.Run("defaults content type for JSON bodies", func(t *testing.T) {
		t.Parallel()

		var captured http.Header

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			captured = request.Header.Clone()

			writer.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL))

		resp, err := client.Post(context.Background(), "/things", []byte(`{"name":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "application/json", captured.Get("Content-Type"))
	})
}

func TestClient_URLAssembly(t *testing.T) {
	t.Parallel()
	t.Run("merges query parameters", func(t *testing.T) {
		t.Parallel()

		var captured *url.URL

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			captured = request.URL

			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL))

		query := url.Values{}
		query.Set("page", "2")
		query.Set("per_page", "50")

		_, err := client.Get(context.Background(), "/things", query)
		require.NoError(t, err)
		assert.Equal(t, "/things", captured.Path)
		assert.Equal(t, "2", captured.Query().Get("page"))
		assert.Equal(t, "50", captured.Query().Get("per_page"))
	})

	t.Run("uses full request URL verbatim", func(t *testing.T) {
		t.Parallel()

		var captured *url.URL

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			captured = request.URL

			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint("http://unreachable.invalid"))

		req := &mesh.Request{Method: http.MethodGet, URL: server.URL + "/absolute/path?fixed=1"}

		resp, err := client.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/absolute/path", captured.Path)
		assert.Equal(t, "1", captured.Query().Get("fixed"))
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_TokenRefresh(t *testing.T) {
	t.Parallel()
	t.Run("refreshes once on 401 and retries", func(t *testing.T) {
		t.Parallel()

		exchanges := 0

		tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			exchanges++
			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		}))
		defer tokenServer.Close()

		dispatches := 0

		apiServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			dispatches++
			if request.Header.Get("Authorization") != "Bearer fresh-token" {
				writer.WriteHeader(http.StatusUnauthorized)

				return
			}

			writer.WriteHeader(http.StatusOK)
		}))
		defer apiServer.Close()

		manager := auth.NewPasswordTokenManager(&auth.PasswordConfig{
			TokenURL: tokenServer.URL,
			Username: "user",
			Password: "pass",
		})
		manager.SetToken("stale-token", time.Now().Add(time.Hour))

		client := meshhttp.NewClient(nil, "", manager, meshhttp.WithEndpoint(apiServer.URL))

		resp, err := client.Get(context.Background(), "/things", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2, dispatches)
		assert.Equal(t, 1, exchanges)
	})

	t.Run("immutable token surfaces the 401", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++

			writer.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", auth.NewStaticTokenManager("revoked-token"),
			meshhttp.WithEndpoint(server.URL))

		_, err := client.Get(context.Background(), "/things", nil)
		require.Error(t, err)
		assert.True(t, mesh.IsRequest(err))
		assert.Equal(t, http.StatusUnauthorized, mesh.RequestStatus(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("second 401 after refresh is terminal", func(t *testing.T) {
		t.Parallel()

		tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]interface{}{
				"access_token": "still-bad",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		}))
		defer tokenServer.Close()

		dispatches := 0

		apiServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			dispatches++

			writer.WriteHeader(http.StatusUnauthorized)
		}))
		defer apiServer.Close()

		manager := auth.NewPasswordTokenManager(&auth.PasswordConfig{
			TokenURL: tokenServer.URL,
			Username: "user",
			Password: "pass",
		})

		client := meshhttp.NewClient(nil, "", manager, meshhttp.WithEndpoint(apiServer.URL))

		_, err := client.Get(context.Background(), "/things", nil)
		require.Error(t, err)
		assert.True(t, mesh.IsRequest(err))
		assert.Equal(t, http.StatusUnauthorized, mesh.RequestStatus(err))
		assert.Equal(t, 2, dispatches)
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_RetryLogic(t *testing.T) {
	t.Parallel()
	t.Run("retries on 5xx errors", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			if attempts < 3 {
				writer.WriteHeader(http.StatusInternalServerError)
			} else {
				writer.WriteHeader(http.StatusOK)
			}
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL),
			meshhttp.WithRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond))

		resp, err := client.Get(context.Background(), "/test", nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 3, attempts)
	})

	t.Run("retries on rate limiting", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			if attempts < 2 {
				writer.WriteHeader(http.StatusTooManyRequests)
			} else {
				writer.WriteHeader(http.StatusOK)
			}
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL),
			meshhttp.WithRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond))

		resp, err := client.Get(context.Background(), "/test", nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 2, attempts)
	})

	t.Run("exhausted retries become a transport error", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++

			writer.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", auth.NewStaticTokenManager("static-token"),
			meshhttp.WithEndpoint(server.URL),
			meshhttp.WithRetryConfig(2, 10*time.Millisecond, 100*time.Millisecond))

		_, err := client.Get(context.Background(), "/test", nil)
		require.Error(t, err)
		assert.True(t, mesh.IsTransport(err))

		var transportErr *mesh.TransportError

		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, http.StatusServiceUnavailable, transportErr.Status)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry on client errors", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++

			writer.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := meshhttp.NewClient(nil, "", nil, meshhttp.WithEndpoint(server.URL),
			meshhttp.WithRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond))

		resp, err := client.Get(context.Background(), "/test", nil)
		require.Error(t, err)
		assert.True(t, mesh.IsRequest(err))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, 1, attempts)
	})

	t.Run("network failure is a transport error", func(t *testing.T) {
		t.Parallel()

		client := meshhttp.NewClient(nil, "", nil,
			meshhttp.WithEndpoint("http://127.0.0.1:1"),
			meshhttp.WithRetryConfig(0, 10*time.Millisecond, 100*time.Millisecond))

		_, err := client.Get(context.Background(), "/test", nil)
		require.Error(t, err)
		assert.True(t, mesh.IsTransport(err))
	})
}

func TestClient_Interceptors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	collector := mesh.NewMetricsCollector()
	chain := mesh.NewInterceptorChain()
	chain.AddRequestInterceptor(collector.RequestInterceptor())
	chain.AddResponseInterceptor(collector.ResponseInterceptor())

	client := meshhttp.NewClient(nil, "", nil,
		meshhttp.WithEndpoint(server.URL), meshhttp.WithInterceptors(chain))

	resp, err := client.Get(context.Background(), "/things", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics := collector.GetMetrics("GET /things")
	require.NotNil(t, metrics)
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(0), metrics.TotalErrors)
}
