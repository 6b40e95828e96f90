package constants

import "time"

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as discovery fetches.
	ShortHTTPTimeout = 10 * time.Second

	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout = 15 * time.Second

	// WriteWait bounds a single WebSocket write.
	WriteWait = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the default maximum number of transport retries.
	DefaultRetryMax = 3

	// DefaultRetryWaitMin is the minimum backoff between transport retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum backoff between transport retries.
	DefaultRetryWaitMax = 10 * time.Second

	// DefaultSendRetryMax is the default per-call bound on WebSocket send attempts.
	DefaultSendRetryMax = 3

	// DefaultReconnectMax bounds consecutive failed reconnect attempts before a
	// session is marked failed.
	DefaultReconnectMax = 10
)

// Send/reconnect backoff schedule, in seconds. The ramp adds RampStep below
// RampCeiling, MidStep below Plateau, and jitters within [Plateau,
// Plateau+JitterRange) from there on.
const (
	BackoffRampStep    = 1
	BackoffRampCeiling = 10
	BackoffMidStep     = 10
	BackoffPlateau     = 60
	BackoffJitterRange = 540
)

// Token lifetime handling.
const (
	// TokenExpiryBuffer is subtracted from a token's expiry so callers refresh
	// slightly before the server-side deadline.
	TokenExpiryBuffer = 30 * time.Second
)

// Cache defaults.
const (
	// DefaultCacheSize is the maximum number of entries in the memory cache.
	DefaultCacheSize = 100

	// DefaultCacheTTL is how long a cached version map stays valid.
	DefaultCacheTTL = 5 * time.Minute
)

// Connection pool defaults applied when no transport handle is supplied.
const (
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
)
