package mesh

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Endpoint describes one named API in the server's version map.
type Endpoint struct {
	// Endpoint is the concrete base URI for the API. The server may return it
	// absolute or as a path relative to the root URL.
	Endpoint string `json:"endpoint"          yaml:"endpoint"`
	// Version is the version the server currently serves for this API.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// SupportedVersions lists every version the server can serve, when published.
	SupportedVersions []string `json:"supported_versions,omitempty" yaml:"supported_versions,omitempty"`
}

// VersionMap is the discovery document: named API -> endpoint descriptor.
// Once fetched it is treated as immutable; a new discovery call replaces the
// whole map.
type VersionMap map[string]Endpoint

// Request describes one logical API request. It is immutable once built and
// consumed exactly once by the executor.
type Request struct {
	// Method is the HTTP method.
	Method string
	// API names the API whose discovered endpoint the path is joined to. When
	// empty, the client's default API is used.
	API string
	// Path is joined to the resolved endpoint. Ignored when URL is set.
	Path string
	// URL, when set, is used verbatim and bypasses endpoint resolution.
	URL string
	// Query parameters appended to the final URI.
	Query url.Values
	// Fragment appended to the final URI.
	Fragment string
	// Headers merged over the client's baseline headers; caller wins on conflict.
	Headers map[string]string
	// Body is an opaque byte stream. A caller-supplied Content-Type header is
	// honored; otherwise application/json is assumed for non-empty bodies.
	Body []byte
	// Timeout overrides the client's request timeout for this call.
	Timeout time.Duration
}

// Response is the outcome of a successful request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// SessionState is the liveness state of a WebSocket session. It is the single
// point of truth consulted before every send.
type SessionState int32

// Session states.
const (
	StateNone SessionState = iota
	StateStarting
	StateRunningPreliminary
	StateRunning
	StateRestarting
	StateDone
	StateFailed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateStarting:
		return "STARTING"
	case StateRunningPreliminary:
		return "RUNNING_PRELIMINARY"
	case StateRunning:
		return "RUNNING"
	case StateRestarting:
		return "RESTARTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further send can ever succeed from this state.
func (s SessionState) Terminal() bool {
	return s == StateNone || s == StateDone || s == StateFailed
}

// SessionListener receives connection events. Implementations must be safe
// for calls from the session's reader goroutine.
type SessionListener interface {
	// OnMessage delivers one received message.
	OnMessage(messageType int, data []byte)
	// OnStateChange reports every state transition.
	OnStateChange(from, to SessionState)
}

// Session is a persistent bidirectional connection to one named API.
type Session interface {
	// Connect opens the connection, or returns immediately while a live
	// connection exists. The listener may be nil.
	Connect(ctx context.Context, listener SessionListener) error
	// Send blocks until the message is written, the retry budget triggers a
	// restart, or ctx is cancelled.
	Send(ctx context.Context, data []byte) error
	// MarkReady reports the remote's application-level readiness signal,
	// moving RUNNING_PRELIMINARY to RUNNING. The collaborator that owns the
	// application protocol calls this from its OnMessage handler.
	MarkReady()
	// State returns the current session state.
	State() SessionState
	// Close cleanly ends the session; the state becomes DONE.
	Close() error
}

// Client is the public surface of a Mesh API client.
type Client interface {
	// Info returns the server's version map.
	Info(ctx context.Context) (VersionMap, error)
	// Resolve returns the concrete base URI for a named API.
	Resolve(ctx context.Context, api string) (string, error)
	// Request executes one authenticated request.
	Request(ctx context.Context, req *Request) (*Response, error)
	// Session builds a persistent WebSocket session against a named API,
	// negotiating the given application sub-protocol.
	Session(api, protocol string) (Session, error)
	// Token returns the current bearer token value.
	Token(ctx context.Context) (string, error)
}

// Logger is the injected structured event sink used by every component.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}
