package mesh

import (
	"errors"
	"fmt"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired   = errors.New("config is required")
	ErrRootURLRequired  = errors.New("root URL is required")
	ErrTokenImmutable   = errors.New("token is immutable and cannot be refreshed or revoked")
	ErrNoToken          = errors.New("no usable token available")
	ErrNoCredentials    = errors.New("no credentials configured")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSkipTLSOnlyInDev = errors.New("skipTLS is only allowed in development environments")
)

// AuthError indicates that a token could not be obtained or refreshed.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DiscoveryError indicates that the version-map fetch itself failed. It is
// never cached; the next resolution retries discovery.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery against %s failed: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// UnknownAPIError indicates that discovery succeeded but the requested API
// name is absent from the returned version map.
type UnknownAPIError struct {
	API string
}

func (e *UnknownAPIError) Error() string {
	return fmt.Sprintf("API %q not present in the server's version map", e.API)
}

// TransportError indicates a network-level failure (timeout, connection
// reset, or a retryable status that survived the configured retry budget).
type TransportError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport failure: %v", e.Err)
	}

	return fmt.Sprintf("transport failure: status %d after retries", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError indicates the remote rejected the request with a terminal
// non-2xx status.
type RequestError struct {
	Status int
	Body   []byte
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request rejected with status %d: %s", e.Status, string(e.Body))
}

// SessionStateError indicates a WebSocket send was attempted while the
// session was in a state that cannot accept it.
type SessionStateError struct {
	State SessionState
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("session in state %s cannot send", e.State)
}

// ConnectionError indicates the WebSocket handshake failed.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WebSocketError indicates a failure on an established session.
type WebSocketError struct {
	Err error
}

func (e *WebSocketError) Error() string {
	return fmt.Sprintf("websocket failure: %v", e.Err)
}

func (e *WebSocketError) Unwrap() error { return e.Err }

// CancelledError indicates a blocking call was aborted by its context.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("operation cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// IsAuth checks whether the error is an authentication failure.
func IsAuth(err error) bool {
	authErr := &AuthError{}

	return errors.As(err, &authErr)
}

// IsDiscovery checks whether the error is a discovery-call failure.
func IsDiscovery(err error) bool {
	discErr := &DiscoveryError{}

	return errors.As(err, &discErr)
}

// IsUnknownAPI checks whether the error names an API absent from the version map.
func IsUnknownAPI(err error) bool {
	unknownErr := &UnknownAPIError{}

	return errors.As(err, &unknownErr)
}

// IsTransport checks whether the error is a network-level failure.
func IsTransport(err error) bool {
	transportErr := &TransportError{}

	return errors.As(err, &transportErr)
}

// IsRequest checks whether the remote rejected the request terminally.
func IsRequest(err error) bool {
	reqErr := &RequestError{}

	return errors.As(err, &reqErr)
}

// IsCancelled checks whether a blocking call was aborted by its context.
func IsCancelled(err error) bool {
	cancelErr := &CancelledError{}

	return errors.As(err, &cancelErr)
}

// RequestStatus returns the terminal status carried by a RequestError, or 0.
func RequestStatus(err error) int {
	reqErr := &RequestError{}
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}

	return 0
}
