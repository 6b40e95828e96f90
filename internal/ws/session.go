package ws

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fivetwenty-io/meshapi/internal/auth"
	"github.com/fivetwenty-io/meshapi/internal/constants"
	"github.com/fivetwenty-io/meshapi/internal/discovery"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// Static errors for err113 compliance.
var (
	errNoConnection = errors.New("no live connection")
)

// Session is a persistent WebSocket connection to one named API. The state
// field is the single point of truth for liveness: it is updated atomically,
// exactly once per transition, and read before every send.
type Session struct {
	resolver     *discovery.Resolver
	endpoint     string
	api          string
	protocol     string
	tokenManager auth.TokenManager
	logger       mesh.Logger

	sendRetryMax int
	reconnectMax int
	delayUnit    time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	state    atomic.Int32
	listener mesh.SessionListener

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

var _ mesh.Session = (*Session)(nil)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured event sink.
func WithLogger(logger mesh.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithEndpoint fixes the handshake endpoint, bypassing the resolver.
func WithEndpoint(endpoint string) Option {
	return func(s *Session) {
		s.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithSendRetryMax bounds physical send attempts per Send call.
func WithSendRetryMax(retryMax int) Option {
	return func(s *Session) {
		s.sendRetryMax = retryMax
	}
}

// WithReconnectMax bounds consecutive reconnect attempts before the session
// fails permanently.
func WithReconnectMax(reconnectMax int) Option {
	return func(s *Session) {
		s.reconnectMax = reconnectMax
	}
}

// NewSession creates a disconnected session for the named API, negotiating
// the given application sub-protocol. tokenManager may be nil for
// unauthenticated endpoints.
func NewSession(resolver *discovery.Resolver, api, protocol string, tokenManager auth.TokenManager, opts ...Option) *Session {
	session := &Session{
		resolver:     resolver,
		api:          api,
		protocol:     protocol,
		tokenManager: tokenManager,
		logger:       mesh.NoopLogger{},
		sendRetryMax: constants.DefaultSendRetryMax,
		reconnectMax: constants.DefaultReconnectMax,
		delayUnit:    time.Second,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not crypto
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(session)
	}

	return session
}

// State returns the current session state.
func (s *Session) State() mesh.SessionState {
	return mesh.SessionState(s.state.Load())
}

// MarkReady records the remote's application-level readiness signal.
func (s *Session) MarkReady() {
	if s.state.CompareAndSwap(int32(mesh.StateRunningPreliminary), int32(mesh.StateRunning)) {
		s.notify(mesh.StateRunningPreliminary, mesh.StateRunning)
	}
}

// Connect opens the connection. While a live connection exists the call
// returns immediately without reopening.
func (s *Session) Connect(ctx context.Context, listener mesh.SessionListener) error {
	switch s.State() {
	case mesh.StateStarting, mesh.StateRunningPreliminary, mesh.StateRunning, mesh.StateRestarting:
		return nil
	case mesh.StateDone, mesh.StateFailed:
		return mesh.ErrSessionClosed
	case mesh.StateNone:
	}

	s.listener = listener
	s.setState(mesh.StateStarting)

	err := s.dial(ctx)
	if err != nil {
		if mesh.IsAuth(err) {
			s.setState(mesh.StateFailed)

			return err
		}

		s.setState(mesh.StateNone)

		return err
	}

	s.setState(mesh.StateRunningPreliminary)

	go s.readPump()

	return nil
}

// Send blocks until the message is written, the retry budget triggers a
// restart, or ctx is cancelled. The state is checked before every physical
// attempt; a session that is not running fails fast with a SessionStateError.
func (s *Session) Send(ctx context.Context, data []byte) error {
	delay := 0
	retries := 0

	for {
		if delay > 0 {
			err := s.sleep(ctx, delay)
			if err != nil {
				return err
			}
		}

		state := s.State()
		if state != mesh.StateRunning && state != mesh.StateRunningPreliminary {
			return &mesh.SessionStateError{State: state}
		}

		err := s.writeMessage(websocket.TextMessage, data)
		if err == nil {
			return nil
		}

		retries++
		if retries > s.sendRetryMax {
			s.logger.Warn("send retries exhausted, restarting session", map[string]interface{}{
				"api":     s.api,
				"retries": retries,
			})

			go s.restart()

			return nil
		}

		delay = s.nextDelay(delay)
	}
}

// Close cleanly ends the session; the state becomes DONE.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(mesh.StateDone)
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.conn != nil {
			deadline := time.Now().Add(constants.WriteWait)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.conn.Close()
			s.conn = nil
		}
	})

	return nil
}

// dial resolves the handshake URI, obtains the current token, and opens the
// connection. The token rides in the sub-protocol list next to the
// application protocol.
func (s *Session) dial(ctx context.Context) error {
	handshakeURL, err := s.handshakeURL(ctx)
	if err != nil {
		return err
	}

	subprotocols := []string{s.protocol}

	if s.tokenManager != nil {
		token, err := s.tokenManager.GetToken(ctx)
		if err != nil {
			if mesh.IsAuth(err) {
				return err
			}

			return &mesh.AuthError{Op: "get", Err: err}
		}

		subprotocols = append(subprotocols, "token-"+token)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: constants.HandshakeTimeout,
		Subprotocols:     subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, handshakeURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}

		return &mesh.ConnectionError{URL: handshakeURL, Err: err}
	}

	if resp != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Debug("websocket connected", map[string]interface{}{
		"api": s.api,
		"url": handshakeURL,
	})

	return nil
}

// handshakeURL builds the ws(s) URI from the explicit endpoint or the
// resolver, the same way the request executor resolves a base URI.
func (s *Session) handshakeURL(ctx context.Context) (string, error) {
	base := s.endpoint
	if base == "" {
		resolved, err := s.resolver.Resolve(ctx, s.api)
		if err != nil {
			return "", err
		}

		base = resolved
	}

	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://"), nil
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://"), nil
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base, nil
	default:
		return "", &mesh.ConnectionError{URL: base, Err: fmt.Errorf("%w: unsupported scheme", errNoConnection)}
	}
}

// readPump delivers inbound messages until the connection drops, then hands
// control to the restart loop unless the drop was an intentional close.
func (s *Session) readPump() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if s.State().Terminal() {
				return
			}

			s.logger.Debug("websocket read failed", map[string]interface{}{
				"api":   s.api,
				"error": err.Error(),
			})

			s.restart()

			return
		}

		if s.listener != nil {
			s.listener.OnMessage(messageType, data)
		}
	}
}

// restart drives the reconnect cycle: RESTARTING, backoff, STARTING, dial,
// looping until a connection opens or the reconnect budget is spent. Only one
// restart runs at a time; losers of the transition race return immediately.
func (s *Session) restart() {
	if !s.beginRestart() {
		return
	}

	s.closeConn()

	delay := 0

	for attempt := 0; attempt < s.reconnectMax; attempt++ {
		delay = s.nextDelay(delay)

		err := s.sleep(context.Background(), delay)
		if err != nil {
			return
		}

		if s.State() != mesh.StateRestarting {
			return
		}

		s.setState(mesh.StateStarting)

		err = s.dial(context.Background())
		if err == nil {
			s.setState(mesh.StateRunningPreliminary)

			go s.readPump()

			return
		}

		s.logger.Warn("websocket reconnect failed", map[string]interface{}{
			"api":     s.api,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		if mesh.IsAuth(err) {
			s.setState(mesh.StateFailed)

			return
		}

		s.setState(mesh.StateRestarting)
	}

	s.setState(mesh.StateFailed)
}

// beginRestart claims the RESTARTING transition. It fails when the session is
// terminal or another restart already owns the cycle.
func (s *Session) beginRestart() bool {
	for {
		current := s.State()
		if current == mesh.StateRestarting || current.Terminal() {
			return false
		}

		if s.state.CompareAndSwap(int32(current), int32(mesh.StateRestarting)) {
			s.notify(current, mesh.StateRestarting)

			return true
		}
	}
}

func (s *Session) writeMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return &mesh.WebSocketError{Err: errNoConnection}
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))

	err := s.conn.WriteMessage(messageType, data)
	if err != nil {
		return &mesh.WebSocketError{Err: err}
	}

	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// sleep blocks for delay backoff units, aborting on ctx cancellation or
// session close.
func (s *Session) sleep(ctx context.Context, delay int) error {
	timer := time.NewTimer(time.Duration(delay) * s.delayUnit)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return &mesh.CancelledError{Err: ctx.Err()}
	case <-s.done:
		return &mesh.SessionStateError{State: s.State()}
	case <-timer.C:
		return nil
	}
}

func (s *Session) nextDelay(prev int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	return NextDelay(prev, s.rng)
}

// setState performs one state transition and reports it to the listener.
func (s *Session) setState(to mesh.SessionState) {
	from := mesh.SessionState(s.state.Swap(int32(to)))
	if from != to {
		s.notify(from, to)
	}
}

func (s *Session) notify(from, to mesh.SessionState) {
	s.logger.Debug("session state change", map[string]interface{}{
		"api":  s.api,
		"from": from.String(),
		"to":   to.String(),
	})

	if s.listener != nil {
		s.listener.OnStateChange(from, to)
	}
}
