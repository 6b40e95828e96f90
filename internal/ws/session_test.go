package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/meshapi/internal/auth"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

type recordingListener struct {
	mu          sync.Mutex
	messages    [][]byte
	transitions []string
}

func (l *recordingListener) OnMessage(messageType int, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)
	l.messages = append(l.messages, copied)
}

func (l *recordingListener) OnStateChange(from, to mesh.SessionState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transitions = append(l.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (l *recordingListener) sawTransition(from, to mesh.SessionState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := fmt.Sprintf("%s->%s", from, to)
	for _, transition := range l.transitions {
		if transition == want {
			return true
		}
	}

	return false
}

func (l *recordingListener) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.messages)
}

func newEchoServer(t *testing.T, protocol string) (*httptest.Server, func() []string) {
	t.Helper()

	upgrader := websocket.Upgrader{Subprotocols: []string{protocol}}

	var (
		mu        sync.Mutex
		protocols []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		mu.Lock()
		protocols = websocket.Subprotocols(request)
		mu.Unlock()

		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()

		return protocols
	}
}

func TestSession_SendStateGuards(t *testing.T) {
	t.Parallel()
	t.Run("send before connect fails with zero attempts", func(t *testing.T) {
		t.Parallel()

		session := NewSession(nil, "stream", "mesh.v1", nil)

		start := time.Now()

		err := session.Send(context.Background(), []byte("hello"))
		require.Error(t, err)

		var stateErr *mesh.SessionStateError

		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, mesh.StateNone, stateErr.State)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, mesh.StateNone, session.State())
	})

	t.Run("send after close fails", func(t *testing.T) {
		t.Parallel()

		session := NewSession(nil, "stream", "mesh.v1", nil)
		require.NoError(t, session.Close())

		err := session.Send(context.Background(), []byte("hello"))
		require.Error(t, err)

		var stateErr *mesh.SessionStateError

		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, mesh.StateDone, stateErr.State)
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestSession_ConnectAndEcho(t *testing.T) {
	t.Parallel()

	server, protocols := newEchoServer(t, "mesh.v1")
	defer server.Close()

	listener := &recordingListener{}
	session := NewSession(nil, "stream", "mesh.v1", auth.NewStaticTokenManager("session-token"),
		WithEndpoint(server.URL))

	defer func() { _ = session.Close() }()

	require.NoError(t, session.Connect(context.Background(), listener))
	assert.Equal(t, mesh.StateRunningPreliminary, session.State())
	assert.True(t, listener.sawTransition(mesh.StateNone, mesh.StateStarting))
	assert.True(t, listener.sawTransition(mesh.StateStarting, mesh.StateRunningPreliminary))

	// The token rides next to the application protocol in the handshake.
	assert.Equal(t, []string{"mesh.v1", "token-session-token"}, protocols())

	// Reconnecting while live is a no-op.
	require.NoError(t, session.Connect(context.Background(), listener))

	session.MarkReady()
	assert.Equal(t, mesh.StateRunning, session.State())
	assert.True(t, listener.sawTransition(mesh.StateRunningPreliminary, mesh.StateRunning))

	// MarkReady is idempotent.
	session.MarkReady()
	assert.Equal(t, mesh.StateRunning, session.State())

	require.NoError(t, session.Send(context.Background(), []byte("hello")))

	assert.Eventually(t, func() bool {
		return listener.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, session.Close())
	assert.Equal(t, mesh.StateDone, session.State())

	err := session.Connect(context.Background(), listener)
	require.ErrorIs(t, err, mesh.ErrSessionClosed)
}

func TestSession_ConnectFailure(t *testing.T) {
	t.Parallel()

	session := NewSession(nil, "stream", "mesh.v1", nil,
		WithEndpoint("http://127.0.0.1:1"))

	err := session.Connect(context.Background(), nil)
	require.Error(t, err)

	var connErr *mesh.ConnectionError

	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, mesh.StateNone, session.State())
}

func TestSession_SendRetriesExhaustedTriggerRestart(t *testing.T) {
	t.Parallel()

	listener := &recordingListener{}
	session := NewSession(nil, "stream", "mesh.v1", nil,
		WithEndpoint("http://127.0.0.1:1"),
		WithSendRetryMax(2),
		WithReconnectMax(2))
	session.delayUnit = time.Millisecond
	session.listener = listener
	session.state.Store(int32(mesh.StateRunning))

	// writeMessage fails on every attempt: there is no live connection.
	err := session.Send(context.Background(), []byte("hello"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return listener.sawTransition(mesh.StateRunning, mesh.StateRestarting)
	}, 2*time.Second, 10*time.Millisecond)

	// Every reconnect attempt fails against the dead endpoint.
	assert.Eventually(t, func() bool {
		return session.State() == mesh.StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_SendCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	session := NewSession(nil, "stream", "mesh.v1", nil, WithSendRetryMax(100))
	session.delayUnit = 100 * time.Millisecond
	session.state.Store(int32(mesh.StateRunning))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := session.Send(ctx, []byte("hello"))
	require.Error(t, err)

	var cancelledErr *mesh.CancelledError

	require.ErrorAs(t, err, &cancelledErr)
	assert.True(t, mesh.IsCancelled(err))
}

func TestSession_ReconnectAfterReadFailure(t *testing.T) {
	t.Parallel()

	server, _ := newEchoServer(t, "mesh.v1")
	defer server.Close()

	listener := &recordingListener{}
	session := NewSession(nil, "stream", "mesh.v1", nil,
		WithEndpoint(server.URL), WithReconnectMax(3))
	session.delayUnit = time.Millisecond

	defer func() { _ = session.Close() }()

	require.NoError(t, session.Connect(context.Background(), listener))

	// Drop the transport out from under the read pump.
	session.mu.Lock()
	_ = session.conn.Close()
	session.mu.Unlock()

	assert.Eventually(t, func() bool {
		return listener.sawTransition(mesh.StateRunningPreliminary, mesh.StateRestarting) &&
			session.State() == mesh.StateRunningPreliminary
	}, 2*time.Second, 10*time.Millisecond)
}
