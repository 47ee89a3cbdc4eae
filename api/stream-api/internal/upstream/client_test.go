package internal_upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/pkg/commons"
)

var upgrader = websocket.Upgrader{}

// testServer is a scripted upstream endpoint: the handler receives each
// accepted connection.
func testServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	c := NewClient(logger, ClientConfig{
		BaseURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:   "test-key",
		Language: "en-US",
	})
	t.Cleanup(c.Close)
	return c
}

func waitInbound(t *testing.T, c *Client) Inbound {
	t.Helper()
	select {
	case ev := <-c.Inbound():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
		return nil
	}
}

func waitState(t *testing.T, c *Client, want ClientState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, c.State())
}

// ============================================================================
// URL and backoff policy
// ============================================================================

func TestURL(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	c := NewClient(logger, ClientConfig{
		BaseURL:  "wss://speech.example.com",
		APIKey:   "k123",
		Language: "de-DE",
	})

	u, err := c.URL()
	require.NoError(t, err)
	assert.Equal(t, "wss://speech.example.com/ws/conversation?api_key=k123&language=de-DE", u)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{0, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

// ============================================================================
// Send gating
// ============================================================================

func TestSend_NotConnected(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	c := NewClient(logger, ClientConfig{BaseURL: "ws://localhost:1"})

	err = c.Send([]byte{1, 2})
	require.Error(t, err)
	assert.True(t, commons.IsKind(err, commons.ErrNotConnected))
}

// ============================================================================
// Connect and demultiplexing
// ============================================================================

func TestConnect_DemultiplexesFrames(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"hello there"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"llm_token","text":"Hi"}`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2, 3})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"llm_done"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))

	connected, ok := waitInbound(t, c).(InboundConnected)
	require.True(t, ok)
	assert.NotEmpty(t, connected.ConnectionID)
	assert.Equal(t, StateOpen, c.State())

	assert.Equal(t, InboundTranscript{Text: "hello there"}, waitInbound(t, c))
	assert.Equal(t, InboundToken{Text: "Hi"}, waitInbound(t, c))
	assert.Equal(t, InboundAudio{PCM: []byte{0, 1, 2, 3}}, waitInbound(t, c))
	assert.Equal(t, InboundDone{}, waitInbound(t, c))

	closed, ok := waitInbound(t, c).(InboundDisconnected)
	require.True(t, ok)
	assert.Equal(t, websocket.CloseNormalClosure, closed.Code)
	waitState(t, c, StateDisconnected)
}

func TestConnect_SendReachesServer(t *testing.T) {
	received := make(chan []byte, 1)
	srv := testServer(t, func(conn *websocket.Conn) {
		_, payload, err := conn.ReadMessage()
		if err == nil {
			received <- payload
		}
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c) // connected

	require.NoError(t, c.Send([]byte{9, 8, 7}))
	select {
	case payload := <-received:
		assert.Equal(t, []byte{9, 8, 7}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c)
	require.NoError(t, c.Connect(context.Background()), "connect while open is a no-op")
	assert.Equal(t, StateOpen, c.State())
}

// ============================================================================
// Protocol errors
// ============================================================================

func TestMalformedTextFrame_DroppedConnectionRetained(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"no type"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"still here"}`))
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c) // connected

	for i := 0; i < 2; i++ {
		protoErr, ok := waitInbound(t, c).(InboundError)
		require.True(t, ok)
		assert.Equal(t, commons.ErrUpstreamProtocol, protoErr.Kind)
	}

	assert.Equal(t, InboundTranscript{Text: "still here"}, waitInbound(t, c))
	assert.Equal(t, StateOpen, c.State())
}

func TestUnknownFrameType_Ignored(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"weather","text":"sunny"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"llm_done"}`))
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c) // connected

	assert.Equal(t, InboundDone{}, waitInbound(t, c), "unknown frame produces no event")
}

// ============================================================================
// Reconnection
// ============================================================================

func TestAbnormalClose_EntersReconnectPending(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close handshake.
		conn.UnderlyingConn().Close()
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c) // connected

	closed, ok := waitInbound(t, c).(InboundDisconnected)
	require.True(t, ok)
	assert.NotEqual(t, websocket.CloseNormalClosure, closed.Code)
	waitState(t, c, StateReconnectPending)
}

func TestClose_Idempotent(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	waitInbound(t, c)

	c.Close()
	c.Close()
	assert.Equal(t, StateDisconnected, c.State())

	err := c.Send([]byte{1})
	assert.True(t, commons.IsKind(err, commons.ErrNotConnected))
}
