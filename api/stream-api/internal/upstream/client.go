package internal_upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// ClientState is the connection lifecycle state.
type ClientState string

const (
	StateDisconnected     ClientState = "disconnected"
	StateConnecting       ClientState = "connecting"
	StateOpen             ClientState = "open"
	StateReconnectPending ClientState = "reconnect-pending"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultMaxAttempts      = 5
	maxBackoff              = 30 * time.Second
	inboundBuffer           = 256
)

// Server-sent JSON frame kinds.
const (
	frameTranscript = "transcript"
	frameToken      = "llm_token"
	frameDone       = "llm_done"
)

// textFrame is the upstream's JSON envelope for non-audio frames.
type textFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ============================================================================
// Inbound events
// ============================================================================

// Inbound is one demultiplexed frame or connection-state change, delivered
// in receive order on the client's channel.
type Inbound interface {
	inbound()
}

// InboundAudio carries one binary frame of linear wide-band PCM.
type InboundAudio struct {
	PCM []byte
}

// InboundTranscript carries a partial caller transcript.
type InboundTranscript struct {
	Text string
}

// InboundToken carries one generation token.
type InboundToken struct {
	Text string
}

// InboundDone marks the end of one generation.
type InboundDone struct{}

// InboundConnected reports a successful open with a fresh connection id.
type InboundConnected struct {
	ConnectionID string
}

// InboundDisconnected reports a close with its code and reason.
type InboundDisconnected struct {
	Code   int
	Reason string
}

// InboundError reports a non-fatal client error.
type InboundError struct {
	Kind    commons.ErrorKind
	Message string
}

func (InboundAudio) inbound()        {}
func (InboundTranscript) inbound()   {}
func (InboundToken) inbound()        {}
func (InboundDone) inbound()         {}
func (InboundConnected) inbound()    {}
func (InboundDisconnected) inbound() {}
func (InboundError) inbound()        {}

// ============================================================================
// Client
// ============================================================================

// ClientConfig identifies the upstream endpoint and bounds reconnection.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Language string
	// HandshakeTimeout defaults to 5 s when zero.
	HandshakeTimeout time.Duration
	// MaxAttempts defaults to 5 when zero.
	MaxAttempts int
}

// Client maintains one duplex framed connection to the conversation service.
// It demultiplexes server frames onto an inbound channel and reconnects with
// exponential backoff on abnormal closes. Send is permitted only while open;
// nothing is queued.
type Client struct {
	mu     sync.Mutex
	cfg    ClientConfig
	logger commons.Logger
	dialer *websocket.Dialer

	state    ClientState
	conn     *websocket.Conn
	connID   string
	attempts int
	stopped  bool
	timer    *time.Timer

	writeMu sync.Mutex

	inbound chan Inbound
}

func NewClient(logger commons.Logger, cfg ClientConfig) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:   StateDisconnected,
		inbound: make(chan Inbound, inboundBuffer),
	}
}

// Inbound is the channel of demultiplexed server frames and state changes.
func (c *Client) Inbound() <-chan Inbound {
	return c.inbound
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL assembles the endpoint with credential and language tag.
func (c *Client) URL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", commons.WrapStreamError(commons.ErrUpstreamTransport, "invalid upstream base url", err)
	}
	u.Path = "/ws/conversation"
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("language", c.cfg.Language)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the upstream. On success the state moves to open, the
// attempt counter resets and a read loop starts; on failure a reconnect is
// scheduled under the backoff policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return commons.NewStreamError(commons.ErrNotConnected, "client is stopped")
	}
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	endpoint, err := c.URL()
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.logger.Warnw("upstream dial failed", "error", err)
		c.scheduleReconnect(ctx)
		return commons.WrapStreamError(commons.ErrUpstreamTransport, "upstream dial failed", err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return commons.NewStreamError(commons.ErrNotConnected, "client is stopped")
	}
	c.conn = conn
	c.connID = uuid.NewString()
	c.state = StateOpen
	c.attempts = 0
	connID := c.connID
	c.mu.Unlock()

	c.push(InboundConnected{ConnectionID: connID})
	utils.Go(func() { c.readLoop(ctx, conn) })
	return nil
}

// Send writes one binary audio frame. Only permitted while open; otherwise
// it fails with NOT_CONNECTED without queuing.
func (c *Client) Send(pcm []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return commons.NewStreamError(commons.ErrNotConnected, "upstream is not open")
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return commons.WrapStreamError(commons.ErrUpstreamTransport, "upstream send failed", err)
	}
	return nil
}

// Close stops the client for good: the reconnect timer is cancelled, the
// connection is closed with a normal-closure frame, and no further dials
// happen. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state = StateDisconnected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		conn.Close()
	}
}

// BackoffDelay is the reconnect delay before attempt n (1-based):
// 1s * 2^(n-1), capped at 30 s.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// ============================================================================
// Internals
// ============================================================================

// readLoop demultiplexes server frames until the connection drops.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.push(InboundAudio{PCM: payload})
		case websocket.TextMessage:
			c.handleText(payload)
		}
	}
}

// handleText parses a JSON envelope and fans it out by kind. Malformed
// frames are logged and dropped; the connection is retained.
func (c *Client) handleText(payload []byte) {
	var frame textFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
		c.logger.Warnw("malformed upstream text frame dropped", "payload", string(payload))
		c.push(InboundError{
			Kind:    commons.ErrUpstreamProtocol,
			Message: "malformed upstream text frame",
		})
		return
	}

	switch frame.Type {
	case frameTranscript:
		c.push(InboundTranscript{Text: frame.Text})
	case frameToken:
		c.push(InboundToken{Text: frame.Text})
	case frameDone:
		c.push(InboundDone{})
	default:
		c.logger.Warnw("unknown upstream frame type ignored", "type", frame.Type)
	}
}

// handleClose classifies a read error: normal closure or a stopped client
// ends the connection for good, anything else schedules a reconnect.
func (c *Client) handleClose(ctx context.Context, err error) {
	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if closeErr, ok := err.(*websocket.CloseError); ok {
		code = closeErr.Code
		reason = closeErr.Text
	}

	c.mu.Lock()
	stopped := c.stopped
	c.conn = nil
	c.mu.Unlock()

	c.push(InboundDisconnected{Code: code, Reason: reason})

	if stopped || code == websocket.CloseNormalClosure {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	c.logger.Infow("upstream connection lost", "code", code, "reason", reason)
	c.scheduleReconnect(ctx)
}

// scheduleReconnect arms the backoff timer for the next dial, or gives up
// with BACKOFF_EXHAUSTED once the attempt ceiling is reached.
func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.push(InboundError{
			Kind:    commons.ErrBackoffExhausted,
			Message: fmt.Sprintf("gave up after %d reconnect attempts", c.cfg.MaxAttempts),
		})
		return
	}
	c.state = StateReconnectPending
	delay := BackoffDelay(c.attempts)
	c.logger.Infow("upstream reconnect scheduled", "attempt", c.attempts, "delay", delay)

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		c.Connect(ctx)
	})
	c.mu.Unlock()
}

// push delivers without blocking; when the consumer lags the frame is
// dropped with a warning.
func (c *Client) push(event Inbound) {
	select {
	case c.inbound <- event:
	default:
		c.logger.Warnw("inbound channel full, dropping event", "event", fmt.Sprintf("%T", event))
	}
}
