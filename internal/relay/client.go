// Package relay owns the bridge side of the transport: a single persistent
// WebSocket connection to the bridge server, with exponential-backoff
// reconnection, keepalive handling, and a channel to the page agent.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// State is the connection state of the transport relay.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ErrNotConnected is returned by Send when no live connection exists.
// Outbound messages are never queued or retried.
var ErrNotConnected = errors.New("relay: not connected")

// Forwarder receives every non-control message read from the transport.
type Forwarder interface {
	Deliver(raw json.RawMessage)
	Status(s State)
}

// ClientConfig configures the transport relay.
type ClientConfig struct {
	URL       string
	BaseDelay time.Duration // first reconnect delay (default 1s)
	MaxDelay  time.Duration // backoff ceiling (default 30s)
	Logger    *slog.Logger
}

// Client maintains at most one live connection to the configured endpoint.
type Client struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	forwarder Forwarder
	logger    *slog.Logger

	mu       sync.Mutex
	url      string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	state    State
	attempts int
	gen      int // connection generation; bumps detach stale read loops
	timer    *time.Timer
	stopped  bool

	statusCh chan State
}

// NewClient creates a transport relay client. Connect must be called to
// start the connection sequence.
func NewClient(cfg ClientConfig, fwd Forwarder) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	c := &Client{
		url:       cfg.URL,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		forwarder: fwd,
		logger:    cfg.Logger,
		state:     StateDisconnected,
		statusCh:  make(chan State, 16),
	}
	if fwd != nil {
		go c.statusLoop()
	}
	return c
}

// statusLoop delivers state transitions to the forwarder one at a time, in
// the order they happened, so a rapid connecting→connected sequence can never
// leave a stale status as the bridge's last-known state.
func (c *Client) statusLoop() {
	for s := range c.statusCh {
		c.forwarder.Status(s)
	}
}

// NextDelay computes the reconnect delay after attempts consecutive failures:
// min(base * 2^attempts, max).
func NextDelay(base, max time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection sequence. It is a no-op when already
// connecting or connected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.stopped || c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	gen := c.gen
	url := c.url
	c.mu.Unlock()

	go c.dial(gen, url)
}

// Reconnect tears down any live socket (detaching its handlers first so the
// close does not double-fire a reconnect) and restarts the connect sequence
// with the attempt counter reset. An empty url keeps the current endpoint.
func (c *Client) Reconnect(url string) {
	c.mu.Lock()
	c.gen++ // detach: the old read loop's close event is now stale
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if url != "" {
		c.url = url
	}
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logger.Info("relay reconfigured, reconnecting", "url", c.endpoint())
	c.Connect()
}

// Stop closes the connection and prevents further reconnects.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
}

// Send marshals v and writes it to the live connection. Callers forwarding
// page-agent acknowledgements drop the message silently on ErrNotConnected.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *Client) dial(gen int, url string) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)

	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.setStateLocked(StateError)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn("relay connect failed", "url", url, "err", err)
		return
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("relay connected", "url", url)

	// Announce readiness once per successful connection.
	if err := c.Send(domain.ControlFrame{Type: domain.FrameStatus, Status: domain.StatusReady}); err != nil {
		c.logger.Warn("relay ready status not sent", "err", err)
	}

	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen || c.stopped {
				// Detached by Reconnect/Stop; that path already owns recovery.
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.setStateLocked(StateDisconnected)
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			c.logger.Warn("relay connection closed", "err", err)
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame answers pings immediately and forwards everything else to the
// page agent bridge. Pings are never forwarded further.
func (c *Client) handleFrame(raw []byte) {
	var probe domain.ControlFrame
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Type == domain.FramePing {
		if err := c.Send(domain.ControlFrame{Type: domain.FramePong, TS: probe.TS}); err != nil {
			c.logger.Debug("pong not sent", "err", err)
			return
		}
		metrics.PingsAnswered.Inc()
		return
	}
	c.forwarder.Deliver(json.RawMessage(raw))
}

func (c *Client) scheduleReconnectLocked() {
	if c.stopped {
		return
	}
	delay := NextDelay(c.baseDelay, c.maxDelay, c.attempts)
	c.attempts++
	gen := c.gen
	url := c.url
	metrics.Reconnects.Inc()
	c.logger.Info("relay reconnect scheduled", "delay", delay, "attempt", c.attempts)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen || c.stopped || c.state == StateConnected || c.state == StateConnecting {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.dial(gen, url)
	})
}

// setStateLocked updates the state and drives the visible status indicator.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	metrics.ConnectionState.Set(stateValue(s))
	if c.forwarder != nil {
		select {
		case c.statusCh <- s:
		default:
			c.logger.Warn("status backlog full, transition dropped", "state", s)
		}
	}
}

func stateValue(s State) int64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateError:
		return 3
	default:
		return 0
	}
}
