package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"chatrelay/internal/metrics"
)

// Agent is the page-context side of the bridge: the component that turns
// delivered envelopes into DOM operations.
type Agent interface {
	Deliver(raw json.RawMessage)
	PushStatus(s State)
}

// Bridge is the bidirectional channel between the transport relay and the
// page agent. Its buffering is independent of the relay's own connection
// state: an envelope already delivered across the bridge is processed even
// while the transport is down.
type Bridge struct {
	logger *slog.Logger

	mu       sync.Mutex
	agent    Agent
	fallback func(raw json.RawMessage) error
	outbound func(v any) error
	last     State
}

// NewBridge creates a page agent bridge. The fallback is the best-effort
// direct delivery path used when no agent is attached; it may be nil.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger, last: StateDisconnected}
}

// SetFallback installs the best-effort direct deliverer tried when no agent
// is attached. There is no retry or backoff on this path.
func (b *Bridge) SetFallback(fn func(raw json.RawMessage) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = fn
}

// SetOutbound wires the relay's send function for page-agent acknowledgements.
func (b *Bridge) SetOutbound(fn func(v any) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = fn
}

// Attach connects a page agent. The current connection status is pushed
// immediately so the agent's indicator is consistent without polling.
func (b *Bridge) Attach(a Agent) {
	b.mu.Lock()
	b.agent = a
	last := b.last
	b.mu.Unlock()

	a.PushStatus(last)
}

// Detach disconnects the current page agent.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agent = nil
}

// Deliver forwards a transport message to the attached agent. With no agent
// attached, one best-effort direct delivery is attempted; if that also fails
// the message is dropped with a logged warning.
func (b *Bridge) Deliver(raw json.RawMessage) {
	b.mu.Lock()
	agent := b.agent
	fallback := b.fallback
	b.mu.Unlock()

	if agent != nil {
		agent.Deliver(raw)
		return
	}
	if fallback != nil {
		err := fallback(raw)
		if err == nil {
			return
		}
		b.logger.Warn("direct delivery failed, message dropped", "err", err)
	} else {
		b.logger.Warn("no page agent attached, message dropped")
	}
	metrics.EnvelopesDropped.Inc()
}

// Status records a relay state transition and pushes it to the attached agent.
func (b *Bridge) Status(s State) {
	b.mu.Lock()
	b.last = s
	agent := b.agent
	b.mu.Unlock()

	if agent != nil {
		agent.PushStatus(s)
	}
}

// Forward sends a message posted by the page agent back to the transport
// channel verbatim. Dropped silently when not connected; outbound
// acknowledgements are never queued.
func (b *Bridge) Forward(v any) {
	b.mu.Lock()
	out := b.outbound
	b.mu.Unlock()

	if out == nil {
		return
	}
	if err := out(v); err != nil {
		b.logger.Debug("outbound dropped", "err", err)
	}
}
