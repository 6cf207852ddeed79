// Package speech tracks the host page's streaming responses and turns newly
// appeared text into synthesized audio. The engine is a pure state machine
// fed by transcript snapshots; synthesis and playback live behind the
// Synthesizer interface.
package speech

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/metrics"
)

// Synthesizer receives flushed transcript chunks for voicing.
type Synthesizer interface {
	Speak(text string)
}

// Observation is one reading of the response region: the identity tag of the
// streaming container (empty when nothing is streaming), whether it is still
// growing, and the visible body text.
type Observation struct {
	StreamID  string
	Streaming bool
	Text      string
}

// Engine owns the transcript cursor. Within one streaming turn
// lastSpoken never decreases; it resets to zero exactly when a new streaming
// instance is first observed, or when speech is freshly enabled.
type Engine struct {
	synth  Synthesizer
	quiet  time.Duration
	logger *slog.Logger

	mu           sync.Mutex
	enabled      bool
	lastSpoken   int
	pending      strings.Builder
	activeStream string
	debounce     *time.Timer

	speakCh chan string
}

// NewEngine creates a speech engine. It starts disabled: speech is gated on
// an explicit user toggle, never automatic enablement.
func NewEngine(synth Synthesizer, quiet time.Duration, logger *slog.Logger) *Engine {
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	e := &Engine{synth: synth, quiet: quiet, logger: logger, speakCh: make(chan string, 64)}
	go e.speakLoop()
	return e
}

// speakLoop voices flushed chunks one at a time. A single consumer keeps
// playback strictly in flush order even when synthesis of one chunk outlasts
// the next quiet period.
func (e *Engine) speakLoop() {
	for text := range e.speakCh {
		e.synth.Speak(text)
	}
}

// Enabled reports whether the engine is unlocked.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Toggle flips enablement and returns the new state. Enabling marks the
// currently visible content as already read so history is never re-spoken;
// cur is the latest observation at toggle time.
func (e *Engine) Toggle(cur Observation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled {
		e.disableLocked()
		return false
	}

	e.enabled = true
	e.lastSpoken = len(NormalizeWhitespace(cur.Text))
	e.pending.Reset()
	e.activeStream = ""
	if cur.Streaming {
		e.activeStream = cur.StreamID
	}
	e.logger.Info("speech enabled", "already_read", e.lastSpoken)
	return true
}

// Disable turns the engine off and discards any pending buffer.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disableLocked()
}

func (e *Engine) disableLocked() {
	e.enabled = false
	e.pending.Reset()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.logger.Info("speech disabled")
}

// Observe feeds one transcript observation through the state machine. Text is
// normalized here as well as in the page script, so the cursor is always
// measured against the same rendering of the transcript.
func (e *Engine) Observe(obs Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return
	}
	obs.Text = NormalizeWhitespace(obs.Text)

	if obs.Streaming {
		if obs.StreamID != e.activeStream {
			// A fresh turn: speak only newly generated content, never history.
			e.activeStream = obs.StreamID
			e.lastSpoken = 0
			e.pending.Reset()
			if e.debounce != nil {
				e.debounce.Stop()
				e.debounce = nil
			}
			e.logger.Debug("new streaming turn", "stream", obs.StreamID)
		}
		e.appendDeltaLocked(obs.Text)
		return
	}

	if e.activeStream != "" {
		// Streaming marker gone: one final delta pass against the completed
		// response catches any trailing un-flushed text.
		e.appendDeltaLocked(obs.Text)
		e.activeStream = ""
		e.flushLocked()
	}
}

func (e *Engine) appendDeltaLocked(text string) {
	if len(text) <= e.lastSpoken {
		return
	}
	e.pending.WriteString(text[e.lastSpoken:])
	e.lastSpoken = len(text)
	e.armDebounceLocked()
}

// armDebounceLocked resets the quiet-period timer; the buffered delta is
// flushed only once growth pauses.
func (e *Engine) armDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(e.quiet, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.flushLocked()
	})
}

func (e *Engine) flushLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	text := strings.TrimSpace(e.pending.String())
	e.pending.Reset()
	if text == "" {
		return
	}
	metrics.SpokenChunks.Inc()
	select {
	case e.speakCh <- text:
	default:
		e.logger.Warn("speech backlog full, chunk dropped", "len", len(text))
	}
}

// Cursor returns the current spoken length, for diagnostics and tests.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSpoken
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses runs of whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
