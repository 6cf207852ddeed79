package speech

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chanSynth collects spoken chunks on a channel.
type chanSynth struct {
	mu     sync.Mutex
	chunks []string
	ch     chan string
}

func newChanSynth() *chanSynth {
	return &chanSynth{ch: make(chan string, 16)}
}

func (s *chanSynth) Speak(text string) {
	s.mu.Lock()
	s.chunks = append(s.chunks, text)
	s.mu.Unlock()
	s.ch <- text
}

func (s *chanSynth) wait(t *testing.T) string {
	t.Helper()
	select {
	case text := <-s.ch:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk spoken before timeout")
		return ""
	}
}

func (s *chanSynth) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case text := <-s.ch:
		t.Fatalf("unexpected chunk spoken: %q", text)
	case <-time.After(d):
	}
}

func newTestEngine(t *testing.T) (*Engine, *chanSynth) {
	t.Helper()
	synth := newChanSynth()
	return NewEngine(synth, 20*time.Millisecond, testLogger()), synth
}

func TestEngine_DisabledByDefault(t *testing.T) {
	e, synth := newTestEngine(t)
	if e.Enabled() {
		t.Fatal("engine must start disabled")
	}
	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "hello"})
	synth.expectSilence(t, 100*time.Millisecond)
}

func TestEngine_ToggleMarksVisibleContentRead(t *testing.T) {
	e, synth := newTestEngine(t)

	if !e.Toggle(Observation{Text: "old conversation history"}) {
		t.Fatal("toggle should enable")
	}
	if e.Cursor() != len("old conversation history") {
		t.Fatalf("cursor = %d, want %d", e.Cursor(), len("old conversation history"))
	}

	// Same turn continues: only new text past the cursor is spoken.
	e.Observe(Observation{StreamID: "", Streaming: false, Text: "old conversation history"})
	synth.expectSilence(t, 100*time.Millisecond)
}

func TestEngine_SpeaksStreamedDeltaAfterQuiet(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "Hello"})
	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "Hello world"})

	if got := synth.wait(t); got != "Hello world" {
		t.Fatalf("spoken %q, want %q", got, "Hello world")
	}
	if e.Cursor() != len("Hello world") {
		t.Fatalf("cursor = %d", e.Cursor())
	}
}

func TestEngine_CursorMonotonicWithinTurn(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "Hello world"})
	synth.wait(t)

	// A shorter observation of the same turn must not rewind the cursor
	// or re-speak anything.
	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "Hello"})
	synth.expectSilence(t, 100*time.Millisecond)
	if e.Cursor() != len("Hello world") {
		t.Fatalf("cursor rewound to %d", e.Cursor())
	}
}

func TestEngine_NewStreamResetsCursor(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "first response"})
	synth.wait(t)

	e.Observe(Observation{StreamID: "turn-2", Streaming: true, Text: "second"})
	if got := synth.wait(t); got != "second" {
		t.Fatalf("spoken %q, want full new turn content", got)
	}
}

func TestEngine_FinalPassOnStreamEnd(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "partial"})
	// Stream ends before the quiet period elapses; the trailing text is
	// flushed immediately, including the tail delta.
	e.Observe(Observation{StreamID: "", Streaming: false, Text: "partial and the rest"})

	if got := synth.wait(t); got != "partial and the rest" {
		t.Fatalf("spoken %q, want %q", got, "partial and the rest")
	}
}

func TestEngine_StreamEndWithoutActiveTurnIsNoop(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{Text: "history"})

	e.Observe(Observation{Streaming: false, Text: "history"})
	synth.expectSilence(t, 100*time.Millisecond)
}

func TestEngine_ToggleOffDiscardsPending(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "buffered"})
	if e.Toggle(Observation{}) {
		t.Fatal("second toggle should disable")
	}
	synth.expectSilence(t, 100*time.Millisecond)
}

func TestEngine_ToggleDuringStreamingAdoptsTurn(t *testing.T) {
	e, synth := newTestEngine(t)

	// Enabled mid-stream: the visible portion counts as read and only the
	// continuation of the same turn is spoken.
	e.Toggle(Observation{StreamID: "turn-1", Streaming: true, Text: "already visible"})
	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "already visible + more"})

	if got := synth.wait(t); got != "+ more" {
		t.Fatalf("spoken %q, want %q", got, "+ more")
	}
}

func TestEngine_WhitespaceOnlyDeltaNotSpoken(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "   "})
	synth.expectSilence(t, 150*time.Millisecond)
}

// slowSynth records start/end events and stalls on a designated chunk.
type slowSynth struct {
	mu     sync.Mutex
	events []string
	slow   string
	delay  time.Duration
}

func (s *slowSynth) Speak(text string) {
	s.mu.Lock()
	s.events = append(s.events, "start:"+text)
	s.mu.Unlock()
	if text == s.slow {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.events = append(s.events, "end:"+text)
	s.mu.Unlock()
}

func (s *slowSynth) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func TestEngine_ChunksSpokenSequentially(t *testing.T) {
	synth := &slowSynth{slow: "first chunk", delay: 60 * time.Millisecond}
	e := NewEngine(synth, 20*time.Millisecond, testLogger())
	e.Toggle(Observation{})

	// Two back-to-back turns: the second flush lands while the first chunk
	// is still being voiced. Playback must not interleave.
	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "first chunk"})
	e.Observe(Observation{Streaming: false, Text: "first chunk"})
	e.Observe(Observation{StreamID: "turn-2", Streaming: true, Text: "second chunk"})
	e.Observe(Observation{Streaming: false, Text: "second chunk"})

	deadline := time.Now().Add(2 * time.Second)
	for len(synth.snapshot()) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("chunks not voiced before timeout: %v", synth.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := []string{"start:first chunk", "end:first chunk", "start:second chunk", "end:second chunk"}
	got := synth.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event order %v, want %v", got, want)
		}
	}
}

func TestEngine_ObservationTextNormalized(t *testing.T) {
	e, synth := newTestEngine(t)
	e.Toggle(Observation{})

	e.Observe(Observation{StreamID: "turn-1", Streaming: true, Text: "Line one\n\n  Line two"})
	e.Observe(Observation{Streaming: false, Text: "Line one\n\n  Line two"})

	if got := synth.wait(t); got != "Line one Line two" {
		t.Fatalf("spoken %q, want whitespace collapsed", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello   world", "hello world"},
		{"  leading and trailing  ", "leading and trailing"},
		{"line\nbreaks\tand\ttabs", "line breaks and tabs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
