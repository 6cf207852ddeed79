package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
)

// fakeTTS serves canned audio and counts synthesis calls.
type fakeTTS struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("synthesis unavailable")
	}
	return io.NopCloser(bytes.NewReader([]byte("audio:" + text))), nil
}

func (f *fakeTTS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memPlayer records played clips.
type memPlayer struct {
	mu    sync.Mutex
	clips [][]byte
	fail  bool
}

func (p *memPlayer) Play(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("no audio device")
	}
	p.clips = append(p.clips, data)
	return nil
}

func newTestSpeaker(t *testing.T, tts *fakeTTS, player *memPlayer, cache *Cache) *Speaker {
	t.Helper()
	detector, err := NewDetector("en", nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewSpeaker(SpeakerConfig{
		Detector: detector,
		Voices:   []Voice{{Name: "alloy", Lang: "en-US"}},
		TTS:      tts,
		Cache:    cache,
		Player:   player,
		Logger:   testLogger(),
	})
}

func TestSpeaker_SynthesizesAndPlays(t *testing.T) {
	tts := &fakeTTS{}
	player := &memPlayer{}
	s := newTestSpeaker(t, tts, player, nil)

	s.Speak("hello")

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.clips) != 1 || string(player.clips[0]) != "audio:hello" {
		t.Fatalf("clips = %v", player.clips)
	}
}

func TestSpeaker_CacheHitSkipsSynthesis(t *testing.T) {
	tts := &fakeTTS{}
	player := &memPlayer{}
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	s := newTestSpeaker(t, tts, player, cache)

	s.Speak("repeated chunk")
	s.Speak("repeated chunk")

	if tts.callCount() != 1 {
		t.Fatalf("synthesis calls = %d, want 1 (second from cache)", tts.callCount())
	}
	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.clips) != 2 {
		t.Fatalf("plays = %d, want 2", len(player.clips))
	}
}

func TestSpeaker_SynthesisFailureDoesNotPanic(t *testing.T) {
	tts := &fakeTTS{fail: true}
	player := &memPlayer{}
	s := newTestSpeaker(t, tts, player, nil)

	s.Speak("doomed") // must log and return

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.clips) != 0 {
		t.Fatal("nothing should play after synthesis failure")
	}
}

func TestSpeaker_PlaybackFailureDoesNotPanic(t *testing.T) {
	s := newTestSpeaker(t, &fakeTTS{}, &memPlayer{fail: true}, nil)
	s.Speak("silent") // must log and return
}

func TestSpeaker_NoVoicesSkipsChunk(t *testing.T) {
	detector, err := NewDetector("en", nil)
	if err != nil {
		t.Fatal(err)
	}
	tts := &fakeTTS{}
	s := NewSpeaker(SpeakerConfig{
		Detector: detector,
		Voices:   nil,
		TTS:      tts,
		Player:   &memPlayer{},
		Logger:   testLogger(),
	})

	s.Speak("unvoiced")
	if tts.callCount() != 0 {
		t.Fatal("synthesis must be skipped with no voices")
	}
}
