package speech

import (
	"context"
	"io"
	"log/slog"
	"time"

	"chatrelay/internal/audio"
)

// TTSClient synthesizes a chunk of text with a named voice.
type TTSClient interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Speaker implements Synthesizer: it detects the chunk's language, selects a
// matching voice, synthesizes (through the cache when possible), and plays
// the result.
type Speaker struct {
	detector *Detector
	voices   []Voice
	tts      TTSClient
	cache    *Cache // nil disables caching
	player   audio.Player
	timeout  time.Duration
	logger   *slog.Logger
}

// SpeakerConfig wires a Speaker.
type SpeakerConfig struct {
	Detector *Detector
	Voices   []Voice
	TTS      TTSClient
	Cache    *Cache
	Player   audio.Player
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewSpeaker creates a speaker.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Speaker{
		detector: cfg.Detector,
		voices:   cfg.Voices,
		tts:      cfg.TTS,
		cache:    cfg.Cache,
		player:   cfg.Player,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Speak voices one flushed transcript chunk. Failures are logged, never
// propagated: a bad chunk must not wedge the engine.
func (s *Speaker) Speak(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	lang := s.detector.Detect(text)
	voice, ok := SelectVoice(s.voices, lang, s.detector.Default())
	if !ok {
		s.logger.Warn("no synthesis voice available, chunk skipped", "lang", lang)
		return
	}

	data, err := s.synthesize(ctx, text, voice.Name)
	if err != nil {
		s.logger.Error("speech synthesis failed", "lang", lang, "voice", voice.Name, "err", err)
		return
	}

	if err := s.player.Play(ctx, data); err != nil {
		s.logger.Error("audio playback failed", "err", err)
	}
}

func (s *Speaker) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	key := CacheKey(text, voice)
	if s.cache != nil {
		if data, err := s.cache.Get(key); err == nil && data != nil {
			return data, nil
		}
	}

	rc, err := s.tts.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(key, voice, data); err != nil {
			s.logger.Debug("audio cache write failed", "err", err)
		}
	}
	return data, nil
}
