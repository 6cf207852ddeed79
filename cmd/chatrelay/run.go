package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chatrelay/internal/audio"
	"chatrelay/internal/browser"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/provider"
	"chatrelay/internal/relay"
	"chatrelay/internal/speech"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (browser session + relay connection)",
		Long:  "Connects to the bridge server, opens the web application in Chrome, and relays incoming chat messages into its composer. Press 'v' + Enter to toggle voice mode.",
		RunE:  runBridge,
	}
}

// lateSink defers the pipeline reference: the browser session and the
// pipeline reference each other, so the sink is completed after both exist.
type lateSink struct {
	pipe *pipeline.Pipeline
}

func (s *lateSink) Enqueue(env domain.Envelope) {
	if s.pipe != nil {
		s.pipe.Enqueue(env)
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger = buildLogger(cfg.General)

	ctx, stop := signalContext()
	defer stop()

	// Selector strategies: built-ins, optionally overridden from file.
	strategies := browser.DefaultStrategies()
	if cfg.Bridge.SelectorsFile != "" {
		var err error
		strategies, err = browser.LoadStrategies(cfg.Bridge.SelectorsFile)
		if err != nil {
			return fmt.Errorf("load selectors: %w", err)
		}
		logger.Info("selector strategies loaded", "path", cfg.Bridge.SelectorsFile)
	}

	sink := &lateSink{}
	session := browser.NewSession(browser.SessionConfig{
		ProfileDir:   cfg.Bridge.ProfileDir,
		Headless:     cfg.Bridge.Headless,
		AppURL:       cfg.Bridge.AppURL,
		StreamingSel: cfg.Bridge.StreamingSelector,
		ResponseSel:  cfg.Bridge.ResponseSelector,
		Strategies:   strategies,
		AttachSettle: cfg.Bridge.AttachSettle(),
		PollInterval: cfg.Bridge.PollInterval(),
		Logger:       logger,
	}, sink)

	acc := pipeline.NewAccumulator(cfg.Bridge.FlushPace(), logger)
	pipe := pipeline.New(ctx, session, acc, pipeline.Options{
		Attribution:  cfg.Bridge.Attribution,
		AutoSend:     cfg.Bridge.AutoSend,
		TextDelay:    cfg.Bridge.TextDelay(),
		FileDelay:    cfg.Bridge.FileDelay(),
		MessagePause: cfg.Bridge.MessagePause(),
	}, logger)
	sink.pipe = pipe

	engine, err := buildSpeech(cfg)
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	if engine != nil {
		session.OnSnapshot = func(snap browser.Snapshot) {
			engine.Observe(speech.Observation{
				StreamID:  snap.StreamID,
				Streaming: snap.Streaming,
				Text:      snap.Text,
			})
		}
	}

	bridge := relay.NewBridge(logger)
	client := relay.NewClient(relay.ClientConfig{
		URL:       cfg.Bridge.ServerURL,
		BaseDelay: cfg.Bridge.BackoffBase(),
		MaxDelay:  cfg.Bridge.BackoffMax(),
		Logger:    logger,
	}, bridge)
	bridge.SetOutbound(client.Send)
	bridge.Attach(session)
	client.Connect()
	defer client.Stop()

	toggleVoice := func() {
		if engine == nil {
			logger.Warn("voice mode unavailable: tts is not enabled in config")
			session.Notify("info", "Voice mode unavailable: TTS not configured")
			return
		}
		snap, err := session.Current(ctx)
		if err != nil {
			logger.Warn("voice toggle: snapshot failed", "err", err)
		}
		enabled := engine.Toggle(speech.Observation{
			StreamID:  snap.StreamID,
			Streaming: snap.Streaming,
			Text:      snap.Text,
		})
		if enabled {
			session.Notify("info", "Voice mode ON")
		} else {
			session.Notify("info", "Voice mode OFF")
		}
	}

	go watchStdin(ctx, toggleVoice)

	ctl := &controlServer{
		session: session,
		pipe:    pipe,
		client:  client,
		engine:  engine,
		toggle:  toggleVoice,
		reconnect: func() string {
			url := loadConfig().Bridge.ServerURL
			client.Reconnect(url)
			return url
		},
	}
	go func() {
		if err := ctl.run(ctx, cfg.Bridge.ControlAddr); err != nil {
			logger.Error("control listener error", "err", err)
		}
	}()

	logger.Info("bridge running. Press Ctrl+C to stop, 'v' + Enter to toggle voice.")
	<-ctx.Done()
	logger.Info("shutting down bridge")
	return nil
}

// buildSpeech assembles the voice pipeline, or returns nil when TTS is
// disabled.
func buildSpeech(cfg *config.Config) (*speech.Engine, error) {
	if !cfg.TTS.Enabled {
		return nil, nil
	}

	patterns := speech.DefaultPatterns()
	if cfg.Speech.LanguagesFile != "" {
		var err error
		patterns, err = speech.LoadPatterns(cfg.Speech.LanguagesFile)
		if err != nil {
			return nil, fmt.Errorf("load language patterns: %w", err)
		}
	}
	detector, err := speech.NewDetector(cfg.Speech.DefaultLang, patterns)
	if err != nil {
		return nil, fmt.Errorf("language detector: %w", err)
	}

	voices := make([]speech.Voice, 0, len(cfg.Speech.Voices))
	for lang, name := range cfg.Speech.Voices {
		voices = append(voices, speech.Voice{Name: name, Lang: lang})
	}
	if len(voices) == 0 {
		// OpenAI-compatible endpoints accept any of their stock voices
		// regardless of language.
		voices = []speech.Voice{{Name: "alloy", Lang: cfg.Speech.DefaultLang}}
	}

	var player audio.Player
	if cfg.Speech.Player == "none" {
		player = audio.NopPlayer{}
	} else {
		p, err := audio.NewExecPlayer(cfg.Speech.Player)
		if err != nil {
			return nil, fmt.Errorf("audio player: %w", err)
		}
		player = p
	}

	var cache *speech.Cache
	if cfg.Speech.CachePath != "" {
		cache, err = speech.OpenCache(cfg.Speech.CachePath)
		if err != nil {
			logger.Warn("audio cache unavailable, caching disabled", "path", cfg.Speech.CachePath, "err", err)
		}
	}

	tts := provider.NewTTSProvider(provider.TTSConfig{
		Provider: cfg.TTS.Provider,
		APIBase:  cfg.TTS.APIBase,
		APIKey:   cfg.TTS.APIKey,
		Model:    cfg.TTS.Model,
		Logger:   logger,
	})

	speaker := speech.NewSpeaker(speech.SpeakerConfig{
		Detector: detector,
		Voices:   voices,
		TTS:      tts,
		Cache:    cache,
		Player:   player,
		Logger:   logger,
	})

	return speech.NewEngine(speaker, cfg.Speech.Quiet(), logger), nil
}

// watchStdin reads lines from stdin; a lone "v" toggles voice mode.
func watchStdin(ctx context.Context, toggle func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(scanner.Text()) == "v" {
			toggle()
		}
	}
}

// controlServer is the local HTTP surface for poking the running bridge:
// manual injection, attachment, voice toggle, DOM diagnostics, and metrics.
type controlServer struct {
	session   *browser.Session
	pipe      *pipeline.Pipeline
	client    *relay.Client
	engine    *speech.Engine
	toggle    func()
	reconnect func() string
}

func (c *controlServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/inject", c.handleInject)
	r.Post("/attach", c.handleAttach)
	r.Post("/voice/toggle", c.handleVoiceToggle)
	r.Post("/reconnect", c.handleReconnect)
	r.Get("/dom", c.handleDOM)
	r.Get("/status", c.handleStatus)
	r.Get("/metrics", metrics.Collector.Handler())
	return r
}

func (c *controlServer) run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: c.router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("control surface listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (c *controlServer) handleInject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "body must be JSON with a non-empty text field", http.StatusBadRequest)
		return
	}
	if req.Sender == "" {
		req.Sender = "Operator"
	}
	c.pipe.Enqueue(domain.Envelope{
		Type:        domain.FrameMessage,
		ID:          uuid.NewString(),
		Sender:      req.Sender,
		Timestamp:   time.Now().Unix(),
		ContentType: domain.ContentText,
		Text:        req.Text,
	})
	writeJSON(w, map[string]string{"status": "queued"})
}

func (c *controlServer) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender   string `json:"sender"`
		Filename string `json:"filename"`
		MimeType string `json:"mime_type"`
		Data     string `json:"data"` // base64
		Caption  string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == "" {
		http.Error(w, "body must be JSON with a non-empty base64 data field", http.StatusBadRequest)
		return
	}
	if req.Sender == "" {
		req.Sender = "Operator"
	}
	if req.Filename == "" {
		req.Filename = "attachment"
	}
	contentType := domain.ContentFile
	if strings.HasPrefix(req.MimeType, "image/") {
		contentType = domain.ContentImage
	}
	c.pipe.Enqueue(domain.Envelope{
		Type:        domain.FrameMessage,
		ID:          uuid.NewString(),
		Sender:      req.Sender,
		Timestamp:   time.Now().Unix(),
		ContentType: contentType,
		Caption:     req.Caption,
		FileData:    req.Data,
		FileName:    req.Filename,
		MimeType:    req.MimeType,
	})
	writeJSON(w, map[string]string{"status": "queued"})
}

// handleReconnect re-reads the persisted endpoint and restarts the relay
// connection against it, so a 'config set bridge.serverUrl' takes effect
// without restarting the bridge.
func (c *controlServer) handleReconnect(w http.ResponseWriter, r *http.Request) {
	url := c.reconnect()
	writeJSON(w, map[string]string{"status": "reconnecting", "url": url})
}

func (c *controlServer) handleVoiceToggle(w http.ResponseWriter, r *http.Request) {
	c.toggle()
	enabled := c.engine != nil && c.engine.Enabled()
	writeJSON(w, map[string]any{"voice": enabled})
}

func (c *controlServer) handleDOM(w http.ResponseWriter, r *http.Request) {
	diag, err := c.session.Diagnostics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, diag)
}

func (c *controlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"relay":      string(c.client.State()),
		"processing": c.pipe.Busy(),
		"voice":      c.engine != nil && c.engine.Enabled(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
