// Package server implements the bridge server: it accepts chat envelopes
// from the enabled sources and broadcasts them to connected bridges over
// WebSocket. The server keeps no history; an envelope that arrives while
// no bridge is connected is dropped with a warning.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// pingInterval matches the bridge's idle-timeout expectations: a silent
// connection is pinged every 20 seconds so intermediate proxies keep it open.
const pingInterval = 20 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Bridges run on the operator's own machine; there is no browser
	// origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is one connected bridge. Gorilla connections allow a single
// concurrent writer, so every write goes through mu.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// Server broadcasts envelopes to connected bridges.
type Server struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}

	whisperOK bool
}

// Config configures the bridge server.
type Config struct {
	Logger *slog.Logger
	// WhisperOK reports whether voice transcription is configured; it is
	// surfaced in /health so operators can tell why voice notes fall back
	// to raw audio.
	WhisperOK bool
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		logger:    cfg.Logger,
		conns:     make(map[*conn]struct{}),
		whisperOK: cfg.WhisperOK,
	}
}

// Router returns the HTTP routes: GET /health and GET /ws.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/metrics", metrics.Collector.Handler())
	return r
}

// Run serves the router on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return fmt.Errorf("bridge server: %w", err)
	}
}

// ConnCount returns the number of connected bridges.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends an envelope to every connected bridge. It implements
// domain.EnvelopeSink.
func (s *Server) Broadcast(env domain.Envelope) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		s.logger.Warn("no bridges connected, dropping message",
			"sender", env.Sender, "content_type", env.ContentType)
		metrics.EnvelopesDropped.Inc()
		return
	}

	for _, c := range targets {
		if err := c.writeJSON(env); err != nil {
			s.logger.Warn("bridge write failed, removing connection", "error", err)
			s.remove(c)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":            "ok",
		"connections":       s.ConnCount(),
		"whisper_available": s.whisperOK,
		"mode":              "polling",
		"uptime_seconds":    int64(metrics.Collector.Uptime().Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &conn{ws: ws}
	s.add(c)
	s.logger.Info("bridge connected", "remote", r.RemoteAddr, "total", s.ConnCount())

	go s.pingLoop(c)
	s.readLoop(c)

	s.remove(c)
	s.logger.Info("bridge disconnected", "remote", r.RemoteAddr, "total", s.ConnCount())
}

func (s *Server) add(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	metrics.BridgeClients.Set(int64(len(s.conns)))
	s.mu.Unlock()
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		metrics.BridgeClients.Set(int64(len(s.conns)))
		c.ws.Close()
	}
	s.mu.Unlock()
}

// pingLoop keeps the connection alive with application-level pings until
// the connection is removed from the hub.
func (s *Server) pingLoop(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		_, alive := s.conns[c]
		s.mu.Unlock()
		if !alive {
			return
		}
		frame := domain.ControlFrame{
			Type: domain.FramePing,
			TS:   float64(time.Now().UnixNano()) / float64(time.Second),
		}
		if err := c.writeJSON(frame); err != nil {
			s.remove(c)
			return
		}
	}
}

// readLoop drains inbound frames. Bridges send pongs in answer to our
// pings and status frames on readiness; both are informational here.
func (s *Server) readLoop(c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame domain.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case domain.FramePong:
			// Keepalive acknowledged.
		case domain.FrameStatus:
			s.logger.Info("bridge status", "status", frame.Status)
		}
	}
}
