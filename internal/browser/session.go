// Package browser drives the target web application through a live Chrome
// instance. It hosts the DOM locator, the injection and attachment engine,
// and the transcript observer the speech engine consumes.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

// ErrTargetNotFound is returned when no locator strategy resolved a logical
// target. Callers treat it as an expected, handleable outcome.
var ErrTargetNotFound = errors.New("browser: target not found")

const sessionUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// SessionConfig configures the browser session.
type SessionConfig struct {
	ProfileDir   string // Chrome user data directory (persists cookies/sessions)
	Headless     bool
	AppURL       string // target web application
	StreamingSel string // marker present while a response is streaming
	ResponseSel  string // completed response containers
	Strategies   StrategyTable
	AttachSettle time.Duration // pause after attaching so the upload can begin
	PollInterval time.Duration // transcript snapshot poll cadence
	Logger       *slog.Logger
}

// Snapshot is one observation of the host page's response region.
type Snapshot struct {
	StreamID  string `json:"streamId"`
	Streaming bool   `json:"streaming"`
	Text      string `json:"text"`
}

// Sink consumes envelopes the session decodes off the bridge.
type Sink interface {
	Enqueue(env domain.Envelope)
}

// Session is a long-lived chromedp context attached to the host page. It is
// the page agent of the relay bridge and the page driver of the pipeline.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
	sink   Sink

	// OnSnapshot receives every transcript snapshot the poller reads.
	OnSnapshot func(snap Snapshot)

	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTask  context.CancelFunc
	cancelPoll  context.CancelFunc

	evalMu sync.Mutex // serializes CDP evaluations
}

// NewSession creates a browser session. Start must be called before use.
func NewSession(cfg SessionConfig, sink Sink) *Session {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".chatrelay", "chrome-profiles", "default")
	}
	if cfg.StreamingSel == "" {
		cfg.StreamingSel = `[data-is-streaming="true"]`
	}
	if cfg.ResponseSel == "" {
		cfg.ResponseSel = `[data-is-streaming="false"]`
	}
	if cfg.AttachSettle <= 0 {
		cfg.AttachSettle = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 300 * time.Millisecond
	}
	return &Session{cfg: cfg, logger: cfg.Logger, sink: sink}
}

// Start launches Chrome, navigates to the host application, and installs the
// page agent script on the current and every future document.
func (s *Session) Start(parentCtx context.Context) error {
	if err := os.MkdirAll(s.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(s.cfg.ProfileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(sessionUserAgent),
	)
	if s.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	s.ctx = taskCtx
	s.cancelAlloc = cancelAlloc
	s.cancelTask = cancelTask

	bootstrap := bootstrapJS(s.cfg.StreamingSel, s.cfg.ResponseSel)
	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Reinstall the agent across SPA navigations and reloads.
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrap).Do(ctx)
			return err
		}),
		chromedp.Navigate(s.cfg.AppURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(bootstrap, nil),
	)
	if err != nil {
		s.Stop()
		return fmt.Errorf("open host page: %w", err)
	}

	pollCtx, cancelPoll := context.WithCancel(taskCtx)
	s.cancelPoll = cancelPoll
	go s.pollTranscript(pollCtx)

	s.logger.Info("browser session started", "url", s.cfg.AppURL, "headless", s.cfg.Headless)
	return nil
}

// Stop tears down the Chrome context.
func (s *Session) Stop() {
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	if s.cancelTask != nil {
		s.cancelTask()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

// boundContext derives a run context from base that is additionally cancelled
// when caller is done, so a per-envelope deadline can abort a hung evaluation
// without tearing down the browser.
func boundContext(base, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// eval runs a JS program in the page and decodes its result into out.
func (s *Session) eval(ctx context.Context, js string, out any) error {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	runCtx, cancel := boundContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(js, out))
}

// query is the locator's probe against the live document.
func (s *Session) query(ctx context.Context) Query {
	return func(selector string) (bool, bool, error) {
		var res string
		if err := s.eval(ctx, queryJS(selector), &res); err != nil {
			return false, false, err
		}
		switch {
		case res == "usable":
			return true, true, nil
		case res == "found":
			return true, false, nil
		case strings.HasPrefix(res, "error:"):
			return false, false, errors.New(strings.TrimPrefix(res, "error:"))
		default:
			return false, false, nil
		}
	}
}

// locate resolves a logical target to a winning selector, logging a
// diagnostic enumeration on a miss.
func (s *Session) locate(ctx context.Context, target Target) (string, error) {
	sel, ok := s.cfg.Strategies.Resolve(target, s.query(ctx))
	if !ok {
		diag, _ := s.Diagnostics(ctx)
		s.logger.Warn("locator miss", "target", target, "diagnostics", diag)
		return "", fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	return sel, nil
}

// InjectText implements the text injection contract: focus, append to any
// unsent content on a new line, caret to end, synthetic events.
func (s *Session) InjectText(ctx context.Context, text string) error {
	sel, err := s.locate(ctx, TargetInput)
	if err != nil {
		return err
	}
	var res string
	if err := s.eval(ctx, injectJS(sel, text), &res); err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("inject into %q: %s", sel, res)
	}
	return nil
}

// AttachFile delivers a file through both the drop-sequence and file-input
// strategies; failure of one does not block the other. A short settle delay
// follows so the resulting upload can begin before the pipeline proceeds.
func (s *Session) AttachFile(ctx context.Context, data []byte, filename, mimeType string) error {
	dropSel, dropErr := s.locate(ctx, TargetDrop)
	inputSel, inputErr := s.locate(ctx, TargetFileInput)
	if dropErr != nil && inputErr != nil {
		return fmt.Errorf("no attachment target: %w", ErrTargetNotFound)
	}

	var raw string
	js := attachJS(dropSel, inputSel, base64.StdEncoding.EncodeToString(data), filename, mimeType)
	if err := s.eval(ctx, js, &raw); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	var res struct {
		Drop   bool     `json:"drop"`
		Input  bool     `json:"input"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return fmt.Errorf("attach result: %w", err)
	}
	if len(res.Errors) > 0 {
		s.logger.Warn("attach strategy errors", "errors", res.Errors, "filename", filename)
	}
	if !res.Drop && !res.Input {
		return fmt.Errorf("attach %s: no delivery strategy succeeded", filename)
	}

	select {
	case <-time.After(s.cfg.AttachSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// TriggerSend clicks the send control.
func (s *Session) TriggerSend(ctx context.Context) error {
	sel, err := s.locate(ctx, TargetSend)
	if err != nil {
		return err
	}
	var res string
	if err := s.eval(ctx, clickJS(sel), &res); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("send via %q: %s", sel, res)
	}
	return nil
}

// Notify surfaces a short-lived notification in the page, best effort.
func (s *Session) Notify(kind, text string) {
	if err := s.eval(context.Background(), toastJS(kind, text), nil); err != nil {
		s.logger.Debug("toast not shown", "err", err)
	}
	if kind == "error" {
		s.logger.Error(text)
	} else {
		s.logger.Info(text)
	}
}

// Diagnostics enumerates elements matching the debug selector set.
func (s *Session) Diagnostics(ctx context.Context) (string, error) {
	var out string
	if err := s.eval(ctx, diagnosticsJS(s.cfg.Strategies.Debug), &out); err != nil {
		return "", fmt.Errorf("diagnostics: %w", err)
	}
	return out, nil
}

// Deliver implements the relay page agent: decode the raw bridge message and
// hand recognized envelopes to the pipeline. Unknown shapes are dropped here.
func (s *Session) Deliver(raw json.RawMessage) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("undecodable bridge message dropped", "err", err)
		return
	}
	if env.Type != "" && env.Type != domain.FrameMessage {
		s.logger.Debug("non-message frame ignored", "type", env.Type)
		return
	}
	s.sink.Enqueue(env)
}

// PushStatus reflects relay state transitions into the page indicator.
func (s *Session) PushStatus(state relay.State) {
	if err := s.eval(context.Background(), statusJS(string(state)), nil); err != nil {
		s.logger.Debug("status not pushed", "err", err)
	}
}

// Current returns the latest transcript snapshot.
func (s *Session) Current(ctx context.Context) (Snapshot, error) {
	var raw string
	if err := s.eval(ctx, snapshotJS, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	var snap Snapshot
	if raw == "" {
		return snap, nil
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot decode: %w", err)
	}
	return snap, nil
}

func (s *Session) pollTranscript(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.OnSnapshot == nil {
				continue
			}
			snap, err := s.Current(ctx)
			if err != nil {
				s.logger.Debug("snapshot poll failed", "err", err)
				continue
			}
			s.OnSnapshot(snap)
		}
	}
}
