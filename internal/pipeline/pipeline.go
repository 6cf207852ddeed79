// Package pipeline turns inbound envelopes into ordered DOM operations.
// A FIFO queue plus a single-flight worker guarantees the on-page effects of
// concurrent chat messages never interleave.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// Driver performs the actual page operations. The browser session implements
// it against a live page; tests implement it with a recorder.
type Driver interface {
	InjectText(ctx context.Context, text string) error
	AttachFile(ctx context.Context, data []byte, filename, mimeType string) error
	TriggerSend(ctx context.Context) error
	Notify(kind, text string)
}

// Options are the pipeline behavior flags. Zero durations fall back to the
// defaults matching the host application's framework settle times.
type Options struct {
	Attribution  bool          // prefix injected text with "[Sender]: "
	AutoSend     bool          // trigger send after injecting
	TextDelay    time.Duration // settle delay before send for plain text
	FileDelay    time.Duration // settle delay before send when files are involved
	MessagePause time.Duration // fixed pause between envelopes
}

func (o *Options) withDefaults() {
	if o.TextDelay <= 0 {
		o.TextDelay = time.Second
	}
	if o.FileDelay <= 0 {
		o.FileDelay = 3 * time.Second
	}
	if o.MessagePause <= 0 {
		o.MessagePause = 500 * time.Millisecond
	}
}

// Pipeline is the ordered message-processing state machine
// (idle -> processing -> idle).
type Pipeline struct {
	driver Driver
	acc    *Accumulator
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	queue      []domain.Envelope
	processing bool
	ctx        context.Context
}

// New creates a pipeline. ctx bounds all in-flight DOM operations.
func New(ctx context.Context, driver Driver, acc *Accumulator, opts Options, logger *slog.Logger) *Pipeline {
	opts.withDefaults()
	return &Pipeline{
		driver: driver,
		acc:    acc,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
	}
}

// Enqueue appends an envelope to the tail of the queue and starts the worker
// if idle. Envelopes that fail validation are dropped here, logged, never
// enqueued.
func (p *Pipeline) Enqueue(env domain.Envelope) {
	if err := env.Validate(); err != nil {
		p.logger.Warn("envelope dropped", "err", err, "sender", env.Sender)
		metrics.EnvelopesDropped.Inc()
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, env)
	metrics.QueueDepth.Set(int64(len(p.queue)))
	start := !p.processing
	if start {
		p.processing = true
	}
	p.mu.Unlock()

	if start {
		go p.drain()
	}
}

// Busy reports whether an envelope's DOM operations are currently in flight.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// drain processes strictly one envelope at a time to completion, with a fixed
// inter-message pause, until the queue is empty.
func (p *Pipeline) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.processing = false
			p.mu.Unlock()
			return
		}
		env := p.queue[0]
		p.queue = p.queue[1:]
		metrics.QueueDepth.Set(int64(len(p.queue)))
		p.mu.Unlock()

		if err := p.process(p.ctx, env); err != nil {
			// One envelope's failure never blocks subsequent envelopes.
			p.logger.Error("envelope processing failed", "sender", env.Sender,
				"content_type", env.ContentType, "err", err)
			p.driver.Notify("error", fmt.Sprintf("Message from %s failed: %v", env.Sender, err))
			metrics.EnvelopesFailed.Inc()
		} else {
			metrics.EnvelopesProcessed.Inc()
		}

		select {
		case <-time.After(p.opts.MessagePause):
		case <-p.ctx.Done():
			p.mu.Lock()
			p.processing = false
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, env domain.Envelope) error {
	switch {
	case env.HasFile():
		return p.processFile(ctx, env)
	case env.IsText():
		return p.processText(ctx, env, env.Text)
	default:
		return fmt.Errorf("unhandled content type %q", env.ContentType)
	}
}

// processFile handles file, image, and voice_audio envelopes. A file with a
// caption is attached and sent in one turn; a captionless file is held by the
// accumulator until the next text-only message triggers a combined send.
func (p *Pipeline) processFile(ctx context.Context, env domain.Envelope) error {
	data, err := env.DecodeFile()
	if err != nil {
		return err
	}

	if env.Caption == "" {
		p.acc.Accumulate(Attachment{
			Data:     data,
			Filename: env.FileName,
			MimeType: env.MimeType,
			Sender:   env.Sender,
		})
		p.driver.Notify("info", fmt.Sprintf("File from %s queued: %s", env.Sender, env.FileName))
		return nil
	}

	if err := p.driver.AttachFile(ctx, data, env.FileName, env.MimeType); err != nil {
		return fmt.Errorf("attach %s: %w", env.FileName, err)
	}
	p.driver.Notify("info", fmt.Sprintf("File from %s attached: %s", env.Sender, env.FileName))

	if err := p.driver.InjectText(ctx, p.attribute(env.Sender, env.Caption)); err != nil {
		return fmt.Errorf("inject caption: %w", err)
	}
	return p.sendAfter(ctx, p.opts.FileDelay)
}

// processText flushes any accumulated attachments first, then injects the
// text and triggers send. The settle delay is file-appropriate when
// attachments rode along, text-appropriate otherwise.
func (p *Pipeline) processText(ctx context.Context, env domain.Envelope, text string) error {
	delay := p.opts.TextDelay
	if p.acc.Len() > 0 {
		flushed := p.acc.Flush(ctx, func(ctx context.Context, item Attachment) error {
			return p.driver.AttachFile(ctx, item.Data, item.Filename, item.MimeType)
		})
		p.logger.Info("flushed pending attachments", "count", flushed)
		delay = p.opts.FileDelay
	}

	if err := p.driver.InjectText(ctx, p.attribute(env.Sender, text)); err != nil {
		return fmt.Errorf("inject text: %w", err)
	}
	return p.sendAfter(ctx, delay)
}

func (p *Pipeline) sendAfter(ctx context.Context, delay time.Duration) error {
	if !p.opts.AutoSend {
		return nil
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := p.driver.TriggerSend(ctx); err != nil {
		return fmt.Errorf("trigger send: %w", err)
	}
	return nil
}

func (p *Pipeline) attribute(sender, text string) string {
	if !p.opts.Attribution || sender == "" {
		return text
	}
	return fmt.Sprintf("[%s]: %s", sender, text)
}
