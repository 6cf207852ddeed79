package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/metrics"
)

// Attachment is a file payload held until a later text-only message triggers
// a combined send. Insertion order is arrival order.
type Attachment struct {
	Data     []byte
	Filename string
	MimeType string
	Sender   string
}

// Accumulator holds attachments that arrived without an accompanying caption.
// It is purely in-memory; attachments do not survive a restart.
type Accumulator struct {
	pace   time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	items []Attachment
}

// NewAccumulator creates an accumulator pacing each flushed attach by pace.
func NewAccumulator(pace time.Duration, logger *slog.Logger) *Accumulator {
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	return &Accumulator{pace: pace, logger: logger}
}

// Accumulate appends an attachment and returns immediately.
func (a *Accumulator) Accumulate(item Attachment) {
	a.mu.Lock()
	a.items = append(a.items, item)
	n := len(a.items)
	a.mu.Unlock()

	metrics.PendingFiles.Set(int64(n))
	a.logger.Info("attachment queued for next text message",
		"filename", item.Filename, "sender", item.Sender, "pending", n)
}

// Len returns the number of pending attachments.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Flush attaches every queued item in arrival order, pacing each attach call,
// and returns the count flushed. The collection is cleared atomically up
// front so a concurrent Accumulate lands in the next batch. Per-item attach
// failures are logged and do not stop the remaining items.
func (a *Accumulator) Flush(ctx context.Context, attach func(ctx context.Context, item Attachment) error) int {
	a.mu.Lock()
	batch := a.items
	a.items = nil
	a.mu.Unlock()

	metrics.PendingFiles.Set(0)

	for i, item := range batch {
		if err := attach(ctx, item); err != nil {
			a.logger.Error("flush: attach failed", "filename", item.Filename, "err", err)
		}
		if i < len(batch)-1 {
			select {
			case <-time.After(a.pace):
			case <-ctx.Done():
				return i + 1
			}
		}
	}
	if len(batch) > 0 {
		metrics.AttachmentsFlushed.Add(int64(len(batch)))
	}
	return len(batch)
}
