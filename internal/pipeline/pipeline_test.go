package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDriver records DOM operations in call order.
type fakeDriver struct {
	mu        sync.Mutex
	ops       []string
	failOn    string // op prefix that should return an error
	failCount int
}

func (d *fakeDriver) record(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn != "" && strings.HasPrefix(op, d.failOn) {
		d.failCount++
		return errors.New("simulated failure")
	}
	d.ops = append(d.ops, op)
	return nil
}

func (d *fakeDriver) InjectText(ctx context.Context, text string) error {
	return d.record("inject:" + text)
}

func (d *fakeDriver) AttachFile(ctx context.Context, data []byte, filename, mimeType string) error {
	return d.record("attach:" + filename)
}

func (d *fakeDriver) TriggerSend(ctx context.Context) error {
	return d.record("send")
}

func (d *fakeDriver) Notify(kind, text string) {}

func (d *fakeDriver) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ops))
	copy(out, d.ops)
	return out
}

func fastOpts() Options {
	return Options{
		Attribution:  true,
		AutoSend:     true,
		TextDelay:    5 * time.Millisecond,
		FileDelay:    10 * time.Millisecond,
		MessagePause: 1 * time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, driver Driver, opts Options) (*Pipeline, *Accumulator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	acc := NewAccumulator(1*time.Millisecond, testLogger())
	return New(ctx, driver, acc, opts, testLogger()), acc
}

func waitIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !p.Busy() {
			// Busy flips false between drain exit and re-entry; a short
			// settle confirms the queue is actually empty.
			time.Sleep(20 * time.Millisecond)
			if !p.Busy() {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pipeline did not go idle")
}

func textEnv(sender, text string) domain.Envelope {
	return domain.Envelope{
		Type:        domain.FrameMessage,
		Sender:      sender,
		ContentType: domain.ContentText,
		Text:        text,
	}
}

func fileEnv(sender, filename, caption string) domain.Envelope {
	return domain.Envelope{
		Type:        domain.FrameMessage,
		Sender:      sender,
		ContentType: domain.ContentImage,
		Caption:     caption,
		FileData:    base64.StdEncoding.EncodeToString([]byte("fake-bytes")),
		FileName:    filename,
		MimeType:    "image/png",
	}
}

func TestPipeline_TextMessageAttributedAndSent(t *testing.T) {
	driver := &fakeDriver{}
	p, _ := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(textEnv("Ana", "hello"))
	waitIdle(t, p)

	want := []string{"inject:[Ana]: hello", "send"}
	got := driver.snapshot()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ops = %v, want %v", got, want)
	}
}

func TestPipeline_AttributionDisabled(t *testing.T) {
	driver := &fakeDriver{}
	opts := fastOpts()
	opts.Attribution = false
	p, _ := newTestPipeline(t, driver, opts)

	p.Enqueue(textEnv("Ana", "hello"))
	waitIdle(t, p)

	got := driver.snapshot()
	if got[0] != "inject:hello" {
		t.Fatalf("expected bare text, got %q", got[0])
	}
}

func TestPipeline_FIFOOrder(t *testing.T) {
	driver := &fakeDriver{}
	p, _ := newTestPipeline(t, driver, fastOpts())

	for i := 0; i < 5; i++ {
		p.Enqueue(textEnv("U", fmt.Sprintf("msg-%d", i)))
	}
	waitIdle(t, p)

	got := driver.snapshot()
	if len(got) != 10 {
		t.Fatalf("expected 10 ops (5 inject+send pairs), got %d: %v", len(got), got)
	}
	for i := 0; i < 5; i++ {
		wantInject := fmt.Sprintf("inject:[U]: msg-%d", i)
		if got[i*2] != wantInject || got[i*2+1] != "send" {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestPipeline_CaptionlessFileAccumulates(t *testing.T) {
	driver := &fakeDriver{}
	p, acc := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(fileEnv("Ana", "photo.png", ""))
	waitIdle(t, p)

	// No DOM operations: the file waits for the next text message.
	if got := driver.snapshot(); len(got) != 0 {
		t.Fatalf("captionless file touched the page: %v", got)
	}
	if acc.Len() != 1 {
		t.Fatalf("pending = %d, want 1", acc.Len())
	}
}

func TestPipeline_CaptionedFileSendsImmediately(t *testing.T) {
	driver := &fakeDriver{}
	p, acc := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(fileEnv("Ana", "photo.png", "look at this"))
	waitIdle(t, p)

	want := []string{"attach:photo.png", "inject:[Ana]: look at this", "send"}
	got := driver.snapshot()
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if acc.Len() != 0 {
		t.Fatal("captioned file must not accumulate")
	}
}

func TestPipeline_TextFlushesPendingAttachments(t *testing.T) {
	driver := &fakeDriver{}
	p, acc := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(fileEnv("Ana", "photo.png", ""))
	p.Enqueue(textEnv("Ana", "here it is"))
	waitIdle(t, p)

	// Exactly one attach, one inject, one send for the combined turn.
	want := []string{"attach:photo.png", "inject:[Ana]: here it is", "send"}
	got := driver.snapshot()
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if acc.Len() != 0 {
		t.Fatalf("pending = %d after flush, want 0", acc.Len())
	}
}

func TestPipeline_MultiplePendingFlushedInArrivalOrder(t *testing.T) {
	driver := &fakeDriver{}
	p, _ := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(fileEnv("Ana", "a.png", ""))
	p.Enqueue(fileEnv("Ana", "b.png", ""))
	p.Enqueue(textEnv("Ana", "both"))
	waitIdle(t, p)

	got := driver.snapshot()
	want := []string{"attach:a.png", "attach:b.png", "inject:[Ana]: both", "send"}
	if len(got) != 4 {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}
}

func TestPipeline_AutoSendDisabled(t *testing.T) {
	driver := &fakeDriver{}
	opts := fastOpts()
	opts.AutoSend = false
	p, _ := newTestPipeline(t, driver, opts)

	p.Enqueue(textEnv("Ana", "draft only"))
	waitIdle(t, p)

	for _, op := range driver.snapshot() {
		if op == "send" {
			t.Fatal("send triggered with autoSend disabled")
		}
	}
}

func TestPipeline_MalformedEnvelopeDropped(t *testing.T) {
	driver := &fakeDriver{}
	p, _ := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(domain.Envelope{ContentType: "sticker"})
	p.Enqueue(domain.Envelope{ContentType: domain.ContentText}) // no text
	waitIdle(t, p)

	if got := driver.snapshot(); len(got) != 0 {
		t.Fatalf("malformed envelopes reached the driver: %v", got)
	}
}

func TestPipeline_FailureDoesNotBlockQueue(t *testing.T) {
	driver := &fakeDriver{failOn: "inject:[Bad]"}
	p, _ := newTestPipeline(t, driver, fastOpts())

	p.Enqueue(textEnv("Bad", "boom"))
	p.Enqueue(textEnv("Good", "still here"))
	waitIdle(t, p)

	got := driver.snapshot()
	found := false
	for _, op := range got {
		if op == "inject:[Good]: still here" {
			found = true
		}
	}
	if !found {
		t.Fatalf("second envelope not processed after first failed: %v", got)
	}
	if driver.failCount != 1 {
		t.Fatalf("failCount = %d, want 1", driver.failCount)
	}
}
