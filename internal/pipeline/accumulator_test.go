package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccumulator_OrderPreserved(t *testing.T) {
	acc := NewAccumulator(time.Millisecond, testLogger())
	acc.Accumulate(Attachment{Filename: "first.png"})
	acc.Accumulate(Attachment{Filename: "second.pdf"})
	acc.Accumulate(Attachment{Filename: "third.mp3"})

	if acc.Len() != 3 {
		t.Fatalf("len = %d, want 3", acc.Len())
	}

	var got []string
	n := acc.Flush(context.Background(), func(ctx context.Context, item Attachment) error {
		got = append(got, item.Filename)
		return nil
	})

	if n != 3 {
		t.Fatalf("flushed = %d, want 3", n)
	}
	want := []string{"first.png", "second.pdf", "third.mp3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestAccumulator_FlushClears(t *testing.T) {
	acc := NewAccumulator(time.Millisecond, testLogger())
	acc.Accumulate(Attachment{Filename: "a"})
	acc.Flush(context.Background(), func(ctx context.Context, item Attachment) error { return nil })
	if acc.Len() != 0 {
		t.Fatalf("len = %d after flush, want 0", acc.Len())
	}
}

func TestAccumulator_FlushEmpty(t *testing.T) {
	acc := NewAccumulator(time.Millisecond, testLogger())
	n := acc.Flush(context.Background(), func(ctx context.Context, item Attachment) error {
		t.Fatal("attach called on empty accumulator")
		return nil
	})
	if n != 0 {
		t.Fatalf("flushed = %d, want 0", n)
	}
}

func TestAccumulator_AttachErrorContinues(t *testing.T) {
	acc := NewAccumulator(time.Millisecond, testLogger())
	acc.Accumulate(Attachment{Filename: "bad"})
	acc.Accumulate(Attachment{Filename: "good"})

	var got []string
	acc.Flush(context.Background(), func(ctx context.Context, item Attachment) error {
		got = append(got, item.Filename)
		if item.Filename == "bad" {
			return errors.New("attach failed")
		}
		return nil
	})

	if len(got) != 2 || got[1] != "good" {
		t.Fatalf("remaining items skipped after failure: %v", got)
	}
}

func TestAccumulator_AccumulateDuringFlushLandsInNextBatch(t *testing.T) {
	acc := NewAccumulator(time.Millisecond, testLogger())
	acc.Accumulate(Attachment{Filename: "a"})

	acc.Flush(context.Background(), func(ctx context.Context, item Attachment) error {
		// Arrives mid-flush: must not join the current batch.
		acc.Accumulate(Attachment{Filename: "late"})
		return nil
	})

	if acc.Len() != 1 {
		t.Fatalf("len = %d, want 1 (the late arrival)", acc.Len())
	}
}

func TestAccumulator_ContextCancelStopsPacing(t *testing.T) {
	acc := NewAccumulator(time.Hour, testLogger()) // pacing would block forever
	acc.Accumulate(Attachment{Filename: "a"})
	acc.Accumulate(Attachment{Filename: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := acc.Flush(ctx, func(ctx context.Context, item Attachment) error { return nil })
	if n != 1 {
		t.Fatalf("flushed = %d after cancel, want 1", n)
	}
}
