package browser

import (
	"context"
	"testing"
	"time"
)

func TestBoundContext_CallerCancelAborts(t *testing.T) {
	caller, cancelCaller := context.WithCancel(context.Background())
	ctx, cancel := boundContext(context.Background(), caller)
	defer cancel()

	cancelCaller()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("derived context not cancelled with its caller")
	}
}

func TestBoundContext_BaseCancelAborts(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	ctx, cancel := boundContext(base, context.Background())
	defer cancel()

	cancelBase()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("derived context not cancelled with its base")
	}
}

type sessionCtxKey struct{}

func TestBoundContext_KeepsBaseValues(t *testing.T) {
	base := context.WithValue(context.Background(), sessionCtxKey{}, "target")
	ctx, cancel := boundContext(base, context.Background())
	defer cancel()

	if v, _ := ctx.Value(sessionCtxKey{}).(string); v != "target" {
		t.Fatalf("base value lost: %q", v)
	}
}

func TestBoundContext_CancelReleasesWatcher(t *testing.T) {
	caller, cancelCaller := context.WithCancel(context.Background())
	defer cancelCaller()

	ctx, cancel := boundContext(context.Background(), caller)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not release the derived context")
	}
}
