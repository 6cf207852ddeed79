package speech

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "tts", "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	key := CacheKey("hello world", "alloy")
	audio := []byte{0xFF, 0xF3, 0x01, 0x02}

	if err := c.Put(key, "alloy", audio); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := c.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("got %v, want %v", got, audio)
	}
}

func TestCache_MissReturnsNil(t *testing.T) {
	c := openTestCache(t)
	got, err := c.Get(CacheKey("never stored", "alloy"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %v", got)
	}
}

func TestCache_PutReplaces(t *testing.T) {
	c := openTestCache(t)
	key := CacheKey("text", "alloy")
	c.Put(key, "alloy", []byte{1})
	c.Put(key, "alloy", []byte{2})

	got, err := c.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want replacement value", got)
	}
}

func TestCacheKey_DistinguishesVoice(t *testing.T) {
	if CacheKey("same text", "alloy") == CacheKey("same text", "nova") {
		t.Fatal("cache keys must differ by voice")
	}
	if CacheKey("one", "alloy") == CacheKey("two", "alloy") {
		t.Fatal("cache keys must differ by text")
	}
	if CacheKey("a", "b") != CacheKey("a", "b") {
		t.Fatal("cache key must be deterministic")
	}
}
