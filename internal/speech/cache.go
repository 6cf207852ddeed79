package speech

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Cache stores synthesized audio keyed by chunk text and voice, so repeated
// chunks skip the synthesis round trip. It caches audio only; chat messages
// themselves are never persisted.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the audio cache database.
func OpenCache(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS audio_cache (
		key        TEXT PRIMARY KEY,
		voice      TEXT NOT NULL,
		audio      BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// CacheKey derives the lookup key for a chunk/voice pair.
func CacheKey(text, voice string) string {
	sum := sha256.Sum256([]byte(voice + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached audio for key, or nil when absent.
func (c *Cache) Get(key string) ([]byte, error) {
	var audio []byte
	err := c.db.QueryRow(`SELECT audio FROM audio_cache WHERE key = ?`, key).Scan(&audio)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return audio, nil
}

// Put stores audio under key, replacing any previous entry.
func (c *Cache) Put(key, voice string, audio []byte) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO audio_cache (key, voice, audio) VALUES (?, ?, ?)`,
		key, voice, audio,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}
