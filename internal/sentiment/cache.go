package sentiment

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/abood991b/insightbull/internal/domain"
)

// cachedScore is the msgpack-encoded form of a cached classification.
type cachedScore struct {
	Label      string    `msgpack:"label"`
	Score      float64   `msgpack:"score"`
	Confidence float64   `msgpack:"confidence"`
	Model      string    `msgpack:"model"`
	Method     string    `msgpack:"method"`
	CachedAt   time.Time `msgpack:"cached_at"`
}

// ResultCache memoizes classifications by content hash so re-collected
// texts skip the model. Persisted with msgpack between runs; losing the
// file only costs recomputation.
type ResultCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]cachedScore
	maxAge  time.Duration
	dirty   bool
	log     zerolog.Logger
}

// NewResultCache loads the cache file if present. A corrupt or missing file
// starts an empty cache.
func NewResultCache(path string, maxAge time.Duration, log zerolog.Logger) *ResultCache {
	c := &ResultCache{
		path:    path,
		entries: make(map[string]cachedScore),
		maxAge:  maxAge,
		log:     log.With().Str("component", "sentiment_cache").Logger(),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := msgpack.Unmarshal(raw, &c.entries); err != nil {
		c.log.Warn().Err(err).Msg("Cache file unreadable, starting empty")
		c.entries = make(map[string]cachedScore)
		return c
	}
	c.log.Info().Int("entries", len(c.entries)).Msg("Loaded sentiment cache")
	return c
}

// Get returns the cached score for a content hash, if fresh.
func (c *ResultCache) Get(contentHash string) (domain.SentimentScore, bool) {
	if contentHash == "" {
		return domain.SentimentScore{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[contentHash]
	if !ok {
		return domain.SentimentScore{}, false
	}
	if c.maxAge > 0 && time.Since(entry.CachedAt) > c.maxAge {
		delete(c.entries, contentHash)
		c.dirty = true
		return domain.SentimentScore{}, false
	}

	return domain.SentimentScore{
		Label:      domain.SentimentLabel(entry.Label),
		Score:      entry.Score,
		Confidence: entry.Confidence,
		Model:      entry.Model,
		Method:     "cached:" + entry.Method,
	}, true
}

// Put stores a score under its content hash.
func (c *ResultCache) Put(contentHash string, score domain.SentimentScore) {
	if contentHash == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[contentHash] = cachedScore{
		Label:      string(score.Label),
		Score:      score.Score,
		Confidence: score.Confidence,
		Model:      score.Model,
		Method:     score.Method,
		CachedAt:   time.Now().UTC(),
	}
	c.dirty = true
}

// Flush writes the cache to disk atomically when it changed.
func (c *ResultCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	raw, err := msgpack.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	c.dirty = false
	return nil
}

// Len reports the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
