package models

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/forecast"
)

// Cache is a bounded in-memory map from ticker to loaded model handle.
// It replaces ad-hoc process-wide model state: ownership is explicit, the
// size is bounded, and lifecycle transitions evict so a stale handle is
// never served after a save.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*cacheEntry
	clock    int64 // monotonic access counter for LRU eviction
	log      zerolog.Logger
}

type cacheEntry struct {
	model    forecast.Forecaster
	lastUsed int64
}

// NewCache creates a model cache holding at most capacity handles.
func NewCache(capacity int, log zerolog.Logger) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry, capacity),
		log:      log.With().Str("component", "model_cache").Logger(),
	}
}

// Get returns the cached model handle for a ticker, if present.
func (c *Cache) Get(ticker string) (forecast.Forecaster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ticker]
	if !ok {
		return nil, false
	}
	c.clock++
	entry.lastUsed = c.clock
	return entry.model, true
}

// Put stores a model handle, evicting the least recently used entry when
// the cache is full.
func (c *Cache) Put(ticker string, model forecast.Forecaster) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if entry, ok := c.entries[ticker]; ok {
		entry.model = model
		entry.lastUsed = c.clock
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[ticker] = &cacheEntry{model: model, lastUsed: c.clock}
}

// Evict removes a ticker's handle. Called on lifecycle transitions so the
// next read reloads from the persisted artifact.
func (c *Cache) Evict(ticker string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ticker)
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldest() {
	var oldestTicker string
	var oldestUsed int64
	first := true
	for ticker, entry := range c.entries {
		if first || entry.lastUsed < oldestUsed {
			oldestTicker = ticker
			oldestUsed = entry.lastUsed
			first = false
		}
	}
	if oldestTicker != "" {
		delete(c.entries, oldestTicker)
		c.log.Debug().Str("ticker", oldestTicker).Msg("Evicted model handle")
	}
}
