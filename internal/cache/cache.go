package cache

import (
	"bytes"
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	"github.com/calyxmail/calyx/internal/metrics"
)

// Options configure a Cache.
type Options struct {
	// MaxEntries is the entry count that triggers LRU eviction on insert.
	MaxEntries int
	// MaxValueBytes rejects individual serialized values above this size.
	MaxValueBytes int
	// CompressionBytes gzip-wraps serialized values above this size.
	CompressionBytes int
}

// entry is one cached value. The payload is the JSON serialization of the
// value, gzip-wrapped when it crossed the compression threshold.
type entry struct {
	key        string
	payload    []byte
	compressed bool
	createdAt  time.Time
	expiresAt  time.Time // zero => no TTL
	sizeBytes  int       // uncompressed serialized size
	element    *list.Element
	timer      clockwork.Timer
}

// Cache is an in-memory key/value store with TTL expiry, strict LRU
// eviction and size-gated compression. Keys are domain-agnostic strings
// composed by callers (e.g. "emails_<accountId>_<folder>_<page>_<pageSize>").
//
// Lookup and recency are two explicit structures: a map for O(1) lookup and
// a doubly-linked list for O(1) reordering, so eviction order is
// unambiguous. All bookkeeping is guarded by one mutex.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	clock   clockwork.Clock
	entries map[string]*entry
	recency *list.List // front = most recently used
}

// New creates a Cache with the given options.
func New(opts Options, clock clockwork.Clock) *Cache {
	return &Cache{
		opts:    opts,
		clock:   clock,
		entries: make(map[string]*entry),
		recency: list.New(),
	}
}

// Set stores a value under key with the given TTL (0 means no expiry).
// Oversized values are rejected with a false return, not an error; the
// caller degrades to an extra network fetch. Existing entries are replaced
// wholesale.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		slog.Warn("Failed to serialize cache value, rejecting", "key", key, "error", err)
		metrics.CacheRejectionsTotal.Inc()
		return false
	}
	if len(payload) > c.opts.MaxValueBytes {
		metrics.CacheRejectionsTotal.Inc()
		slog.Debug("Cache value over size limit, rejecting", "key", key, "size_bytes", len(payload))
		return false
	}

	sizeBytes := len(payload)
	compressed := false
	if sizeBytes > c.opts.CompressionBytes {
		wrapped, err := compress(payload)
		if err == nil && len(wrapped) < sizeBytes {
			payload = wrapped
			compressed = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	// LRU pressure is keyed on entry count only; byte size gates
	// individual values, never aggregate eviction.
	for len(c.entries) >= c.opts.MaxEntries {
		oldest := c.recency.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
		metrics.CacheEvictionsTotal.WithLabelValues("lru").Inc()
	}

	e := &entry{
		key:        key,
		payload:    payload,
		compressed: compressed,
		createdAt:  c.clock.Now(),
		sizeBytes:  sizeBytes,
	}
	if ttl > 0 {
		e.expiresAt = e.createdAt.Add(ttl)
		e.timer = c.clock.AfterFunc(ttl, func() { c.expire(key, e) })
	}
	e.element = c.recency.PushFront(e)
	c.entries[key] = e
	metrics.CacheSize.Set(float64(len(c.entries)))

	return true
}

// Get returns the cached value for key. An entry past its expiry is evicted
// and reported as a miss even if the eager timer has not fired yet, so
// stale data is never returned. A hit refreshes recency.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		c.removeLocked(e)
		c.mu.Unlock()
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	c.recency.MoveToFront(e.element)
	payload, compressed := e.payload, e.compressed
	c.mu.Unlock()

	value, err := decode(payload, compressed)
	if err != nil {
		slog.Warn("Failed to decode cached value, evicting", "key", key, "error", err)
		c.Delete(key)
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	metrics.CacheHitsTotal.Inc()
	return value, true
}

// GetOrGenerate returns the cached value for key, invoking producer and
// caching its result on a miss. Producer errors propagate uncached.
func (c *Cache) GetOrGenerate(key string, producer func() (any, error), ttl time.Duration) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := producer()
	if err != nil {
		return nil, err
	}

	c.Set(key, value, ttl)
	return value, nil
}

// Delete removes an entry and cancels its pending expiry timer.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
		metrics.CacheEvictionsTotal.WithLabelValues("explicit").Inc()
	}
}

// Clear removes all entries and cancels every pending timer so no callback
// dangles on a cleared store.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.entries = make(map[string]*entry)
	c.recency.Init()
	metrics.CacheSize.Set(0)
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictExpired removes all expired entries and returns the count evicted.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for _, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			c.removeLocked(e)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(evicted))
	}
	return evicted
}

// StartEvictionTimer runs a periodic goroutine that evicts expired entries.
// Returns a stop function that should be deferred.
func (c *Cache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan bool)

	go func() {
		for {
			select {
			case <-ticker.Chan():
				evicted := c.EvictExpired()
				if evicted > 0 {
					slog.Debug("Evicted expired cache entries", "count", evicted, "remaining", c.Size())
				}

			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}

// expire is the eager timer callback. The entry pointer comparison guards
// against firing for a key that was overwritten after the timer was armed.
func (c *Cache) expire(key string, armed *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e != armed {
		return
	}
	c.removeLocked(e)
	metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
}

// removeLocked unlinks an entry from both structures and stops its timer.
func (c *Cache) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	c.recency.Remove(e.element)
	delete(c.entries, e.key)
	metrics.CacheSize.Set(float64(len(c.entries)))
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress cache value: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(payload []byte, compressed bool) (any, error) {
	if compressed {
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed cache value: %w", err)
		}
		defer r.Close()
		payload, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache value: %w", err)
		}
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("failed to deserialize cache value: %w", err)
	}
	return value, nil
}
