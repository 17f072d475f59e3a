package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// snapshotEntry is the persisted form of one cache entry. Payload keeps its
// compression wrapping; Rank preserves recency order (0 = most recent).
type snapshotEntry struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	Compressed bool      `json:"compressed,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	SizeBytes  int       `json:"sizeBytes"`
}

// SaveSnapshot writes all entries with their recency order and expiry to
// path, so a restart can rebuild the cache without re-fetching.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.Lock()
	snapshot := make([]snapshotEntry, 0, len(c.entries))
	for el := c.recency.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		snapshot = append(snapshot, snapshotEntry{
			Key:        e.key,
			Payload:    e.payload,
			Compressed: e.compressed,
			CreatedAt:  e.createdAt,
			ExpiresAt:  e.expiresAt,
			SizeBytes:  e.sizeBytes,
		})
	}
	c.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize cache snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores entries, recency and remaining TTL from a prior
// snapshot. Entries already expired in the snapshot are not resurrected.
// A missing snapshot file is not an error.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var snapshot []snapshotEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.entries = make(map[string]*entry, len(snapshot))
	c.recency = list.New()

	now := c.clock.Now()
	for _, rec := range snapshot {
		if !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
			continue
		}
		if len(c.entries) >= c.opts.MaxEntries {
			break
		}

		key := rec.Key
		e := &entry{
			key:        key,
			payload:    rec.Payload,
			compressed: rec.Compressed,
			createdAt:  rec.CreatedAt,
			expiresAt:  rec.ExpiresAt,
			sizeBytes:  rec.SizeBytes,
		}
		if !e.expiresAt.IsZero() {
			e.timer = c.clock.AfterFunc(e.expiresAt.Sub(now), func() { c.expire(key, e) })
		}
		// Snapshot order is most-recent-first; appending at the back
		// reproduces it.
		e.element = c.recency.PushBack(e)
		c.entries[key] = e
	}

	return nil
}
