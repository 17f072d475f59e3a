// Package cache provides the generic response cache that shields the
// rate-limited remote API from redundant calls.
//
// Values are JSON-serialized on write, gzip-wrapped above a size threshold,
// expired by TTL (eager timer plus lazy read check) and evicted strictly
// least-recently-used when the entry count limit is exceeded. An optional
// snapshot file carries entries, recency and remaining TTL across restarts.
package cache
