// Package metrics defines Prometheus instrumentation for the credential
// store, token lifecycle, and response cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Response cache metrics
var (
	// CacheHitsTotal tracks cache hits
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total response cache hits",
		},
	)

	// CacheMissesTotal tracks cache misses (absent or expired)
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total response cache misses",
		},
	)

	// CacheEvictionsTotal tracks evictions by reason (expired, lru, explicit)
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Total response cache evictions by reason",
		},
		[]string{"reason"},
	)

	// CacheRejectionsTotal tracks writes rejected for oversized values
	CacheRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_rejections_total",
			Help: "Total cache writes rejected for oversized values",
		},
	)

	// CacheSize tracks current number of cache entries
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Current number of response cache entries",
		},
	)
)

// Token lifecycle metrics
var (
	// TokenRefreshesTotal tracks token refreshes by status (success, failure)
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total OAuth token refreshes by status",
		},
		[]string{"status"},
	)

	// TokenRevocationsTotal tracks token revocations by remote outcome
	TokenRevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_revocations_total",
			Help: "Total token revocations by remote outcome",
		},
		[]string{"remote"},
	)

	// CachedClients tracks currently cached OAuth clients
	CachedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "token_cached_clients",
			Help: "Number of in-memory OAuth clients",
		},
	)
)

// Credential store metrics
var (
	// StoreSavesTotal tracks account file saves by status
	StoreSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_store_saves_total",
			Help: "Total account file saves by status",
		},
		[]string{"status"},
	)

	// DecryptionFailuresTotal tracks authentication-tag verification failures
	DecryptionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_decryption_failures_total",
			Help: "Total credential blob decryption failures",
		},
	)

	// BackupSnapshots tracks the number of retained backup snapshots
	BackupSnapshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credential_backup_snapshots",
			Help: "Number of retained account backup snapshots",
		},
	)
)
