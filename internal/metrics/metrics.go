// Package metrics holds the Prometheus collectors for the runtime
// persistence components. Collectors are created here and registered by the
// host via Collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for the saga store.
var (
	SagaConcurrencyConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpersistence_saga_concurrency_conflicts_total",
		Help: "Cumulative number of saga updates or completions rejected by a stale concurrency version.",
	}, []string{"saga"})
	SagaRuntimeInfoBuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_saga_runtime_info_builds_total",
		Help: "Cumulative number of saga command sets rendered.",
	})
)

// Collectors for the outbox cleaner.
var (
	OutboxCleanupRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpersistence_outbox_cleanup_runs_total",
		Help: "Cumulative number of outbox cleanup runs, by status.",
	}, []string{"status"})
	OutboxRowsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_outbox_rows_removed_total",
		Help: "Cumulative number of dispatched outbox rows removed.",
	})
	OutboxCriticalErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_outbox_critical_errors_total",
		Help: "Cumulative number of times consecutive cleanup failures raised a critical error.",
	})
)

// Collectors for the subscription cache.
var (
	SubscriptionCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_subscription_cache_hits_total",
		Help: "Cumulative number of subscriber lookups served from cache.",
	})
	SubscriptionCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_subscription_cache_misses_total",
		Help: "Cumulative number of subscriber lookups that queried the database.",
	})
	SubscriptionCacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlpersistence_subscription_cache_invalidations_total",
		Help: "Cumulative number of cache entries dropped by subscribe or unsubscribe.",
	})
)

// Collectors returns every collector of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SagaConcurrencyConflictsTotal,
		SagaRuntimeInfoBuildsTotal,
		OutboxCleanupRunsTotal,
		OutboxRowsRemovedTotal,
		OutboxCriticalErrorsTotal,
		SubscriptionCacheHitsTotal,
		SubscriptionCacheMissesTotal,
		SubscriptionCacheInvalidationsTotal,
	}
}
