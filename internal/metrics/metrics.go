// Package metrics exposes package-level Prometheus collectors for the
// daemon's ambient operational surface (SPEC_FULL §2B), grounded on the
// global-counter/histogram pattern in jordigilh-kubernaut's
// pkg/infrastructure/metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventBusSubscribers tracks how many SSE/in-process subscribers are
	// currently attached to the Event Bus (spec.md §4.2).
	EventBusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mnemosyne",
		Subsystem: "events",
		Name:      "bus_subscribers",
		Help:      "Current number of Event Bus subscribers.",
	})

	// EventBusLagTotal counts events dropped by a subscriber that fell
	// behind the bus's per-subscriber buffer capacity.
	EventBusLagTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "events",
		Name:      "bus_lag_total",
		Help:      "Total events dropped across all subscribers due to lag.",
	})

	// EvaluationRecordsDroppedTotal counts evaluation records the
	// Collector failed to persist (e.g. store unavailable), which the
	// Evaluation Recorder treats as best-effort and never blocks on.
	EvaluationRecordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "evaluation",
		Name:      "records_dropped_total",
		Help:      "Total evaluation records dropped instead of persisted.",
	})

	// EvolutionJobScannedTotal counts rows a given Evolution Scheduler job
	// examined, labeled by job name.
	EvolutionJobScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "evolution",
		Name:      "job_scanned_total",
		Help:      "Total rows scanned by an Evolution Scheduler job.",
	}, []string{"job"})

	// EvolutionJobMutatedTotal counts rows a given job actually changed.
	EvolutionJobMutatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "evolution",
		Name:      "job_mutated_total",
		Help:      "Total rows mutated by an Evolution Scheduler job.",
	}, []string{"job"})

	// EvolutionJobDurationSeconds observes how long each job run took.
	EvolutionJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mnemosyne",
		Subsystem: "evolution",
		Name:      "job_duration_seconds",
		Help:      "Duration of a single Evolution Scheduler job run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	// WorkItemQueueDepth reports the current number of WorkItems sitting
	// in a given lifecycle state (spec.md §4.4).
	WorkItemQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mnemosyne",
		Subsystem: "orchestrator",
		Name:      "work_item_queue_depth",
		Help:      "Current number of work items in a given state.",
	}, []string{"state"})

	// PrefetchCacheHitsTotal and PrefetchCacheMissesTotal mirror
	// Store.CacheStats as Prometheus counters.
	PrefetchCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "store",
		Name:      "prefetch_cache_hits_total",
		Help:      "Total prefetch cache hits.",
	})
	PrefetchCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Subsystem: "store",
		Name:      "prefetch_cache_misses_total",
		Help:      "Total prefetch cache misses.",
	})
)

// RecordJobReport feeds a completed Evolution Scheduler JobReport into the
// scanned/mutated/duration collectors above. Taking only the primitive
// fields (not the evolution package's JobReport type) keeps this package
// free of a dependency on internal/evolution.
func RecordJobReport(job string, scanned, mutated int, durationSeconds float64) {
	EvolutionJobScannedTotal.WithLabelValues(job).Add(float64(scanned))
	EvolutionJobMutatedTotal.WithLabelValues(job).Add(float64(mutated))
	EvolutionJobDurationSeconds.WithLabelValues(job).Observe(durationSeconds)
}

// PrefetchCacheSampler snapshots hits/misses from a CacheStats-shaped
// accessor (typically Store.CacheStats) into the Prometheus counters.
// Counters only move forward, so this computes the delta against the
// last-seen totals rather than setting an absolute value.
type PrefetchCacheSampler struct {
	lastHits, lastMisses int64
}

// Sample records the delta between hits/misses and the previously
// observed values.
func (p *PrefetchCacheSampler) Sample(hits, misses int64) {
	if d := hits - p.lastHits; d > 0 {
		PrefetchCacheHitsTotal.Add(float64(d))
	}
	if d := misses - p.lastMisses; d > 0 {
		PrefetchCacheMissesTotal.Add(float64(d))
	}
	p.lastHits, p.lastMisses = hits, misses
}
