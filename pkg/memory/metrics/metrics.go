// Package metrics exposes the engine's Prometheus instrumentation: cache
// hit/miss rates, connection pool occupancy, pattern queue depth, and
// circuit breaker state, one registry per engine instance.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "epimem"

// Metrics bundles every collector the engine reports. Callers construct
// one instance per engine and pass it down to the components that feed
// it (cache, pool, queue, breaker).
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	PoolActive    *prometheus.GaugeVec
	PoolIdle      *prometheus.GaugeVec
	PoolAcquired  *prometheus.CounterVec
	PoolTimedOut  *prometheus.CounterVec

	QueueDepth    *prometheus.GaugeVec
	QueueDeferred *prometheus.CounterVec

	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	RetrievalLatency *prometheus.HistogramVec
	PatternsExtracted *prometheus.CounterVec
}

// New builds a Metrics bundle on a fresh registry and registers every
// collector. One Metrics instance should back one running engine.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total", Help: "Cache reads served from the embedded cache.",
		}, []string{"namespace"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total", Help: "Cache reads that missed and fell through to durable storage.",
		}, []string{"namespace"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total", Help: "Cache entries evicted due to expiry or schema mismatch.",
		}, []string{"namespace"}),

		PoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_active_connections", Help: "Connections currently checked out of the pool.",
		}, []string{"pool"}),
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_idle_connections", Help: "Connections idle and available for reuse.",
		}, []string{"pool"}),
		PoolAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_acquired_total", Help: "Successful pool acquisitions.",
		}, []string{"pool"}),
		PoolTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_acquire_timeouts_total", Help: "Pool acquisitions that exhausted the acquire timeout.",
		}, []string{"pool"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pattern_queue_depth", Help: "Jobs currently buffered in the pattern extraction queue.",
		}, []string{"queue"}),
		QueueDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pattern_queue_deferred_total", Help: "Submissions that timed out and were flagged pattern_extraction_deferred.",
		}, []string{"queue"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state", Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_breaker_trips_total", Help: "Times the breaker transitioned into the open state.",
		}, []string{"breaker"}),

		RetrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieval_duration_seconds", Help: "retrieve_context end-to-end latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"semantic_used"}),
		PatternsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "patterns_extracted_total", Help: "Patterns produced by the extraction pipeline, by kind.",
		}, []string{"kind"}),
	}

	m.Registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.PoolActive, m.PoolIdle, m.PoolAcquired, m.PoolTimedOut,
		m.QueueDepth, m.QueueDeferred,
		m.BreakerState, m.BreakerTrips,
		m.RetrievalLatency, m.PatternsExtracted,
	)
	return m
}

// RecordCacheHit increments the hit counter for the given namespace.
func (m *Metrics) RecordCacheHit(ns string) { m.CacheHits.WithLabelValues(ns).Inc() }

// RecordCacheMiss increments the miss counter for the given namespace.
func (m *Metrics) RecordCacheMiss(ns string) { m.CacheMisses.WithLabelValues(ns).Inc() }

// RecordCacheEviction increments the eviction counter for the given namespace.
func (m *Metrics) RecordCacheEviction(ns string) { m.CacheEvictions.WithLabelValues(ns).Inc() }

// SetPoolStats sets the pool's active/idle gauges.
func (m *Metrics) SetPoolStats(pool string, active, idle int) {
	m.PoolActive.WithLabelValues(pool).Set(float64(active))
	m.PoolIdle.WithLabelValues(pool).Set(float64(idle))
}

// RecordPoolAcquired increments the successful-acquisition counter.
func (m *Metrics) RecordPoolAcquired(pool string) { m.PoolAcquired.WithLabelValues(pool).Inc() }

// RecordPoolTimedOut increments the acquire-timeout counter.
func (m *Metrics) RecordPoolTimedOut(pool string) { m.PoolTimedOut.WithLabelValues(pool).Inc() }

// SetQueueDepth sets the current buffered job count.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueDeferred increments the deferred-submission counter.
func (m *Metrics) RecordQueueDeferred(queue string) { m.QueueDeferred.WithLabelValues(queue).Inc() }

// SetBreakerState records the breaker's current numeric state.
func (m *Metrics) SetBreakerState(breaker string, state int) {
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordBreakerTrip increments the trip counter.
func (m *Metrics) RecordBreakerTrip(breaker string) { m.BreakerTrips.WithLabelValues(breaker).Inc() }

// ObserveRetrievalLatency records one retrieve_context call's duration.
func (m *Metrics) ObserveRetrievalLatency(semanticUsed bool, seconds float64) {
	label := "false"
	if semanticUsed {
		label = "true"
	}
	m.RetrievalLatency.WithLabelValues(label).Observe(seconds)
}

// RecordPatternExtracted increments the extraction counter for kind.
func (m *Metrics) RecordPatternExtracted(kind string) { m.PatternsExtracted.WithLabelValues(kind).Inc() }
