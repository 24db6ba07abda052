// Package metrics holds the prometheus collectors exported by wordhub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wordhub"

	// TierMemory labels the in-process cache tier.
	TierMemory = "memory"
	// TierDurable labels the on-disk cache tier.
	TierDurable = "durable"

	// ResultHit signifies a lookup that found a value.
	ResultHit = "hit"
	// ResultMiss signifies a lookup that found nothing.
	ResultMiss = "miss"
	// ResultError signifies a lookup that failed.
	ResultError = "error"

	// ReasonExpired signifies an entry dropped because its TTL elapsed.
	ReasonExpired = "expired"
	// ReasonCapacity signifies an entry dropped to stay under the size limit.
	ReasonCapacity = "capacity"
)

// MustRegisterCounterVec creates and registers a counter vector.
// Must be called from `init`.
func MustRegisterCounterVec(component, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// MustRegisterHistogramVec creates and registers a histogram vector.
// Must be called from `init`.
func MustRegisterHistogramVec(component, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// CacheLookupsTotal counts cache lookups.
// [tier, result].
var CacheLookupsTotal = MustRegisterCounterVec(
	"cache",
	"lookups_total",
	"Number of cache lookups by tier and result.",
	"tier", "result",
)

// CacheEvictionsTotal counts entries dropped from a cache tier.
// [tier, reason].
var CacheEvictionsTotal = MustRegisterCounterVec(
	"cache",
	"evictions_total",
	"Number of cache entries evicted by tier and reason.",
	"tier", "reason",
)

// PartitionLookupsTotal counts store lookups made while walking the fallback chain.
// [partition, result].
var PartitionLookupsTotal = MustRegisterCounterVec(
	"resolver",
	"partition_lookups_total",
	"Number of partition lookups by partition and result.",
	"partition", "result",
)

// LookupSharedTotal counts lookups answered by an identical in-flight lookup.
var LookupSharedTotal = MustRegisterCounterVec(
	"resolver",
	"lookup_shared_total",
	"Number of lookups de-duplicated with an in-flight lookup.",
	"kind",
)

// ResolutionDurationSeconds tracks how long a resolution takes.
// [kind].
var ResolutionDurationSeconds = MustRegisterHistogramVec(
	"resolver",
	"resolution_duration_seconds",
	"Duration of word resolutions in seconds.",
	[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	"kind",
)

// BatchChunksTotal counts chunked fetches issued by the batch fetcher.
// [result].
var BatchChunksTotal = MustRegisterCounterVec(
	"resolver",
	"batch_chunks_total",
	"Number of batch fetch chunks by result.",
	"result",
)

// MigrationRecordsTotal counts records processed by migrations.
// [outcome].
var MigrationRecordsTotal = MustRegisterCounterVec(
	"migration",
	"records_total",
	"Number of records processed by migrations by outcome.",
	"outcome",
)

// RPCRequestsTotal counts RPCs served.
// [procedure, code].
var RPCRequestsTotal = MustRegisterCounterVec(
	"server",
	"rpc_requests_total",
	"Number of RPCs served by procedure and status code.",
	"procedure", "code",
)
