// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsIngested tracks ingested records by outcome
	// (created/updated/unchanged/invalid).
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of records fed through the ingestion pipeline by outcome",
		},
		[]string{"outcome"},
	)

	// SnapshotsWritten tracks history rows appended.
	SnapshotsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "snapshots_total",
			Help:      "Total number of history snapshots written",
		},
	)

	// IngestConflicts tracks write-write conflicts that triggered a retry.
	IngestConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "conflicts_total",
			Help:      "Total number of same-identifier write conflicts retried",
		},
	)

	// BatchDuration tracks how long full crawl-run batches take to ingest.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// QueryDuration tracks query/aggregation engine latency by operation.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of catalog queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// StatsCacheHits tracks redis stats-cache hits and misses.
	StatsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "cache",
			Name:      "stats_lookups_total",
			Help:      "Total number of stats cache lookups by result",
		},
		[]string{"result"},
	)

	// ConsumerLag tracks the record-feed consumer lag.
	ConsumerLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "consumer_lag",
			Help:      "Current lag of the scraped-records consumer",
		},
	)
)
