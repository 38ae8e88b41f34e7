// Package metrics provides Prometheus metrics for the collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitetrace"

var (
	// SessionsAppended counts sessions written to the store.
	SessionsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions_appended_total",
			Help:      "Total number of sessions appended to the store",
		},
	)

	// SessionsEvicted counts sessions dropped because the store was full.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions_evicted_total",
			Help:      "Total number of oldest sessions evicted at capacity",
		},
	)

	// SessionsStored is the number of stored sessions, seeded at startup and
	// updated on every append.
	SessionsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions",
			Help:      "Sessions held by the store",
		},
	)

	// DecodeFailures counts blobs that could not be decrypted.
	// Labels: source (store, cache)
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Encrypted blobs that failed to decode",
		},
		[]string{"source"},
	)

	// PersistenceFailures counts backend read/write errors.
	// Labels: op (load, save)
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persistence_failures_total",
			Help:      "Backend load or save errors",
		},
		[]string{"op"},
	)

	// IngestRejected counts POST /collect requests that were not stored.
	// Labels: reason (invalid, rate_limited, error)
	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "ingest_rejected_total",
			Help:      "Ingestion requests rejected by reason",
		},
		[]string{"reason"},
	)

	// ReportsSent counts weekly report attempts.
	// Labels: result (sent, skipped, error)
	ReportsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "runs_total",
			Help:      "Report runs by result",
		},
		[]string{"result"},
	)
)
