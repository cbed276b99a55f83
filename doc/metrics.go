package doc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opsApplied counts ops integrated into a document, by origin (local or remote).
	opsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crdoc_ops_applied_total",
		Help: "Ops integrated into documents by origin",
	}, []string{"origin"})

	opsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crdoc_ops_duplicate_total",
		Help: "Remote ops ignored because they were already known",
	})

	opsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crdoc_ops_buffered_total",
		Help: "Remote ops buffered until a dependency arrives",
	})

	opsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crdoc_ops_discarded_total",
		Help: "Buffered ops dropped when a document closed",
	})

	mergeRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crdoc_merge_rollbacks_total",
		Help: "Remote merges rolled back after an error",
	})

	decodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crdoc_decode_failures_total",
		Help: "Rejected encodings by reason",
	}, []string{"reason"})

	encodedBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crdoc_encoded_bytes",
		Help:    "Size of exported encodings",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B to ~16MiB
	}, []string{"kind"})
)
