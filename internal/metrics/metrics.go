// Package metrics exposes prometheus instrumentation for pool handles
// embedded in long-running processes. Registration is idempotent; the
// pool's Create and Open both call Register, so any process holding a
// pool handle has these collectors in the default registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Collectors shared by every Pool handle in the process. Per-handle
// identity (link path, segment name) is deliberately not a label here,
// matching the teacher's low-cardinality approach to pool-level gauges.
var (
	SlotsOccupied = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shmpool",
		Name:      "slots_occupied",
		Help:      "Number of occupied slots in the most recently touched pool.",
	})

	BytesAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shmpool",
		Name:      "bytes_allocated",
		Help:      "Bytes currently leased from the data region.",
	})

	AddObjectTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shmpool",
		Name:      "add_object_total",
		Help:      "Total number of successful add_object calls.",
	})

	AttachObjectTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shmpool",
		Name:      "attach_object_total",
		Help:      "Total number of successful attach_object calls.",
	})

	DetachObjectTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shmpool",
		Name:      "detach_object_total",
		Help:      "Total number of successful detach_object calls.",
	})

	MutexWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shmpool",
		Name:      "mutex_wait_seconds",
		Help:      "Time spent waiting to acquire the control mutex.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register installs the pool's collectors with the default prometheus
// registry. Safe to call from multiple Pool handles; registration
// happens once per process.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SlotsOccupied,
			BytesAllocated,
			AddObjectTotal,
			AttachObjectTotal,
			DetachObjectTotal,
			MutexWaitSeconds,
		)
	})
}
