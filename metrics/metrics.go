// Package metrics wraps github.com/prometheus/client_golang behind
// the small Histogram/Gauge interfaces the core's collaborators
// actually need, so queue/worker/ingress depend on an interface, not
// on Prometheus types directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Histogram is a single-value observation sink — latency and
// queue-depth tables both satisfy this with a *HistogramVec
// observation or a plain Histogram.
type Histogram interface {
	Observe(value float64)
}

// Gauge is a point-in-time value sink, used for collaborators like
// current queue depth or active worker count.
type Gauge interface {
	Set(value float64)
}

// NewLatencyHistogram returns a Prometheus histogram suitable for the
// worker pool's per-item processing latency, in microseconds.
func NewLatencyHistogram(namespace, subsystem string) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processing_latency_us",
		Help:      "Work item processing latency in microseconds.",
		Buckets:   prometheus.ExponentialBuckets(50, 2, 16),
	})
	prometheus.MustRegister(h)
	return h
}

// NewQueueSizeHistogram returns a Prometheus histogram suitable for
// the ingress hook's queue-depth observations.
func NewQueueSizeHistogram(namespace, subsystem string) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "queue_depth",
		Help:      "Event queue depth observed at ingress, before each push.",
		Buckets:   prometheus.LinearBuckets(0, 50, 20),
	})
	prometheus.MustRegister(h)
	return h
}

// NewActiveWorkersGauge returns a gauge for the number of workers
// currently processing a work item (as opposed to blocked in Pop).
func NewActiveWorkersGauge(namespace, subsystem string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_workers",
		Help:      "Number of worker goroutines currently processing a work item.",
	})
	prometheus.MustRegister(g)
	return g
}
