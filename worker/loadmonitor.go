package worker

import (
	"sync/atomic"
	"time"
)

// EWMALoadMonitor is a minimal LoadMonitor: it tracks an
// exponentially-weighted moving average of per-item latency, stored
// as nanoseconds in an atomic so Load can be read from any goroutine
// without locking. Admission-control policy built on top of Load is
// left to the embedding program.
type EWMALoadMonitor struct {
	alpha float64
	avgNs atomic.Uint64
}

// NewEWMALoadMonitor returns a load monitor with the given smoothing
// factor (0 < alpha <= 1; higher weighs recent samples more heavily).
func NewEWMALoadMonitor(alpha float64) *EWMALoadMonitor {
	return &EWMALoadMonitor{alpha: alpha}
}

func (m *EWMALoadMonitor) RequestComplete(latency time.Duration) {
	sample := float64(latency.Nanoseconds())
	for {
		old := m.avgNs.Load()
		var next float64
		if old == 0 {
			next = sample
		} else {
			next = m.alpha*sample + (1-m.alpha)*float64(old)
		}
		if m.avgNs.CompareAndSwap(old, uint64(next)) {
			return
		}
	}
}

// Load returns the current smoothed latency estimate.
func (m *EWMALoadMonitor) Load() time.Duration {
	return time.Duration(m.avgNs.Load())
}
