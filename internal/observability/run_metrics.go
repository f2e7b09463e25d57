package observability

import (
	"sync/atomic"
	"time"
)

// RunMetrics keeps cheap in-process counters for the daemon's /stats
// endpoint, independent of the prometheus registry.

type RunMetrics struct {
	claimed   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	skipped   atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *RunMetrics) IncClaimed()   { m.claimed.Add(1) }
func (m *RunMetrics) IncCompleted() { m.completed.Add(1) }
func (m *RunMetrics) IncFailed()    { m.failed.Add(1) }
func (m *RunMetrics) IncRetried()   { m.retried.Add(1) }
func (m *RunMetrics) IncSkipped()   { m.skipped.Add(1) }

func (m *RunMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	// max update

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type RunMetricsSnapshot struct {
	Claimed         uint64        `json:"claimed"`
	Completed       uint64        `json:"completed"`
	Failed          uint64        `json:"failed"`
	Retried         uint64        `json:"retried"`
	Skipped         uint64        `json:"skipped"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDuration"`
	MaxDuration     time.Duration `json:"maxDuration"`
}

func (m *RunMetrics) Snapshot() RunMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return RunMetricsSnapshot{
		Claimed:         m.claimed.Load(),
		Completed:       m.completed.Load(),
		Failed:          m.failed.Load(),
		Retried:         m.retried.Load(),
		Skipped:         m.skipped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
