// Package metrics tracks per-reactor scheduler statistics and exposes
// them through the Observer contract every reactor is constructed
// with. Generalized from one ublk queue's I/O counters to an arbitrary
// reactor's task/timer/I/O events.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/mireactor/mireactor/internal/reactor"
)

// Compile-time check that Metrics satisfies the Observer contract
// every reactor is constructed with.
var _ reactor.Observer = (*Metrics)(nil)

// LatencyBuckets defines the task-completion latency histogram
// buckets in nanoseconds, covering 1us to 10s with logarithmic
// spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the
// reactor scheduler loops that report to it: one reactor, or every
// reactor of a runtime built with WithObserver.
type Metrics struct {
	TasksSpawned   atomic.Uint64
	TasksCompleted atomic.Uint64
	TasksPanicked  atomic.Uint64

	TimersFired   atomic.Uint64
	IOCompletions atomic.Uint64

	ReadySetDepthTotal atomic.Uint64 // cumulative ready-set depth samples
	ReadySetDepthCount atomic.Uint64
	MaxReadySetDepth   atomic.Uint64

	TotalLatencyNs atomic.Uint64 // cumulative task latency, completed + panicked
	LatencyCount   atomic.Uint64

	// LatencyHistogram[i] holds the count of tasks whose latency was
	// <= LatencyBuckets[i] (cumulative, like the teacher's design).
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// New creates a new Metrics instance, stamping StartTime.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// TaskSpawned implements reactor.Observer.
func (m *Metrics) TaskSpawned() { m.TasksSpawned.Add(1) }

// TaskCompleted implements reactor.Observer.
func (m *Metrics) TaskCompleted(latencyNs uint64) {
	m.TasksCompleted.Add(1)
	m.recordLatency(latencyNs)
}

// TaskPanicked implements reactor.Observer.
func (m *Metrics) TaskPanicked(latencyNs uint64) {
	m.TasksPanicked.Add(1)
	m.recordLatency(latencyNs)
}

// TimerFired implements reactor.Observer.
func (m *Metrics) TimerFired(n int) { m.TimersFired.Add(uint64(n)) }

// IOCompleted implements reactor.Observer.
func (m *Metrics) IOCompleted(n int) { m.IOCompletions.Add(uint64(n)) }

// ReadySetDepth implements reactor.Observer.
func (m *Metrics) ReadySetDepth(n int) {
	m.ReadySetDepthTotal.Add(uint64(n))
	m.ReadySetDepthCount.Add(1)
	for {
		current := m.MaxReadySetDepth.Load()
		if uint64(n) <= current {
			break
		}
		if m.MaxReadySetDepth.CompareAndSwap(current, uint64(n)) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// Stop marks the reactor's metrics as stopped, fixing UptimeNs in a
// later Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time, plain-value copy of Metrics, safe to
// serialize or log.
type Snapshot struct {
	TasksSpawned   uint64
	TasksCompleted uint64
	TasksPanicked  uint64

	TimersFired   uint64
	IOCompletions uint64

	AvgReadySetDepth float64
	MaxReadySetDepth uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TasksPerSecond float64
	PanicRate      float64 // percentage (0-100) of resolved tasks (completed+panicked) that panicked
}

// Snapshot computes a point-in-time Snapshot.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		TasksSpawned:     m.TasksSpawned.Load(),
		TasksCompleted:   m.TasksCompleted.Load(),
		TasksPanicked:    m.TasksPanicked.Load(),
		TimersFired:      m.TimersFired.Load(),
		IOCompletions:    m.IOCompletions.Load(),
		MaxReadySetDepth: m.MaxReadySetDepth.Load(),
	}

	depthTotal := m.ReadySetDepthTotal.Load()
	depthCount := m.ReadySetDepthCount.Load()
	if depthCount > 0 {
		snap.AvgReadySetDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatency := m.TotalLatencyNs.Load()
	latencyCount := m.LatencyCount.Load()
	if latencyCount > 0 {
		snap.AvgLatencyNs = totalLatency / latencyCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		resolved := snap.TasksCompleted + snap.TasksPanicked
		snap.TasksPerSecond = float64(resolved) / uptimeSeconds
	}

	resolved := snap.TasksCompleted + snap.TasksPanicked
	if resolved > 0 {
		snap.PanicRate = float64(snap.TasksPanicked) / float64(resolved) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if latencyCount > 0 {
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
		snap.LatencyP999Ns = m.percentile(0.999)
	}

	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.TasksSpawned.Store(0)
	m.TasksCompleted.Store(0)
	m.TasksPanicked.Store(0)
	m.TimersFired.Store(0)
	m.IOCompletions.Store(0)
	m.ReadySetDepthTotal.Store(0)
	m.ReadySetDepthCount.Store(0)
	m.MaxReadySetDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
