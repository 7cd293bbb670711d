package metrics

import (
	"testing"
	"time"
)

func TestMetricsTaskCounters(t *testing.T) {
	m := New()

	snap := m.Snapshot()
	if snap.TasksSpawned != 0 {
		t.Errorf("expected 0 initial spawns, got %d", snap.TasksSpawned)
	}

	m.TaskSpawned()
	m.TaskSpawned()
	m.TaskCompleted(1_000_000) // 1ms
	m.TaskPanicked(2_000_000)  // 2ms

	snap = m.Snapshot()
	if snap.TasksSpawned != 2 {
		t.Errorf("expected 2 spawns, got %d", snap.TasksSpawned)
	}
	if snap.TasksCompleted != 1 {
		t.Errorf("expected 1 completed, got %d", snap.TasksCompleted)
	}
	if snap.TasksPanicked != 1 {
		t.Errorf("expected 1 panicked, got %d", snap.TasksPanicked)
	}

	expectedAvg := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvg {
		t.Errorf("expected avg latency %d ns, got %d ns", expectedAvg, snap.AvgLatencyNs)
	}

	expectedPanicRate := 50.0
	if snap.PanicRate < expectedPanicRate-0.1 || snap.PanicRate > expectedPanicRate+0.1 {
		t.Errorf("expected panic rate ~%.1f%%, got %.1f%%", expectedPanicRate, snap.PanicRate)
	}
}

func TestMetricsReadySetDepth(t *testing.T) {
	m := New()

	m.ReadySetDepth(10)
	m.ReadySetDepth(20)
	m.ReadySetDepth(15)

	snap := m.Snapshot()
	if snap.MaxReadySetDepth != 20 {
		t.Errorf("expected max depth 20, got %d", snap.MaxReadySetDepth)
	}
	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgReadySetDepth < expectedAvg-0.1 || snap.AvgReadySetDepth > expectedAvg+0.1 {
		t.Errorf("expected avg depth %.1f, got %.1f", expectedAvg, snap.AvgReadySetDepth)
	}
}

func TestMetricsTimerAndIOCounters(t *testing.T) {
	m := New()

	m.TimerFired(3)
	m.TimerFired(2)
	m.IOCompleted(4)

	snap := m.Snapshot()
	if snap.TimersFired != 5 {
		t.Errorf("expected 5 timers fired, got %d", snap.TimersFired)
	}
	if snap.IOCompletions != 4 {
		t.Errorf("expected 4 IO completions, got %d", snap.IOCompletions)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := New()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.TaskSpawned()
	m.TaskCompleted(1_000_000)
	m.ReadySetDepth(10)

	snap := m.Snapshot()
	if snap.TasksSpawned == 0 {
		t.Error("expected some activity before reset")
	}

	m.Reset()
	snap = m.Snapshot()
	if snap.TasksSpawned != 0 || snap.TasksCompleted != 0 || snap.MaxReadySetDepth != 0 {
		t.Errorf("expected zeroed metrics after reset, got %+v", snap)
	}
}

func TestMetricsTasksPerSecond(t *testing.T) {
	m := New()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.TaskCompleted(1_000_000)
	m.TaskCompleted(1_000_000)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	if snap.TasksPerSecond < 1.9 || snap.TasksPerSecond > 2.1 {
		t.Errorf("expected ~2 tasks/sec, got %.2f", snap.TasksPerSecond)
	}
}

func TestMetricsLatencyPercentiles(t *testing.T) {
	m := New()

	for i := 0; i < 50; i++ {
		m.TaskCompleted(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.TaskCompleted(5_000_000) // 5ms
	}
	m.TaskCompleted(50_000_000) // 50ms — the single slowest task

	snap := m.Snapshot()
	if snap.TasksCompleted != 100 {
		t.Errorf("expected 100 completed tasks, got %d", snap.TasksCompleted)
	}
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}
}
