package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mireactor "github.com/mireactor/mireactor"
	"github.com/mireactor/mireactor/internal/logging"
	"github.com/mireactor/mireactor/metrics"
	"github.com/mireactor/mireactor/task"
)

func main() {
	var (
		reactors     = flag.Int("reactors", 0, "Number of reactors (0 uses one per CPU)")
		verbose      = flag.Bool("v", false, "Verbose output")
		metricsEvery = flag.Duration("metrics-interval", 2*time.Second, "How often to log a metrics snapshot")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.New(logConfig)
	logging.SetDefault(logger)

	m := metrics.New()

	opts := []mireactor.Option{
		mireactor.WithBackend(mireactor.BackendMem),
		mireactor.WithLogger(logger),
		mireactor.WithObserver(m),
	}
	if *reactors > 0 {
		opts = append(opts, mireactor.WithReactors(*reactors))
	}

	rt, err := mireactor.New(opts...)
	if err != nil {
		log.Fatalf("failed to start runtime: %v", err)
	}
	logger.Info("runtime started", "reactors", rt.Reactors())

	spawnDemoTasks(rt, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*metricsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			logger.Info("received shutdown signal")
			if err := rt.Shutdown(); err != nil {
				logger.Error("shutdown error", "err", err)
			}
			logSnapshot(m)
			return
		case <-ticker.C:
			logSnapshot(m)
		}
	}
}

// spawnDemoTasks exercises the three shapes worth showing off: a plain
// sleep, a periodic tick that stops on cancellation, and a deliberate
// panic to demonstrate that one task's failure never takes down the
// reactor running it. Both the sleeping and periodic tasks are pinned
// to reactor 0 via SpawnOn so they can reach its wheel through
// Runtime.Wheel(0) — a task placed by Spawn's round-robin would need
// to discover its own reactor index first.
func spawnDemoTasks(rt *mireactor.Runtime, logger logging.Logger) {
	const pinned = 0

	if _, err := mireactor.SpawnOn(rt, pinned, func(cx *task.Cx) struct{} {
		logger.Info("sleep task starting")
		task.Sleep(cx, rt.Wheel(pinned), 500*time.Millisecond)
		logger.Info("sleep task woke up")
		return struct{}{}
	}); err != nil {
		logger.Error("failed to spawn sleep task", "err", err)
	}

	h, err := mireactor.SpawnOn(rt, pinned, task.PeriodicBody(rt.Wheel(pinned), 300*time.Millisecond, func(cx *task.Cx) {
		logger.Info("periodic tick")
	}))
	if err != nil {
		logger.Error("failed to spawn periodic task", "err", err)
	} else {
		time.AfterFunc(2*time.Second, func() {
			logger.Info("cancelling periodic task")
			rt.Cancel(h.ID())
		})
	}

	if _, err := mireactor.Spawn(rt, func(cx *task.Cx) struct{} {
		logger.Info("panic task starting")
		panic("demo: deliberate task panic")
	}); err != nil {
		logger.Error("failed to spawn panic task", "err", err)
	}
}

func logSnapshot(m *metrics.Metrics) {
	snap := m.Snapshot()
	fmt.Printf(
		"tasks: spawned=%d completed=%d panicked=%d | timers=%d io=%d | p50=%dns p99=%dns | tasks/sec=%.1f panic-rate=%.1f%%\n",
		snap.TasksSpawned, snap.TasksCompleted, snap.TasksPanicked,
		snap.TimersFired, snap.IOCompletions,
		snap.LatencyP50Ns, snap.LatencyP99Ns,
		snap.TasksPerSecond, snap.PanicRate,
	)
}
