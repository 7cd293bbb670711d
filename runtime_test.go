package mireactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mireactor/mireactor/future"
	"github.com/mireactor/mireactor/internal/waker"
	"github.com/mireactor/mireactor/task"
)

// awaitHandle blocks the calling (non-reactor) goroutine until h
// resolves, polling on its own private ready set the same way BlockOn
// drives a bare Future.
func awaitHandle[T any](t *testing.T, h *task.JoinHandle[T], timeout time.Duration) task.Result[T] {
	t.Helper()
	rs := waker.NewReadySet()
	w := waker.New(rs, waker.NewTaskId(-1))
	deadline := time.Now().Add(timeout)
	for {
		if v, ok := h.Poll(w); ok {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for join handle")
		}
		select {
		case <-rs.WaitChan():
		case <-time.After(time.Millisecond):
		}
	}
}

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	base := []Option{WithReactors(2), WithBackend(BackendMem), WithCPUAffinity(false)}
	rt, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func TestNewDefaultsAndState(t *testing.T) {
	rt := newTestRuntime(t)
	require.Equal(t, "Running", rt.State())
	require.Equal(t, 2, rt.Reactors())
}

func TestSpawnRoundRobin(t *testing.T) {
	rt := newTestRuntime(t)

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		h, err := Spawn(rt, func(cx *task.Cx) int {
			return 42
		})
		require.NoError(t, err)
		res := awaitHandle(t, h, time.Second)
		require.NoError(t, res.Err)
		require.Equal(t, 42, res.Value)
		seen[h.ID().ReactorIndex()] = true
	}
	require.Len(t, seen, 2, "round-robin spawn should have touched both reactors")
}

func TestSpawnOnExplicitIndex(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := SpawnOn(rt, 1, func(cx *task.Cx) string {
		return "reactor-1"
	})
	require.NoError(t, err)
	require.Equal(t, 1, h.ID().ReactorIndex())

	res := awaitHandle(t, h, time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, "reactor-1", res.Value)
}

func TestSpawnOnInvalidIndex(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := SpawnOn(rt, 99, func(cx *task.Cx) int { return 0 })
	require.Error(t, err)
}

func TestSpawnTaskPanicSurfaces(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := Spawn(rt, func(cx *task.Cx) int {
		panic("boom")
	})
	require.NoError(t, err)

	res := awaitHandle(t, h, time.Second)
	require.Error(t, res.Err)
}

func TestSpawnCancellable(t *testing.T) {
	rt := newTestRuntime(t)

	h, tok, err := SpawnCancellable(rt, func(cx *task.Cx) int {
		for !cx.Cancelled() {
			cx.Suspend()
		}
		return -1
	})
	require.NoError(t, err)
	require.NotNil(t, tok)

	h.RequestCancel()
	rt.Cancel(h.ID())

	res := awaitHandle(t, h, time.Second)
	require.Error(t, res.Err)
}

// TestCrossReactorLatency covers the §8 "cross-reactor latency"
// scenario: a task resident on reactor 0 spawns a task onto reactor 1
// and awaits its JoinHandle, crossing reactors entirely through the
// runtime's public Spawn surface rather than any shared memory.
func TestCrossReactorLatency(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := SpawnOn(rt, 0, func(cx *task.Cx) int {
		start := time.Now()
		inner, err := SpawnOn(rt, 1, func(innerCx *task.Cx) int {
			return 99
		})
		if err != nil {
			panic(err)
		}
		res := task.AwaitHandle(cx, inner)
		if res.Err != nil {
			panic(res.Err)
		}
		if time.Since(start) > time.Second {
			panic("cross-reactor spawn took implausibly long")
		}
		return res.Value
	})
	require.NoError(t, err)
	require.Equal(t, 0, h.ID().ReactorIndex())

	res := awaitHandle(t, h, time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, 99, res.Value)
}

func TestShutdownIsIdempotent(t *testing.T) {
	rt, err := New(WithReactors(2), WithBackend(BackendMem), WithCPUAffinity(false))
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown())
	require.Equal(t, "Terminated", rt.State())

	// A second Shutdown call must be a safe no-op.
	require.NoError(t, rt.Shutdown())
	require.Equal(t, "Terminated", rt.State())
}

func TestSpawnAfterShutdownFails(t *testing.T) {
	rt, err := New(WithReactors(1), WithBackend(BackendMem), WithCPUAffinity(false))
	require.NoError(t, err)
	require.NoError(t, rt.Shutdown())

	_, err = Spawn(rt, func(cx *task.Cx) int { return 1 })
	require.Error(t, err)
}

func TestBufferPoolPerReactor(t *testing.T) {
	rt := newTestRuntime(t, WithBufferPool(4096, 8192))

	p0 := rt.BufferPool(0)
	p1 := rt.BufferPool(1)
	require.NotNil(t, p0)
	require.NotNil(t, p1)
	require.NotSame(t, p0, p1, "each reactor must own a distinct buffer pool")

	buf := p0.Get(2048)
	require.Equal(t, 2048, buf.Len())
	buf.Recycle()
}

func TestBlockOnResolvesFuture(t *testing.T) {
	rt := newTestRuntime(t)

	fut, prom := future.New[int]()
	h, err := Spawn(rt, func(cx *task.Cx) int {
		prom.Complete(7)
		return 7
	})
	require.NoError(t, err)
	require.Equal(t, 7, BlockOn(fut))

	res := awaitHandle(t, h, time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, 7, res.Value)
}
