// Package mireactor provides the main API for building a thread-per-core
// asynchronous runtime: a fixed pool of reactors, each driving its own
// cooperative task scheduler, timer wheel, and I/O backend over a
// private inbox.
package mireactor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mireactor/mireactor/future"
	"github.com/mireactor/mireactor/internal/bufpool"
	"github.com/mireactor/mireactor/internal/ioring"
	"github.com/mireactor/mireactor/internal/logging"
	"github.com/mireactor/mireactor/internal/reactor"
	"github.com/mireactor/mireactor/internal/rconst"
	"github.com/mireactor/mireactor/internal/timerwheel"
	"github.com/mireactor/mireactor/internal/waker"
	"github.com/mireactor/mireactor/rerr"
	"github.com/mireactor/mireactor/task"
)

// BackendKind selects which I/O backend implementation each reactor
// constructs for itself.
type BackendKind int

const (
	// BackendMem is the deterministic in-memory backend, suited to
	// tests and to workloads with no real file descriptors.
	BackendMem BackendKind = iota
	// BackendMock never performs real I/O; completions are driven
	// entirely by test code.
	BackendMock
	// BackendEpoll is the readiness-based backend (Linux epoll).
	BackendEpoll
	// BackendUring is the completion-based backend (Linux io_uring).
	BackendUring
	// BackendNone constructs reactors with no I/O backend at all —
	// valid for pure-compute workloads (§4.5 permits a nil backend).
	BackendNone
)

// Config configures a Runtime at construction. Build one with
// functional options rather than populating the struct directly, so
// new fields can default safely as the runtime grows.
type Config struct {
	Reactors        int
	InboxCapacity   int
	Backend         BackendKind
	WheelSlots      int
	WheelResolution time.Duration
	BufferPoolSizes []int
	CPUAffinity     bool
	Logger          logging.Logger
	Observer        reactor.Observer
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithReactors sets the number of reactors. n <= 0 is ignored (the
// default of runtime.NumCPU() applies).
func WithReactors(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Reactors = n
		}
	}
}

// WithInboxCapacity sets the bounded capacity of every reactor's inbox.
func WithInboxCapacity(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.InboxCapacity = n
		}
	}
}

// WithBackend selects the I/O backend kind every reactor constructs.
func WithBackend(kind BackendKind) Option {
	return func(c *Config) { c.Backend = kind }
}

// WithTimerWheel sets the per-reactor timer wheel's dimensions.
func WithTimerWheel(slots int, resolution time.Duration) Option {
	return func(c *Config) {
		if slots > 0 {
			c.WheelSlots = slots
		}
		if resolution > 0 {
			c.WheelResolution = resolution
		}
	}
}

// WithBufferPool sets the bucket boundaries every reactor's buffer
// pool is constructed with.
func WithBufferPool(sizes ...int) Option {
	return func(c *Config) {
		if len(sizes) > 0 {
			c.BufferPoolSizes = sizes
		}
	}
}

// WithCPUAffinity toggles best-effort per-reactor CPU pinning.
func WithCPUAffinity(enabled bool) Option {
	return func(c *Config) { c.CPUAffinity = enabled }
}

// WithLogger sets the logger every reactor and the runtime itself log
// through.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithObserver sets the scheduler-event observer every reactor reports
// to (tasks spawned/completed/panicked, timer fires, I/O completions,
// ready-set depth).
func WithObserver(o reactor.Observer) Option {
	return func(c *Config) { c.Observer = o }
}

func defaultConfig() Config {
	return Config{
		Reactors:        runtime.NumCPU(),
		InboxCapacity:   rconst.DefaultInboxCapacity,
		Backend:         BackendMem,
		WheelSlots:      rconst.DefaultTimerWheelSlots,
		WheelResolution: rconst.DefaultTimerWheelResolution,
		BufferPoolSizes: rconst.DefaultBufferBucketSizes,
		CPUAffinity:     true,
	}
}

// fsmState is the runtime's four-state FSM: Initializing -> Running ->
// ShuttingDown -> Terminated. Transitions are one-way.
type fsmState int32

const (
	stateInitializing fsmState = iota
	stateRunning
	stateShuttingDown
	stateTerminated
)

func (s fsmState) String() string {
	switch s {
	case stateInitializing:
		return "Initializing"
	case stateRunning:
		return "Running"
	case stateShuttingDown:
		return "ShuttingDown"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Runtime owns N reactors, each running on its own OS-thread-pinned
// goroutine. Spawn, Cancel, and Shutdown are the only surfaces a
// caller outside a reactor's own task bodies needs.
type Runtime struct {
	cfg      Config
	logger   logging.Logger
	reactors []*reactor.Reactor

	state fsmStateBox
	wg    sync.WaitGroup

	rrNext atomic.Uint64

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// fsmStateBox wraps an atomic.Int32 so Runtime's zero value never
// matters: all construction goes through New.
type fsmStateBox struct{ v atomic.Int32 }

func (b *fsmStateBox) Load() fsmState            { return fsmState(b.v.Load()) }
func (b *fsmStateBox) Store(s fsmState)          { b.v.Store(int32(s)) }
func (b *fsmStateBox) CAS(old, new fsmState) bool {
	return b.v.CompareAndSwap(int32(old), int32(new))
}

// New constructs and starts a Runtime per opts, transitioning
// Initializing -> Running once every reactor's loop goroutine has been
// launched. The returned error is non-nil only if a backend could not
// be constructed for some reactor, per §7's "I/O backend that cannot
// be constructed at reactor start terminates the reactor with a fatal
// error and poisons the runtime's Running state" requirement — checked
// here before any reactor goroutine starts, so no reactor is left
// half-started.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	rt := &Runtime{cfg: cfg, logger: logger}
	rt.reactors = make([]*reactor.Reactor, cfg.Reactors)

	numCPU := runtime.NumCPU()
	for i := 0; i < cfg.Reactors; i++ {
		backend, err := newBackend(cfg.Backend)
		if err != nil {
			return nil, rerr.Wrap("runtime.new", rerr.KindRuntimeBackendUnavail, err)
		}
		cpu := -1
		if cfg.CPUAffinity {
			cpu = i % numCPU
		}
		rt.reactors[i] = reactor.New(reactor.Config{
			Idx:             i,
			CPU:             cpu,
			InboxCapacity:   cfg.InboxCapacity,
			WheelSlots:      cfg.WheelSlots,
			WheelResolution: cfg.WheelResolution,
			Backend:         backend,
			BufferPool:      bufpool.New(cfg.BufferPoolSizes...),
			Logger:          logger,
			Observer:        cfg.Observer,
		})
	}

	rt.shutdownCtx, rt.shutdownCancel = context.WithCancel(context.Background())
	for _, r := range rt.reactors {
		r := r
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			r.Run(rt.shutdownCtx)
		}()
	}

	rt.state.Store(stateRunning)
	runtime.SetFinalizer(rt, finalizeRuntime)
	rt.logger.Info("runtime started", "reactors", cfg.Reactors)
	return rt, nil
}

func newBackend(kind BackendKind) (ioring.Backend, error) {
	switch kind {
	case BackendMem:
		return ioring.NewMemBackend(), nil
	case BackendMock:
		return ioring.NewMockBackend(), nil
	case BackendEpoll:
		return ioring.NewEpollBackend()
	case BackendUring:
		return ioring.NewUringBackend(uint32(rconst.DefaultInboxCapacity))
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("runtime: unknown backend kind %d", kind)
	}
}

// State reports the runtime's current FSM state.
func (rt *Runtime) State() string { return rt.state.Load().String() }

// Reactors reports the number of reactors this runtime drives.
func (rt *Runtime) Reactors() int { return len(rt.reactors) }

// BufferPool exposes the buffer pool owned by the reactor at idx, for
// callers (demonstration code, tests) that need to hand a task's I/O
// operation a pooled buffer from the same reactor it runs on.
func (rt *Runtime) BufferPool(idx int) *bufpool.Pool {
	return rt.reactors[idx].Pool()
}

// Wheel exposes the timer wheel owned by the reactor at idx, for a
// task body to pass to task.Sleep/task.NewInterval/task.Timeout. A
// body spawned via SpawnOn(rt, idx, ...) must use Wheel(idx) with the
// matching idx; Spawn's round-robin placement means the body should
// instead be written to discover its own reactor's wheel rather than
// assume index 0 (see SpawnOn for pinning a task to a known reactor).
func (rt *Runtime) Wheel(idx int) *timerwheel.Wheel {
	return rt.reactors[idx].Wheel()
}

func (rt *Runtime) pickReactor() int {
	n := uint64(len(rt.reactors))
	return int(rt.rrNext.Add(1) % n)
}

// Spawn submits body to a reactor chosen by round-robin, returning a
// JoinHandle that observes its outcome. Fails synchronously with
// ShutdownInProgress if the runtime is not Running.
func Spawn[T any](rt *Runtime, body func(cx *task.Cx) T) (*task.JoinHandle[T], error) {
	return spawnOn(rt, rt.pickReactor(), nil, body)
}

// SpawnOn submits body to the reactor at the given index. Fails
// synchronously with InvalidCpuId if idx is out of range.
func SpawnOn[T any](rt *Runtime, idx int, body func(cx *task.Cx) T) (*task.JoinHandle[T], error) {
	if idx < 0 || idx >= len(rt.reactors) {
		return nil, rerr.New("runtime.spawn_on", rerr.KindRuntimeInvalidCPU)
	}
	return spawnOn(rt, idx, nil, body)
}

// SpawnCancellable is Spawn plus an explicit CancellationToken the
// body may consult via Cx.Cancelled, returning both the JoinHandle and
// the token so the caller can cancel it directly without going
// through Runtime.Cancel's id-based broadcast.
func SpawnCancellable[T any](rt *Runtime, body func(cx *task.Cx) T) (*task.JoinHandle[T], *task.CancellationToken, error) {
	tok := task.NewCancellationToken()
	h, err := spawnOn(rt, rt.pickReactor(), tok, body)
	return h, tok, err
}

func spawnOn[T any](rt *Runtime, idx int, tok *task.CancellationToken, body func(cx *task.Cx) T) (*task.JoinHandle[T], error) {
	if rt.state.Load() != stateRunning {
		return nil, rerr.New("runtime.spawn", rerr.KindRuntimeShuttingDown)
	}
	r := rt.reactors[idx]
	id := waker.NewTaskId(idx)
	w := waker.New(r.ReadySet(), id)
	tk, h := task.New(id, w, tok, r, body)
	if err := r.Send(reactor.Message{Kind: reactor.MsgSubmitTask, Task: tk}); err != nil {
		return nil, err
	}
	return h, nil
}

// Cancel broadcasts a Cancel message for id to every reactor. Each
// reactor removes the task if present; absent elsewhere is a cheap
// no-op (§9's accepted broadcast-cost tradeoff). Best-effort and
// advisory: a task already mid-poll to completion may still finish.
func (rt *Runtime) Cancel(id waker.TaskId) {
	for _, r := range rt.reactors {
		_ = r.Send(reactor.Message{Kind: reactor.MsgCancel, ID: id})
	}
}

// PingAll sends a liveness Ping between every ordered pair of
// reactors, for cross-reactor smoke testing only.
func (rt *Runtime) PingAll() {
	for _, from := range rt.reactors {
		for j, to := range rt.reactors {
			if j == from.Idx() {
				continue
			}
			_ = to.Send(reactor.Message{Kind: reactor.MsgPing, From: from.Idx()})
		}
	}
}

// Shutdown compare-and-sets the runtime to ShuttingDown, posts a
// Shutdown message to every inbox, and waits for every reactor
// goroutine to return before transitioning to Terminated. Idempotent:
// a second call observes the runtime already ShuttingDown or
// Terminated and returns immediately without error.
func (rt *Runtime) Shutdown() error {
	if !rt.state.CAS(stateRunning, stateShuttingDown) {
		return nil // already shutting down or terminated: idempotent no-op
	}
	rt.logger.Info("runtime shutting down")
	for _, r := range rt.reactors {
		_ = r.Send(reactor.Message{Kind: reactor.MsgShutdown})
	}
	rt.wg.Wait()
	rt.shutdownCancel()
	rt.state.Store(stateTerminated)
	runtime.SetFinalizer(rt, nil)
	rt.logger.Info("runtime terminated")
	return nil
}

func finalizeRuntime(rt *Runtime) {
	if rt.state.Load() != stateRunning {
		return
	}
	rt.logger.Warn("runtime dropped while still Running; initiating shutdown from finalizer")
	_ = rt.Shutdown()
}

// BlockOn runs fut to completion on the calling goroutine using a
// simple park/unpark driver distinct from any reactor's loop — the
// caller is not itself a reactor, so it cannot share a reactor's ready
// set.
func BlockOn[T any](fut *future.Future[T]) T {
	rs := waker.NewReadySet()
	w := waker.New(rs, waker.NewTaskId(-1))
	for {
		if v, ok := fut.Poll(w); ok {
			return v
		}
		select {
		case <-rs.WaitChan():
		case <-time.After(rconst.ParkInterval):
		}
	}
}

// BlockOnCPU is BlockOn plus pinning the calling goroutine's OS thread
// to cpu for the duration, via the same best-effort affinity call the
// reactor loop uses. Per §9's recorded decision, it does not route
// execution through the addressed reactor's loop — it only pins the
// calling thread.
func BlockOnCPU[T any](cpu int, fut *future.Future[T]) T {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		logging.Default().Warn("BlockOnCPU: failed to set CPU affinity", "cpu", cpu, "err", err)
	}
	return BlockOn(fut)
}
