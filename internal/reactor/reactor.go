// Package reactor implements the per-CPU event loop: one bounded pass
// over its inbox, timer wheel, ready task table, and I/O backend per
// iteration, parking briefly when none of the four make progress.
// Exactly one goroutine ever calls Run for a given Reactor, and that
// goroutine is the only caller of its timer wheel and I/O backend —
// both of which are documented single-owner types.
package reactor

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mireactor/mireactor/future"
	"github.com/mireactor/mireactor/internal/bufpool"
	"github.com/mireactor/mireactor/internal/ioring"
	"github.com/mireactor/mireactor/internal/logging"
	"github.com/mireactor/mireactor/internal/rconst"
	"github.com/mireactor/mireactor/internal/timerwheel"
	"github.com/mireactor/mireactor/internal/waker"
	"github.com/mireactor/mireactor/rerr"
	"github.com/mireactor/mireactor/task"
)

// MessageKind tags the variant carried by a Message.
type MessageKind int

const (
	MsgSubmitTask MessageKind = iota
	MsgCancel
	MsgPing
	MsgShutdown
)

// Message is one inbox entry. Only the fields relevant to Kind are
// meaningful.
type Message struct {
	Kind MessageKind
	Task *task.Task   // MsgSubmitTask
	ID   waker.TaskId // MsgCancel
	From int          // MsgPing: originating reactor index, for liveness logging only
}

// Observer receives scheduler events as they occur. A nil Observer is
// always safe to call through; every call site guards it.
type Observer interface {
	TaskSpawned()
	// TaskCompleted and TaskPanicked report the wall-clock nanoseconds
	// between submission and this poll resolving the task, for the
	// latency histogram in package metrics.
	TaskCompleted(latencyNs uint64)
	TaskPanicked(latencyNs uint64)
	TimerFired(n int)
	IOCompleted(n int)
	ReadySetDepth(n int)
}

// Config configures a Reactor at construction time.
type Config struct {
	Idx             int
	CPU             int // < 0 means no affinity pinning
	InboxCapacity   int
	WheelSlots      int
	WheelResolution time.Duration
	Backend         ioring.Backend // nil is permitted for pure-compute reactors
	BufferPool      *bufpool.Pool  // nil constructs a default-bucketed pool
	Logger          logging.Logger
	Observer        Observer
}

// Reactor drives one bounded loop over its own inbox, timer wheel,
// task table, and I/O backend. Nothing here is shared with another
// Reactor except through the channels the runtime wires between them.
type Reactor struct {
	idx     int
	cpu     int
	inbox   chan Message
	ready   *waker.ReadySet
	wheel   *timerwheel.Wheel
	backend ioring.Backend
	pool    *bufpool.Pool
	logger  logging.Logger
	obs     Observer

	tasks     map[waker.TaskId]*taskEntry
	ioPending map[ioring.IoToken]*future.Promise[ioring.Completion]

	shuttingDown bool
}

// taskEntry pairs a resident task with the time it was submitted, so
// TaskCompleted/TaskPanicked can report a latency to the Observer.
type taskEntry struct {
	t         *task.Task
	submitted time.Time
}

// New constructs a Reactor. Run must be called (typically in its own
// goroutine) to actually drive it.
func New(cfg Config) *Reactor {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = rconst.DefaultInboxCapacity
	}
	if cfg.WheelSlots <= 0 {
		cfg.WheelSlots = rconst.DefaultTimerWheelSlots
	}
	if cfg.WheelResolution <= 0 {
		cfg.WheelResolution = rconst.DefaultTimerWheelResolution
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	pool := cfg.BufferPool
	if pool == nil {
		pool = bufpool.New()
	}
	return &Reactor{
		idx:       cfg.Idx,
		cpu:       cfg.CPU,
		inbox:     make(chan Message, cfg.InboxCapacity),
		ready:     waker.NewReadySet(),
		wheel:     timerwheel.New(cfg.WheelSlots, cfg.WheelResolution),
		backend:   cfg.Backend,
		pool:      pool,
		logger:    logger.With("reactor", cfg.Idx),
		obs:       cfg.Observer,
		tasks:     make(map[waker.TaskId]*taskEntry),
		ioPending: make(map[ioring.IoToken]*future.Promise[ioring.Completion]),
	}
}

// Idx reports this reactor's index within its runtime.
func (re *Reactor) Idx() int { return re.idx }

// ReadySet exposes the ready set a caller needs to mint a Waker bound
// to this reactor (e.g. the runtime constructing a task's initial
// Waker before submitting it).
func (re *Reactor) ReadySet() *waker.ReadySet { return re.ready }

// Wheel exposes the timer wheel a task body spawned on this reactor
// uses directly for Sleep/Interval/Timeout — safe to call only from
// that task's own body, per the single-active-goroutine handshake
// Task.Poll/Cx.Suspend maintain (see package task's doc comment).
func (re *Reactor) Wheel() *timerwheel.Wheel { return re.wheel }

// Pool exposes this reactor's buffer pool. Buffers obtained from it
// must never be handed to another reactor's backend (§5 resource
// policy: buffers never cross reactors).
func (re *Reactor) Pool() *bufpool.Pool { return re.pool }

// Send enqueues msg without blocking, returning rerr.ErrChannelFull if
// the inbox is at capacity rather than applying backpressure by
// blocking the caller.
func (re *Reactor) Send(msg Message) error {
	select {
	case re.inbox <- msg:
		return nil
	default:
		return rerr.ErrChannelFull
	}
}

// SubmitIO submits op to this reactor's backend and returns a Future
// that resolves with the eventual Completion. Like Wheel, it is only
// safe to call from this reactor's own Run goroutine or from a task
// body spawned on it (exercising the same handshake guarantee).
func (re *Reactor) SubmitIO(op ioring.Op) (*future.Future[ioring.Completion], error) {
	if re.backend == nil {
		return nil, rerr.ErrBackendUnavailable
	}
	token, err := re.backend.Submit(op)
	if err != nil {
		return nil, rerr.WrapIO("reactor.submit_io", err)
	}
	fut, prom := future.New[ioring.Completion]()
	re.ioPending[token] = prom
	return fut, nil
}

// Run drives the reactor loop until ctx is cancelled or a Shutdown
// message is observed. It pins the calling goroutine's OS thread for
// the duration (best-effort CPU affinity is never fatal on failure)
// and must be called from a goroutine dedicated to this reactor.
func (re *Reactor) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if re.cpu >= 0 {
		var mask unix.CPUSet
		mask.Set(re.cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			re.logger.Warn("failed to set CPU affinity", "cpu", re.cpu, "err", err)
		} else {
			re.logger.Debug("pinned to CPU", "cpu", re.cpu)
		}
	}
	re.logger.Debug("reactor started")
	defer re.logger.Debug("reactor stopped")

	for {
		drainedInbox := re.drainInbox()
		if re.shuttingDown {
			return
		}
		timerProgress := re.expireTimers()
		taskProgress := re.runReadyTasks()
		ioProgress := re.drainIO()

		if re.obs != nil {
			re.obs.ReadySetDepth(re.ready.Len())
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if drainedInbox || timerProgress || taskProgress || ioProgress {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-re.ready.WaitChan():
		case <-time.After(rconst.ParkInterval):
		}
	}
}

func (re *Reactor) drainInbox() bool {
	progress := false
	for i := 0; i < rconst.InboxDrainBatch; i++ {
		select {
		case msg := <-re.inbox:
			progress = true
			re.handleMessage(msg)
		default:
			return progress
		}
	}
	return progress
}

func (re *Reactor) handleMessage(msg Message) {
	switch msg.Kind {
	case MsgSubmitTask:
		re.tasks[msg.Task.ID()] = &taskEntry{t: msg.Task, submitted: time.Now()}
		re.ready.Push(msg.Task.ID())
		if re.obs != nil {
			re.obs.TaskSpawned()
		}
	case MsgCancel:
		if entry, ok := re.tasks[msg.ID]; ok {
			entry.t.Cancel()
			delete(re.tasks, msg.ID)
		}
	case MsgPing:
		re.logger.Debug("ping received", "from", msg.From)
	case MsgShutdown:
		re.shuttingDown = true
	}
}

func (re *Reactor) expireTimers() bool {
	var fired []*waker.Waker
	re.wheel.Expire(time.Now(), &fired)
	for _, w := range fired {
		w.Wake()
	}
	if len(fired) > 0 && re.obs != nil {
		re.obs.TimerFired(len(fired))
	}
	return len(fired) > 0
}

func (re *Reactor) runReadyTasks() bool {
	progress := false
	for i := 0; i < rconst.TaskPollBatch; i++ {
		id, ok := re.ready.Pop()
		if !ok {
			break
		}
		progress = true
		entry, ok := re.tasks[id]
		if !ok {
			continue // stale wake: task already gone
		}
		if !entry.t.Poll() {
			continue
		}
		entry.t.OnFinish()
		delete(re.tasks, id)
		if re.obs == nil {
			continue
		}
		latencyNs := uint64(time.Since(entry.submitted).Nanoseconds())
		if _, panicked := entry.t.Panicked(); panicked {
			re.obs.TaskPanicked(latencyNs)
		} else {
			re.obs.TaskCompleted(latencyNs)
		}
	}
	return progress
}

func (re *Reactor) drainIO() bool {
	if re.backend == nil {
		return false
	}
	completions := re.backend.PollComplete()
	for _, c := range completions {
		prom, ok := re.ioPending[c.Token]
		if !ok {
			continue
		}
		delete(re.ioPending, c.Token)
		prom.Complete(c)
	}
	if len(completions) > 0 && re.obs != nil {
		re.obs.IOCompleted(len(completions))
	}
	return len(completions) > 0
}

// TaskCount reports the number of tasks currently resident in this
// reactor's table, for tests and metrics.
func (re *Reactor) TaskCount() int { return len(re.tasks) }
