// Package task implements the suspended-computation primitive a
// reactor polls: Task, its type-erased goroutine-backed execution,
// and the generic JoinHandle[T] that observes its outcome. A task
// suspends only at explicit Cx.Suspend calls made by the helpers in
// spawn_helpers.go (Sleep, Interval, timeout, I/O awaits) — plain Go
// code in between runs to completion exactly as the reactor's
// no-preemption contract requires, because the reactor's poll call
// blocks on the same handshake channel the task body resumes on, so
// only one of the two goroutines is ever actually running.
package task

import (
	"fmt"

	"github.com/mireactor/mireactor/future"
	"github.com/mireactor/mireactor/internal/ioring"
	"github.com/mireactor/mireactor/internal/waker"
	"github.com/mireactor/mireactor/rerr"
)

// IOSubmitter is the reactor-side capability a task body's Cx uses to
// reach the I/O backend it's resident on. internal/reactor's Reactor
// satisfies this directly; passed in at spawn time since Cx itself
// must stay reactor-agnostic.
type IOSubmitter interface {
	SubmitIO(op ioring.Op) (*future.Future[ioring.Completion], error)
}

// TaskError is the failure half of a JoinHandle's result: either the
// task panicked during a poll, or it was cancelled before completing
// normally.
type TaskError struct {
	Panic     any
	Cancelled bool
}

func (e *TaskError) Error() string {
	if e.Cancelled {
		return "task: cancelled"
	}
	return fmt.Sprintf("task: panicked: %v", e.Panic)
}

// Result is what a JoinHandle[T] resolves to: a value on success, or
// Err set to a *TaskError otherwise. Never both.
type Result[T any] struct {
	Value T
	Err   error
}

// Cx is handed to a spawned function body. It is the only suspension
// primitive: every higher-level awaiting helper registers its waker
// with whatever it's waiting on (a timer wheel slot, a Future, an I/O
// backend) and then calls Suspend.
type Cx struct {
	w      *waker.Waker
	resume chan struct{}
	yield  chan struct{}
	cancel *CancellationToken
	io     IOSubmitter
}

// Waker returns this task's waker. Register it with a timer, a
// Future, or an I/O backend before calling Suspend.
func (c *Cx) Waker() *waker.Waker { return c.w }

// Cancelled reports whether this task's CancellationToken has fired.
// Long-running loops should check it after every Suspend.
func (c *Cx) Cancelled() bool {
	return c.cancel != nil && c.cancel.Cancelled()
}

// Suspend hands control back to the polling reactor until the next
// poll call reaches this same point. The caller must already have
// arranged a wake for this return.
func (c *Cx) Suspend() {
	c.yield <- struct{}{}
	<-c.resume
}

// SubmitIO submits op to the reactor this task is resident on,
// returning a Future for its eventual Completion. Returns an error
// synchronously if this task was spawned with no IOSubmitter wired
// (e.g. a pure-compute reactor with BackendNone). Suspend on the
// returned Future via Await, or use AwaitIO for the combined step.
func (c *Cx) SubmitIO(op ioring.Op) (*future.Future[ioring.Completion], error) {
	if c.io == nil {
		return nil, rerr.New("task.submit_io", rerr.KindRuntimeBackendUnavail)
	}
	return c.io.SubmitIO(op)
}

// Task owns exactly one suspended computation. It is polled by
// exactly one reactor and never migrates once created.
type Task struct {
	id     waker.TaskId
	w      *waker.Waker
	cx     *Cx
	resume chan struct{}
	yield  chan struct{}

	finished   bool
	panicked   bool
	panicValue any

	// onPanic and onCancel complete the type-erased Promise backing
	// this task's JoinHandle; they're supplied by New, which is the
	// only place that still knows T.
	onPanic  func(any)
	onCancel func()
}

func newTask(id waker.TaskId, w *waker.Waker, tok *CancellationToken, io IOSubmitter, body func(cx *Cx)) *Task {
	resume := make(chan struct{})
	yield := make(chan struct{})
	cx := &Cx{w: w, resume: resume, yield: yield, cancel: tok, io: io}
	t := &Task{id: id, w: w, cx: cx, resume: resume, yield: yield}
	go t.run(body)
	return t
}

func (t *Task) run(body func(cx *Cx)) {
	<-t.resume
	defer func() {
		if r := recover(); r != nil {
			t.panicked = true
			t.panicValue = r
		}
		t.finished = true
		t.yield <- struct{}{}
	}()
	// A cancel delivered before the body ever runs is the one case this
	// package guarantees deterministically (the rest is cooperative,
	// advisory cancellation a mid-flight body must check for itself via
	// Cx.Cancelled): skip the body entirely rather than let it start
	// work whose result a caller already observed as Cancelled.
	if t.cx.Cancelled() {
		return
	}
	body(t.cx)
}

// ID reports this task's identifier.
func (t *Task) ID() waker.TaskId { return t.id }

// Poll resumes the task's body until its next Suspend or completion.
// Must be wrapped by the caller in its own panic boundary is
// unnecessary: Task.run already recovers a panicking body itself, so
// Poll never panics on the task's behalf.
func (t *Task) Poll() (finished bool) {
	if t.finished {
		return true
	}
	t.resume <- struct{}{}
	<-t.yield
	return t.finished
}

// Panicked reports whether the task's body panicked, and the
// recovered value if so. Only meaningful after Poll returns true.
func (t *Task) Panicked() (any, bool) {
	return t.panicValue, t.panicked
}

// OnFinish lets the reactor complete this task's Promise with a
// Panic(payload) error after a poll reports the body panicked.
// No-op when the task finished normally, since the body already
// completed its own Promise before reaching the deferred recover.
func (t *Task) OnFinish() {
	if t.panicked && t.onPanic != nil {
		t.onPanic(t.panicValue)
	}
}

// Cancel force-completes this task's Promise with a Cancelled error
// and gives its goroutine, if currently blocked in Suspend, one
// chance to observe cancellation and return on its own. It never
// blocks the caller: the handshake that drains the task's own
// completion, if it does resume, happens on a separate goroutine, so
// a task that never checks Cx.Cancelled() leaks only its own already-
// abandoned goroutine, exactly as a table-only removal would.
func (t *Task) Cancel() {
	if t.finished {
		return
	}
	if t.cx.cancel == nil {
		t.cx.cancel = NewCancellationToken()
	}
	t.cx.cancel.Cancel()
	if t.onCancel != nil {
		t.onCancel()
	}
	select {
	case t.resume <- struct{}{}:
		go func() { <-t.yield }()
	default:
	}
}

// New constructs a Task/JoinHandle[T] pair. id and w are assigned by
// the caller (a reactor, via waker.NewTaskId and a Waker bound to its
// own ready set); tok may be nil if the body never checks Cx.Cancelled.
// io may be nil if the body never calls Cx.SubmitIO/AwaitIO.
func New[T any](id waker.TaskId, w *waker.Waker, tok *CancellationToken, io IOSubmitter, body func(cx *Cx) T) (*Task, *JoinHandle[T]) {
	fut, prom := future.New[Result[T]]()
	t := newTask(id, w, tok, io, func(cx *Cx) {
		v := body(cx)
		if !prom.IsCompleted() {
			prom.Complete(Result[T]{Value: v})
		}
	})
	t.onPanic = func(p any) {
		if !prom.IsCompleted() {
			prom.Complete(Result[T]{Err: &TaskError{Panic: p}})
		}
	}
	t.onCancel = func() {
		if !prom.IsCompleted() {
			prom.Complete(Result[T]{Err: &TaskError{Cancelled: true}})
		}
	}
	return t, &JoinHandle[T]{id: id, fut: fut, tok: tok}
}

// JoinHandle observes the outcome of a spawned task. Its lifetime is
// independent of the reactor the task runs on.
type JoinHandle[T any] struct {
	id  waker.TaskId
	fut *future.Future[Result[T]]
	tok *CancellationToken
}

// ID reports the TaskId this handle was created for.
func (h *JoinHandle[T]) ID() waker.TaskId { return h.id }

// Poll checks completion without blocking, registering w to be woken
// if still pending. Used by code composing a JoinHandle into another
// task's suspension chain.
func (h *JoinHandle[T]) Poll(w *waker.Waker) (Result[T], bool) {
	return h.fut.Poll(w)
}

// IsFinished reports completion without registering a waker.
func (h *JoinHandle[T]) IsFinished() bool {
	return h.fut.IsReady()
}

// RequestCancel marks this handle's CancellationToken, if any, as
// cancelled. Advisory only: the runtime's broadcast Cancel message
// (see the runtime package) is what actually force-completes the
// Promise and removes the task from its reactor's table.
func (h *JoinHandle[T]) RequestCancel() {
	if h.tok != nil {
		h.tok.Cancel()
	}
}
