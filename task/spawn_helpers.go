package task

import (
	"errors"
	"time"

	"github.com/mireactor/mireactor/future"
	"github.com/mireactor/mireactor/internal/ioring"
	"github.com/mireactor/mireactor/internal/timerwheel"
)

// ErrTimeout is returned by Timeout when the deadline elapses before
// the awaited future does.
var ErrTimeout = errors.New("task: timed out")

// Sleep suspends the current task body until d has elapsed, rescheduling
// itself against wheel on every wake until the deadline is actually
// reached (a spurious early wake just re-registers and suspends again).
func Sleep(cx *Cx, wheel *timerwheel.Wheel, d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		wheel.Schedule(end, cx.Waker())
		cx.Suspend()
	}
}

// Await suspends until fut resolves, returning its value. This is the
// general suspension point every I/O operation and JoinHandle
// resolves through.
func Await[T any](cx *Cx, fut *future.Future[T]) T {
	for {
		if v, ok := fut.Poll(cx.Waker()); ok {
			return v
		}
		cx.Suspend()
	}
}

// AwaitHandle suspends until h completes, returning its Result.
func AwaitHandle[T any](cx *Cx, h *JoinHandle[T]) Result[T] {
	for {
		if v, ok := h.Poll(cx.Waker()); ok {
			return v
		}
		cx.Suspend()
	}
}

// AwaitIO submits op to the reactor cx's task is resident on and
// suspends until it completes, returning its Completion. Returns
// immediately with an error if SubmitIO itself fails (no backend
// wired, or the backend rejected the submission) rather than
// suspending on a Future that will never resolve.
func AwaitIO(cx *Cx, op ioring.Op) (ioring.Completion, error) {
	fut, err := cx.SubmitIO(op)
	if err != nil {
		return ioring.Completion{}, err
	}
	return Await(cx, fut), nil
}

// Timeout races fut against a deadline d away. If fut resolves first
// its value is returned with a nil error; if the deadline wins, the
// zero value is returned with ErrTimeout and fut is simply abandoned
// (no longer polled) rather than cancelled out-of-band.
func Timeout[T any](cx *Cx, wheel *timerwheel.Wheel, d time.Duration, fut *future.Future[T]) (T, error) {
	deadline := time.Now().Add(d)
	for {
		if v, ok := fut.Poll(cx.Waker()); ok {
			return v, nil
		}
		if !time.Now().Before(deadline) {
			var zero T
			return zero, ErrTimeout
		}
		wheel.Schedule(deadline, cx.Waker())
		cx.Suspend()
	}
}

// Interval fires on a fixed period, catching up rather than drifting:
// a late Tick call returns immediately and advances by exactly one
// period, so a task body stalled past several periods ticks through
// them back-to-back instead of accumulating phase error.
type Interval struct {
	wheel    *timerwheel.Wheel
	period   time.Duration
	nextTick time.Time
}

// NewInterval constructs an Interval whose first tick is due one
// period from now.
func NewInterval(wheel *timerwheel.Wheel, period time.Duration) *Interval {
	return &Interval{wheel: wheel, period: period, nextTick: time.Now().Add(period)}
}

// Tick suspends until the next period boundary.
func (iv *Interval) Tick(cx *Cx) {
	for {
		now := time.Now()
		if !now.Before(iv.nextTick) {
			iv.nextTick = iv.nextTick.Add(iv.period)
			return
		}
		iv.wheel.Schedule(iv.nextTick, cx.Waker())
		cx.Suspend()
	}
}

// PeriodicBody builds a task body that ticks wheel every period and
// invokes fn after each tick, stopping as soon as the task's
// CancellationToken fires. Pass the result to New (or a runtime's
// SpawnOn) to realize the spawn_periodic pattern. When the task was
// given a token (New with a non-nil tok, or a runtime's
// SpawnCancellable), the JoinHandle's RequestCancel ends the loop at
// the next tick boundary; SpawnOn wires no token, so there
// RequestCancel has no effect and Runtime.Cancel is what stops the task.
func PeriodicBody(wheel *timerwheel.Wheel, period time.Duration, fn func(cx *Cx)) func(cx *Cx) struct{} {
	return func(cx *Cx) struct{} {
		iv := NewInterval(wheel, period)
		for {
			iv.Tick(cx)
			if cx.Cancelled() {
				return struct{}{}
			}
			fn(cx)
		}
	}
}
