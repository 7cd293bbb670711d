// Package future provides the Future[T]/Promise[T] one-shot channel
// every suspension point in this runtime is built on: sleep, timeout,
// I/O-backed operations, and JoinHandle all resolve through a pair.
package future

import (
	"fmt"
	"sync"

	"github.com/mireactor/mireactor/internal/waker"
)

type sharedState[T any] struct {
	mu        sync.Mutex
	completed bool
	result    T
	waker     *waker.Waker
}

// Future is the read side of a Promise/Future pair. Poll is the only
// way to read its value (IsReady only peeks at completion): it returns
// (value, true) once Complete has been
// called, or (zero, false) and records w to be woken later.
type Future[T any] struct {
	shared *sharedState[T]
}

// Promise is the write side of a Promise/Future pair. Complete may be
// called exactly once; a second call panics, matching the one-shot
// invariant in §3.
type Promise[T any] struct {
	shared *sharedState[T]
}

// New constructs a fresh, pending Future/Promise pair.
func New[T any]() (*Future[T], *Promise[T]) {
	shared := &sharedState[T]{}
	return &Future[T]{shared: shared}, &Promise[T]{shared: shared}
}

// IsReady reports completion without consuming or registering a
// waker — a cheap peek used by combinators like timeout.
func (f *Future[T]) IsReady() bool {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	return f.shared.completed
}

// Poll returns the completed value if available. On a pending future
// it stores w so Complete can wake the caller's task later, and
// returns the zero value with ok=false. A task must re-poll after
// being woken; Poll itself never blocks.
func (f *Future[T]) Poll(w *waker.Waker) (T, bool) {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	if f.shared.completed {
		return f.shared.result, true
	}
	f.shared.waker = w
	var zero T
	return zero, false
}

// Complete resolves the future with value, waking whichever waker was
// registered by the last Poll, if any. Dropping a Promise without
// calling Complete leaves the Future permanently pending — a
// deliberate design choice; a cancelled task's JoinHandle resolves
// because task.Task.Cancel completes the Promise with a Cancelled
// error, not because this path resolves on its own.
func (p *Promise[T]) Complete(value T) {
	p.shared.mu.Lock()
	if p.shared.completed {
		p.shared.mu.Unlock()
		panic(fmt.Sprintf("future: Promise[%T] completed twice", value))
	}
	p.shared.completed = true
	p.shared.result = value
	w := p.shared.waker
	p.shared.waker = nil
	p.shared.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}

// IsCompleted reports whether Complete has already been called.
func (p *Promise[T]) IsCompleted() bool {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return p.shared.completed
}
