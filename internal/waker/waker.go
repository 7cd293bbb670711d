// Package waker provides TaskId, the per-reactor ready set, and the
// Waker handle that reschedules a task onto its reactor's ready set
// from any goroutine.
package waker

import (
	"sync"
	"sync/atomic"
)

// TaskId is an opaque, globally unique, monotonically increasing task
// identifier. The high 32 bits may encode the owning reactor's index
// as a debug aid only; correctness never relies on that encoding.
type TaskId uint64

var nextTaskSeq uint64

// NewTaskId allocates a fresh TaskId, stamping reactorIdx into the
// high bits.
func NewTaskId(reactorIdx int) TaskId {
	seq := atomic.AddUint64(&nextTaskSeq, 1)
	return TaskId(uint64(uint32(reactorIdx))<<32 | (seq & 0xffffffff))
}

// ReactorIndex extracts the debug-only reactor index stamped into a
// TaskId by NewTaskId.
func (t TaskId) ReactorIndex() int {
	return int(uint32(t >> 32))
}

// ReadySet is the MPSC queue of TaskIds owned by exactly one reactor:
// only that reactor pops (via Pop), while any goroutine may push (via
// Push), including wakers firing from I/O completion handling or from
// another reactor. Duplicate entries are tolerated by design — the
// owning reactor discards a popped id it no longer has a task for.
type ReadySet struct {
	mu    sync.Mutex
	items []TaskId
	// signal is a best-effort wake-up channel so a parked reactor can
	// be woken promptly instead of waiting out its park interval.
	signal chan struct{}
}

// NewReadySet constructs an empty ReadySet.
func NewReadySet() *ReadySet {
	return &ReadySet{signal: make(chan struct{}, 1)}
}

// Push enqueues id. Safe to call from any goroutine.
func (r *ReadySet) Push(id TaskId) {
	r.mu.Lock()
	r.items = append(r.items, id)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest entry, or (0, false) if empty.
// Only the owning reactor should call Pop.
func (r *ReadySet) Pop() (TaskId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return 0, false
	}
	id := r.items[0]
	r.items = r.items[1:]
	return id, true
}

// Len reports the current queue depth, for metrics.
func (r *ReadySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// WaitChan exposes the wake-up signal channel for a reactor's park
// step: receiving from it (with a timeout) wakes promptly on Push
// instead of always waiting the full park interval.
func (r *ReadySet) WaitChan() <-chan struct{} {
	return r.signal
}

// Waker reschedules a specific TaskId onto a specific reactor's ready
// set. It holds a shared reference to the target ReadySet and is safe
// to clone (copy) and to invoke from any goroutine, including other
// reactors' loops and I/O completion handling.
type Waker struct {
	set *ReadySet
	id  TaskId
}

// New constructs a Waker bound to one reactor's ready set and one
// task. The spawner builds one Waker per task when the task is
// submitted; the task keeps it and reuses it for every poll.
func New(set *ReadySet, id TaskId) *Waker {
	return &Waker{set: set, id: id}
}

// Wake and WakeByRef are equivalent in this implementation: Go values
// have no separate consuming-vs-borrowing call forms, so there is no
// analogue to Rust's Waker::wake (by value) vs wake_by_ref (by
// reference) distinction to preserve.
func (w *Waker) Wake()       { w.set.Push(w.id) }
func (w *Waker) WakeByRef()  { w.set.Push(w.id) }

// Clone returns an independent Waker referring to the same (set, id)
// pair. Since Waker holds no per-instance mutable state, this is
// simply a value copy — unlike Rust's RawWaker vtable dance, Go's
// garbage collector and value semantics make manual refcounting
// unnecessary here.
func (w *Waker) Clone() *Waker {
	return &Waker{set: w.set, id: w.id}
}

// TaskId reports which task this waker reschedules.
func (w *Waker) TaskId() TaskId { return w.id }
