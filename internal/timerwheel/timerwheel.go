// Package timerwheel implements a single-level hashed timer wheel:
// O(1) schedule, O(entries-per-slot) expire, with a bounded
// worst-case slot scan. One wheel is owned by exactly one reactor.
package timerwheel

import (
	"sync/atomic"
	"time"

	"github.com/mireactor/mireactor/internal/waker"
)

// TimerId is an opaque, globally unique timer identifier.
type TimerId uint64

var nextTimerSeq uint64

func newTimerId() TimerId {
	return TimerId(atomic.AddUint64(&nextTimerSeq, 1))
}

type entry struct {
	id     TimerId
	waker  *waker.Waker
	tomb   bool
	// deadlineOffset is the absolute resolution-unit tick this entry is
	// due, independent of which slot it hashes into. A deadline more
	// than numSlots ticks out shares its slot with nearer entries (and,
	// after a full-rotation Expire jump, with entries due on a later
	// lap too); this is what lets drain tell "due now" from "merely
	// parked in the same bucket" instead of firing early.
	deadlineOffset int64
}

// Wheel is a single-level hashed timer wheel. Not safe for concurrent
// use: it is single-owner by contract (its reactor); wakers it hands
// out are themselves safe to invoke from any goroutine because the
// wheel transfers the waker out of its slots before invocation.
type Wheel struct {
	slots       [][]entry
	resolution  time.Duration
	numSlots    int
	currentSlot int
	start       time.Time
	pending     int
	// lastOffset is the absolute resolution-unit offset fully drained
	// through by the most recent Expire call, or -1 before the first
	// call. Progress is measured relative to this, not to wheel start,
	// so a reactor polling faster than one resolution tick neither
	// re-drains a slot it already cleared nor mistakes long uptime for
	// a fresh full rotation.
	lastOffset int64
}

// New constructs a Wheel with numSlots slots of resolution each.
// Defaults used by reactors are 4096 slots at 1ms (see
// internal/rconst.DefaultTimerWheelSlots/Resolution).
func New(numSlots int, resolution time.Duration) *Wheel {
	slots := make([][]entry, numSlots)
	return &Wheel{
		slots:      slots,
		resolution: resolution,
		numSlots:   numSlots,
		start:      time.Now(),
		lastOffset: -1,
	}
}

func (w *Wheel) offsetFor(at time.Time) int64 {
	elapsed := at.Sub(w.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return int64(elapsed / w.resolution)
}

// Schedule registers a waker to fire at deadline, returning a fresh
// TimerId usable with Cancel. No ordering within a slot is guaranteed
// beyond insertion order.
func (w *Wheel) Schedule(deadline time.Time, wk *waker.Waker) TimerId {
	id := newTimerId()
	offset := w.offsetFor(deadline)
	slot := int(offset % int64(w.numSlots))
	w.slots[slot] = append(w.slots[slot], entry{id: id, waker: wk, deadlineOffset: offset})
	w.pending++
	return id
}

// Cancel removes the given timer if present, tombstoning it rather
// than compacting the slice so callers already mid-iteration over
// expire() are unaffected. Returns true if the timer was found.
func (w *Wheel) Cancel(id TimerId) bool {
	for si := range w.slots {
		for i := range w.slots[si] {
			e := &w.slots[si][i]
			if e.id == id && !e.tomb {
				e.tomb = true
				w.pending--
				return true
			}
		}
	}
	return false
}

// Expire advances the wheel's cursor to the tick corresponding to now,
// draining every slot newly due and appending each live entry's waker
// to out. A call where now hasn't advanced past the last drained tick
// is a no-op. Every visited slot is filtered against each entry's own
// deadlineOffset rather than fired unconditionally: an entry whose
// deadline is still beyond targetOffset (because it shares a slot with
// a nearer entry, or because the gap since the last call spans
// numSlots ticks or more and every slot is visited in one pass) is left
// in place for a later lap instead of firing early, preserving the
// at-most-once/liveness invariants regardless of how far the wheel
// jumps in one call.
func (w *Wheel) Expire(now time.Time, out *[]*waker.Waker) {
	targetOffset := w.offsetFor(now)
	if targetOffset <= w.lastOffset {
		return
	}

	var ticks int64
	if w.lastOffset < 0 {
		// First call: drain every slot from the wheel's zero tick
		// through targetOffset inclusive.
		ticks = targetOffset + 1
	} else {
		ticks = targetOffset - w.lastOffset
	}
	w.lastOffset = targetOffset

	drain := func(idx int) {
		slot := w.slots[idx]
		kept := slot[:0]
		for _, e := range slot {
			if e.tomb {
				continue
			}
			if e.deadlineOffset > targetOffset {
				kept = append(kept, e)
				continue
			}
			*out = append(*out, e.waker)
			w.pending--
		}
		w.slots[idx] = kept
	}

	if ticks >= int64(w.numSlots) {
		ticks = int64(w.numSlots)
	}
	for i := int64(0); i < ticks; i++ {
		drain(w.currentSlot)
		w.currentSlot = (w.currentSlot + 1) % w.numSlots
	}
	// A clamped full-rotation pass leaves the cursor where it started;
	// re-align it so the next call begins at the tick after targetOffset.
	w.currentSlot = int((targetOffset + 1) % int64(w.numSlots))
}

// PendingCount sums the live (non-tombstoned) entries across all slots.
func (w *Wheel) PendingCount() int {
	return w.pending
}
