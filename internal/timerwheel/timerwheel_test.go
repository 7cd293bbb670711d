package timerwheel

import (
	"testing"
	"time"

	"github.com/mireactor/mireactor/internal/waker"
)

func testWaker() (*waker.Waker, *waker.ReadySet, waker.TaskId) {
	rs := waker.NewReadySet()
	id := waker.NewTaskId(0)
	return waker.New(rs, id), rs, id
}

func TestWheelCreation(t *testing.T) {
	w := New(64, 10*time.Millisecond)
	if w.PendingCount() != 0 {
		t.Errorf("expected empty wheel, got pending=%d", w.PendingCount())
	}
}

func TestScheduleIncrementsPending(t *testing.T) {
	w := New(64, time.Millisecond)
	wk1, _, _ := testWaker()
	wk2, _, _ := testWaker()
	now := time.Now()

	id1 := w.Schedule(now.Add(50*time.Millisecond), wk1)
	if w.PendingCount() != 1 {
		t.Fatalf("expected pending=1, got %d", w.PendingCount())
	}
	id2 := w.Schedule(now.Add(60*time.Millisecond), wk2)
	if w.PendingCount() != 2 {
		t.Fatalf("expected pending=2, got %d", w.PendingCount())
	}
	if id1 == id2 {
		t.Error("expected distinct TimerIds")
	}
}

func TestCancel(t *testing.T) {
	w := New(64, time.Millisecond)
	wk, _, _ := testWaker()
	now := time.Now()
	id := w.Schedule(now.Add(50*time.Millisecond), wk)

	if !w.Cancel(id) {
		t.Fatal("expected cancel to find the timer")
	}
	if w.PendingCount() != 0 {
		t.Fatalf("expected pending=0 after cancel, got %d", w.PendingCount())
	}
	if w.Cancel(id) {
		t.Error("expected second cancel of the same id to return false")
	}
}

func TestExpireFiresAtMostOnce(t *testing.T) {
	w := New(64, time.Millisecond)
	wk, rs, id := testWaker()
	now := time.Now()
	w.Schedule(now, wk)

	var ready []*waker.Waker
	w.Expire(now.Add(5*time.Millisecond), &ready)
	if len(ready) != 1 {
		t.Fatalf("expected exactly one waker to fire, got %d", len(ready))
	}
	ready[0].Wake()
	if _, ok := rs.Pop(); !ok {
		t.Fatalf("expected waked task %v to land in ready set", id)
	}

	// Expiring again must not fire it a second time.
	ready = ready[:0]
	w.Expire(now.Add(10*time.Millisecond), &ready)
	if len(ready) != 0 {
		t.Fatalf("expected the already-fired timer to not fire again, got %d wakers", len(ready))
	}
}

func TestCancelledTimerDoesNotFire(t *testing.T) {
	w := New(64, time.Millisecond)
	wk, rs, _ := testWaker()
	now := time.Now()
	id := w.Schedule(now.Add(5*time.Millisecond), wk)
	w.Cancel(id)

	var ready []*waker.Waker
	w.Expire(now.Add(20*time.Millisecond), &ready)
	if len(ready) != 0 {
		t.Fatalf("expected cancelled timer to not fire, got %d wakers", len(ready))
	}
	if rs.Len() != 0 {
		t.Fatalf("expected ready set to remain empty, got len=%d", rs.Len())
	}
}

func TestWheelWrapAround(t *testing.T) {
	// 4-slot, 1ms wheel; schedule 8 timers at now+1..=now+8; expiring at
	// now+20 must return all 8 wakers (matches the distilled spec's
	// "Timer wheel wrap" scenario).
	w := New(4, time.Millisecond)
	now := time.Now()

	var wakers []*waker.Waker
	readySets := make([]*waker.ReadySet, 8)
	for i := 0; i < 8; i++ {
		wk, rs, _ := testWaker()
		wakers = append(wakers, wk)
		readySets[i] = rs
		w.Schedule(now.Add(time.Duration(i+1)*time.Millisecond), wk)
	}
	if w.PendingCount() != 8 {
		t.Fatalf("expected 8 pending timers, got %d", w.PendingCount())
	}

	var ready []*waker.Waker
	w.Expire(now.Add(20*time.Millisecond), &ready)
	if len(ready) != 8 {
		t.Fatalf("expected all 8 wakers to fire on wrap-around expire, got %d", len(ready))
	}
	if w.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after full-rotation expire, got %d", w.PendingCount())
	}
}

func TestLivenessEntryBeyondHorizonDoesNotFireEarlyOnFullRotationJump(t *testing.T) {
	// 4-slot, 1ms wheel: a 4ms horizon. A timer 10ms out shares a slot
	// with a timer due now; a single Expire call that jumps the gap by
	// numSlots ticks or more must still leave the far timer pending
	// rather than firing it early just because its slot got visited.
	w := New(4, time.Millisecond)
	now := time.Now()

	nearWk, nearRS, _ := testWaker()
	w.Schedule(now, nearWk) // offset 0, slot 0

	farWk, farRS, _ := testWaker()
	w.Schedule(now.Add(10*time.Millisecond), farWk) // offset 10, slot 2

	var ready []*waker.Waker
	w.Expire(now.Add(4*time.Millisecond), &ready)
	if len(ready) != 1 {
		t.Fatalf("expected only the near timer to fire on the horizon-spanning jump, got %d", len(ready))
	}
	ready[0].Wake()
	if _, ok := nearRS.Pop(); !ok {
		t.Fatal("expected the near timer's waker to be woken")
	}
	if farRS.Len() != 0 {
		t.Fatal("expected the far timer to remain unfired beyond its horizon")
	}
	if w.PendingCount() != 1 {
		t.Fatalf("expected the far timer to remain pending, got %d", w.PendingCount())
	}

	ready = ready[:0]
	w.Expire(now.Add(10*time.Millisecond), &ready)
	if len(ready) != 1 {
		t.Fatalf("expected the far timer to fire once its own deadline is reached, got %d", len(ready))
	}
	if w.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after the far timer fires, got %d", w.PendingCount())
	}
}

func TestLivenessFirstExpireAtOrAfterDeadlineFires(t *testing.T) {
	w := New(64, time.Millisecond)
	wk, _, _ := testWaker()
	now := time.Now()
	at := now.Add(30 * time.Millisecond)
	w.Schedule(at, wk)

	var ready []*waker.Waker
	w.Expire(now.Add(10*time.Millisecond), &ready) // before deadline
	if len(ready) != 0 {
		t.Fatalf("expected no fire before deadline, got %d", len(ready))
	}
	w.Expire(at, &ready) // at deadline
	if len(ready) != 1 {
		t.Fatalf("expected exactly one fire at deadline, got %d", len(ready))
	}
}
