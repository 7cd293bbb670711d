package waker

import (
	"sync"
	"testing"
)

func TestNewTaskIdUniqueness(t *testing.T) {
	seen := make(map[TaskId]bool)
	for i := 0; i < 1000; i++ {
		id := NewTaskId(i % 4)
		if seen[id] {
			t.Fatalf("duplicate TaskId generated: %v", id)
		}
		seen[id] = true
	}
}

func TestTaskIdReactorIndex(t *testing.T) {
	id := NewTaskId(7)
	if got := id.ReactorIndex(); got != 7 {
		t.Errorf("ReactorIndex() = %d, want 7", got)
	}
}

func TestReadySetPushPop(t *testing.T) {
	rs := NewReadySet()
	if _, ok := rs.Pop(); ok {
		t.Fatal("expected empty ready set to return ok=false")
	}

	id1 := NewTaskId(0)
	id2 := NewTaskId(0)
	rs.Push(id1)
	rs.Push(id2)

	got1, ok := rs.Pop()
	if !ok || got1 != id1 {
		t.Errorf("expected first pop to return id1, got %v, %v", got1, ok)
	}
	got2, ok := rs.Pop()
	if !ok || got2 != id2 {
		t.Errorf("expected second pop to return id2, got %v, %v", got2, ok)
	}
}

func TestReadySetDuplicateEnqueueTolerated(t *testing.T) {
	rs := NewReadySet()
	id := NewTaskId(0)
	rs.Push(id)
	rs.Push(id)
	if rs.Len() != 2 {
		t.Fatalf("expected duplicate pushes to both be retained, got len=%d", rs.Len())
	}
}

func TestWakerWakesIntoOwningReadySet(t *testing.T) {
	rs := NewReadySet()
	id := NewTaskId(0)
	w := New(rs, id)

	w.Wake()
	got, ok := rs.Pop()
	if !ok || got != id {
		t.Fatalf("expected waked task to appear in ready set, got %v, %v", got, ok)
	}
}

func TestWakerCloneIndependentButSharesTarget(t *testing.T) {
	rs := NewReadySet()
	id := NewTaskId(0)
	w1 := New(rs, id)
	w2 := w1.Clone()

	w1.Wake()
	w2.WakeByRef()

	if rs.Len() != 2 {
		t.Fatalf("expected both the original and the clone to wake the same ready set, got len=%d", rs.Len())
	}
}

func TestCrossGoroutineWake(t *testing.T) {
	rs := NewReadySet()
	id := NewTaskId(0)
	w := New(rs, id)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Wake()
	}()
	wg.Wait()

	if _, ok := rs.Pop(); !ok {
		t.Fatal("expected wake from another goroutine to be observed")
	}
}
