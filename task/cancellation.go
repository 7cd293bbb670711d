package task

import "sync/atomic"

// CancellationToken signals cooperative cancellation to a task body.
// A token is safe to share across goroutines; Cancel is idempotent
// and Cancelled may be polled from anywhere, including outside the
// reactor that owns the task.
type CancellationToken struct {
	cancelled atomic.Bool
}

// NewCancellationToken returns a token in the not-cancelled state.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel requests cancellation. Safe to call more than once.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool {
	return t.cancelled.Load()
}
