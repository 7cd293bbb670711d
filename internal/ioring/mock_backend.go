package ioring

import (
	"sync"
	"sync/atomic"
)

// MockBackend is a Backend a test fully controls: Submit records the
// op without performing it, and the test decides when (and with what
// result) each submission completes via CompleteOldest. This
// generalizes the teacher's call-counting MockBackend from a fixed
// ReadAt/WriteAt surface to arbitrary completion-based Op/Completion
// sequencing, for reactor and runtime tests that need deterministic
// control over completion arrival order.
type MockBackend struct {
	mu         sync.Mutex
	pending    []pendingEntry
	queue      []Completion
	submitErr  error // if set, every Submit fails with this error
	closeCalls int
}

type pendingEntry struct {
	token IoToken
	op    Op
}

var nextMockToken uint64

// NewMockBackend constructs an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// FailSubmissions makes every subsequent Submit call return err.
func (m *MockBackend) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

func (m *MockBackend) Submit(op Op) (IoToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return 0, m.submitErr
	}
	token := IoToken(atomic.AddUint64(&nextMockToken, 1))
	m.pending = append(m.pending, pendingEntry{token: token, op: op})
	return token, nil
}

// Pending returns the tokens submitted but not yet completed, in
// submission order, for tests that need to assert on in-flight ops.
func (m *MockBackend) Pending() []IoToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IoToken, len(m.pending))
	for i, p := range m.pending {
		out[i] = p.token
	}
	return out
}

// Complete resolves the given token's submission with result/err,
// making it visible on the next PollComplete call. It panics if token
// was never submitted or already completed — a test bug, not a
// runtime condition.
func (m *MockBackend) Complete(token IoToken, result CompletionKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p.token == token {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.queue = append(m.queue, Completion{Token: token, Op: p.op, Result: result, Err: err})
			return
		}
	}
	panic("ioring: mock completed an unknown or already-completed token")
}

// CompleteOldest completes the oldest still-pending submission, a
// convenience for tests that don't need to target a specific token.
func (m *MockBackend) CompleteOldest(result CompletionKind, err error) (IoToken, bool) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return 0, false
	}
	token := m.pending[0].token
	m.mu.Unlock()
	m.Complete(token, result, err)
	return token, true
}

func (m *MockBackend) PollComplete() []Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	out := m.queue
	m.queue = nil
	return out
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// CloseCalls reports how many times Close was invoked, for tests that
// assert a reactor cleans up its backend exactly once on shutdown.
func (m *MockBackend) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

var _ Backend = (*MockBackend)(nil)
var _ Backend = (*MemBackend)(nil)
