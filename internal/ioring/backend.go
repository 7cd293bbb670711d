// Package ioring defines the pluggable I/O backend contract that every
// reactor drains once per loop iteration, plus the backends that
// implement it: a completion-based ring (internal/uring-derived),
// a readiness-based epoll backend, an in-memory backend for
// deterministic tests, and a mock backend for unit tests that don't
// care about real I/O at all.
//
// Every backend must honor the buffer-lifetime contract: any buffer
// an Op carries by reference is owned by the backend, pinned in its
// pending-operations table, from Submit until the matching Completion
// is drained by PollComplete. Go's garbage collector never relocates
// a live slice's backing array, so storing the slice header itself in
// that table is sufficient — no additional pinning is required.
package ioring

import "fmt"

// IoToken correlates a submitted Op with its eventual Completion.
type IoToken uint64

// OpKind tags the variant carried by an Op.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpFsync
	OpClose
	OpAccept
	OpUdpSend
	OpUdpRecv
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFsync:
		return "fsync"
	case OpClose:
		return "close"
	case OpAccept:
		return "accept"
	case OpUdpSend:
		return "udp_send"
	case OpUdpRecv:
		return "udp_recv"
	default:
		return "unknown"
	}
}

// Op is a tagged submission. Only the fields relevant to Kind are
// meaningful; callers construct one of the op constructors below
// rather than populating Op directly.
type Op struct {
	Kind   OpKind
	Fd     int
	Offset int64
	// Data carries the write payload for OpWrite/OpUdpSend, or the
	// caller-supplied receive buffer for OpRead/OpUdpRecv. The backend
	// takes ownership of this slice for the operation's lifetime.
	Data []byte
	// Addr is the destination for OpUdpSend, or unused otherwise.
	Addr string
}

func ReadOp(fd int, offset int64, buf []byte) Op  { return Op{Kind: OpRead, Fd: fd, Offset: offset, Data: buf} }
func WriteOp(fd int, offset int64, buf []byte) Op { return Op{Kind: OpWrite, Fd: fd, Offset: offset, Data: buf} }
func FsyncOp(fd int) Op                           { return Op{Kind: OpFsync, Fd: fd} }
func CloseOp(fd int) Op                           { return Op{Kind: OpClose, Fd: fd} }
func AcceptOp(fd int) Op                          { return Op{Kind: OpAccept, Fd: fd} }
func UdpSendOp(fd int, addr string, buf []byte) Op {
	return Op{Kind: OpUdpSend, Fd: fd, Addr: addr, Data: buf}
}
func UdpRecvOp(fd int, buf []byte) Op { return Op{Kind: OpUdpRecv, Fd: fd, Data: buf} }

// CompletionKind is the tagged result of a finished Op. Kind (mirroring
// the Op that produced it) selects which fields are meaningful: a read
// sets BytesRead and Data, a UDP receive also sets RecvPeer.
type CompletionKind struct {
	Kind OpKind

	BytesRead    int
	BytesWritten int
	Data         []byte // ownership transfers to the caller

	AcceptFd   int
	AcceptPeer string

	RecvPeer string
}

// Completion is one drained result: the token that correlates it to a
// Submit call, the original Op (so the reactor can route the result
// without its own side table), and the outcome.
type Completion struct {
	Token  IoToken
	Op     Op
	Result CompletionKind
	Err    error
}

// IoError wraps a backend-observed failure, capturing the Op that
// failed for context when practical.
type IoError struct {
	Op  OpKind
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Backend is the contract every completion-based or readiness-based
// I/O implementation exposes to a reactor. A Backend is single-owner:
// exactly one reactor calls Submit/PollComplete/Close on it, never
// concurrently with itself (the reactor loop is the only caller).
type Backend interface {
	// Submit enqueues op and returns immediately with a token that
	// will appear in a later PollComplete result. The backend takes
	// ownership of any buffer op carries until that completion is
	// returned.
	Submit(op Op) (IoToken, error)

	// PollComplete returns completions that are ready right now,
	// without blocking. It is called once per reactor loop iteration;
	// an empty slice means no progress this tick.
	PollComplete() []Completion

	// Close releases backend resources. Pending operations are
	// dropped; a backend is not required to surface errors for ops
	// in flight at Close time.
	Close() error
}
