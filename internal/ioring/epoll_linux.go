//go:build linux

package ioring

import (
	"fmt"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mireactor/mireactor/internal/logging"
)

// EpollBackend is the readiness-based I/O backend: submit registers
// interest with epoll and returns immediately; PollComplete drains
// ready events non-blockingly, performs the actual syscall once the
// fd is known ready, and returns the result. Single-owner by contract
// (only the reactor that created it ever calls Submit/PollComplete),
// so its pending-operations table needs no internal locking — the
// resolution SPEC_FULL settled on for this component, matching
// §5's "no locks on hot paths inside a reactor" resource policy.
type EpollBackend struct {
	epfd    int
	pending map[int32]pendingEpollOp // fd -> op, one in flight per fd
	tokenOf map[int32]IoToken
	ready   []Completion
	log     logging.Logger
}

type pendingEpollOp struct {
	token IoToken
	op    Op
}

var nextEpollToken uint64

// NewEpollBackend opens a fresh epoll instance for one reactor. The
// runtime constructs one per reactor in New, before that reactor's
// loop starts; the instance is then used only by that reactor, matching
// the teacher's per-thread poll instance design.
func NewEpollBackend() (*EpollBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &IoError{Err: fmt.Errorf("epoll_create1: %w", err)}
	}
	return &EpollBackend{
		epfd:    fd,
		pending: make(map[int32]pendingEpollOp),
		tokenOf: make(map[int32]IoToken),
		log:     logging.Default(),
	}, nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func (b *EpollBackend) Submit(op Op) (IoToken, error) {
	token := IoToken(atomic.AddUint64(&nextEpollToken, 1))

	switch op.Kind {
	case OpFsync:
		err := unix.Fsync(op.Fd)
		var ioErr error
		if err != nil {
			ioErr = &IoError{Op: OpFsync, Err: err}
		}
		b.ready = append(b.ready, Completion{Token: token, Op: op, Result: CompletionKind{Kind: OpFsync}, Err: ioErr})
		return token, nil

	case OpClose:
		err := unix.Close(op.Fd)
		var ioErr error
		if err != nil {
			ioErr = &IoError{Op: OpClose, Err: err}
		}
		b.ready = append(b.ready, Completion{Token: token, Op: op, Result: CompletionKind{Kind: OpClose}, Err: ioErr})
		return token, nil

	case OpRead, OpWrite, OpAccept, OpUdpRecv:
		if err := setNonblocking(op.Fd); err != nil {
			return 0, &IoError{Op: op.Kind, Err: fmt.Errorf("set nonblocking: %w", err)}
		}
		events := uint32(unix.EPOLLIN)
		if op.Kind == OpWrite {
			events = unix.EPOLLOUT
		}
		ev := unix.EpollEvent{Events: events, Fd: int32(op.Fd)}
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, op.Fd, &ev); err != nil {
			return 0, &IoError{Op: op.Kind, Err: fmt.Errorf("epoll_ctl add: %w", err)}
		}
		b.pending[int32(op.Fd)] = pendingEpollOp{token: token, op: op}
		b.tokenOf[int32(op.Fd)] = token
		return token, nil

	case OpUdpSend:
		// UDP sends rarely block; attempt immediately and surface the
		// result as a completion on the next poll, matching the
		// backend-agnostic submit/poll_complete contract even though
		// no registration was needed.
		n, err := unix.Write(op.Fd, op.Data)
		var ioErr error
		if err != nil {
			ioErr = &IoError{Op: OpUdpSend, Err: err}
		}
		b.ready = append(b.ready, Completion{Token: token, Op: op, Result: CompletionKind{Kind: OpUdpSend, BytesWritten: n}, Err: ioErr})
		return token, nil

	default:
		return 0, &IoError{Op: op.Kind, Err: fmt.Errorf("epoll: unsupported op")}
	}
}

// PollComplete drains ready epoll events without blocking (zero
// timeout), performs the now-ready syscall for each, and returns any
// already-queued synchronous completions (fsync/close/udp_send) too.
func (b *EpollBackend) PollComplete() []Completion {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(b.epfd, events[:], 0)
	if err != nil && err != unix.EINTR {
		b.log.Warn("epoll_wait failed", "error", err)
	}

	for i := 0; i < n; i++ {
		fd := events[i].Fd
		entry, ok := b.pending[fd]
		if !ok {
			continue
		}
		delete(b.pending, fd)
		delete(b.tokenOf, fd)
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)

		result, err := b.perform(entry.op, events[i].Events)
		var ioErr error
		if err != nil {
			ioErr = &IoError{Op: entry.op.Kind, Err: err}
		}
		b.ready = append(b.ready, Completion{Token: entry.token, Op: entry.op, Result: result, Err: ioErr})
	}

	if len(b.ready) == 0 {
		return nil
	}
	out := b.ready
	b.ready = nil
	return out
}

// perform executes the actual syscall once epoll has confirmed
// readiness, translating the result into a CompletionKind — the
// readiness-mode half of the "submit sets non-blocking, registers,
// then performs the syscall on event" sequence.
func (b *EpollBackend) perform(op Op, mask uint32) (CompletionKind, error) {
	switch op.Kind {
	case OpRead:
		if mask&unix.EPOLLIN == 0 {
			return CompletionKind{}, fmt.Errorf("expected readable event for read")
		}
		n, err := syscall.Pread(op.Fd, op.Data, op.Offset)
		if err != nil {
			return CompletionKind{}, err
		}
		return CompletionKind{Kind: OpRead, BytesRead: n, Data: op.Data[:n]}, nil

	case OpWrite:
		if mask&unix.EPOLLOUT == 0 {
			return CompletionKind{}, fmt.Errorf("expected writable event for write")
		}
		n, err := syscall.Pwrite(op.Fd, op.Data, op.Offset)
		if err != nil {
			return CompletionKind{}, err
		}
		return CompletionKind{Kind: OpWrite, BytesWritten: n}, nil

	case OpAccept:
		connFd, sa, err := unix.Accept(op.Fd)
		if err != nil {
			return CompletionKind{}, err
		}
		return CompletionKind{Kind: OpAccept, AcceptFd: connFd, AcceptPeer: peerString(sa)}, nil

	case OpUdpRecv:
		n, sa, err := unix.Recvfrom(op.Fd, op.Data, 0)
		if err != nil {
			return CompletionKind{}, err
		}
		return CompletionKind{Kind: OpUdpRecv, BytesRead: n, Data: op.Data[:n], RecvPeer: peerString(sa)}, nil

	default:
		return CompletionKind{}, fmt.Errorf("epoll: no performer for %s", op.Kind)
	}
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return ""
	}
}

func (b *EpollBackend) Close() error {
	return unix.Close(b.epfd)
}

var _ Backend = (*EpollBackend)(nil)
