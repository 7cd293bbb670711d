package ioring

import (
	"hash/crc32"
	"math/rand"
	"testing"
)

func TestMemBackendWriteThenRead(t *testing.T) {
	b := NewMemBackend()
	fd := b.OpenFile(0)

	payload := []byte("hello reactor")
	if _, err := b.Submit(WriteOp(fd, 0, payload)); err != nil {
		t.Fatalf("submit write: %v", err)
	}
	completions := b.PollComplete()
	if len(completions) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(completions))
	}
	if completions[0].Err != nil {
		t.Fatalf("unexpected write error: %v", completions[0].Err)
	}
	if completions[0].Result.BytesWritten != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), completions[0].Result.BytesWritten)
	}

	buf := make([]byte, len(payload))
	if _, err := b.Submit(ReadOp(fd, 0, buf)); err != nil {
		t.Fatalf("submit read: %v", err)
	}
	completions = b.PollComplete()
	if len(completions) != 1 {
		t.Fatalf("expected 1 read completion, got %d", len(completions))
	}
	if string(completions[0].Result.Data) != string(payload) {
		t.Fatalf("read back %q, want %q", completions[0].Result.Data, payload)
	}
}

// TestMemBackendRoundTripPreservesCRC covers §8 invariant 4 (buffer
// round trip) and invariant 9 (round-trip CRC): 1000 random payloads of
// random size are written then read back through the Submit/PollComplete
// two-phase contract, and the CRC-32 of what comes back must match what
// went in.
func TestMemBackendRoundTripPreservesCRC(t *testing.T) {
	b := NewMemBackend()
	fd := b.OpenFile(0)

	const trials = 1000
	for i := 0; i < trials; i++ {
		payload := make([]byte, rand.Intn(4096)+1)
		rand.Read(payload)
		want := crc32.ChecksumIEEE(payload)

		if _, err := b.Submit(WriteOp(fd, 0, payload)); err != nil {
			t.Fatalf("trial %d: submit write: %v", i, err)
		}
		writes := b.PollComplete()
		if len(writes) != 1 || writes[0].Err != nil {
			t.Fatalf("trial %d: write completion = %+v", i, writes)
		}

		buf := make([]byte, len(payload))
		if _, err := b.Submit(ReadOp(fd, 0, buf)); err != nil {
			t.Fatalf("trial %d: submit read: %v", i, err)
		}
		reads := b.PollComplete()
		if len(reads) != 1 || reads[0].Err != nil {
			t.Fatalf("trial %d: read completion = %+v", i, reads)
		}

		got := crc32.ChecksumIEEE(reads[0].Result.Data)
		if got != want {
			t.Fatalf("trial %d: crc mismatch for %d-byte payload: got %08x, want %08x", i, len(payload), got, want)
		}
	}
}

func TestMemBackendUnknownFd(t *testing.T) {
	b := NewMemBackend()
	buf := make([]byte, 8)
	_, err := b.Submit(ReadOp(999, 0, buf))
	if err == nil {
		t.Fatal("expected error submitting against an unregistered fd")
	}
}

func TestMemBackendPollCompleteDrainsOnce(t *testing.T) {
	b := NewMemBackend()
	fd := b.OpenFile(16)
	if _, err := b.Submit(WriteOp(fd, 0, []byte("x"))); err != nil {
		t.Fatal(err)
	}
	if got := len(b.PollComplete()); got != 1 {
		t.Fatalf("expected 1 completion, got %d", got)
	}
	if got := len(b.PollComplete()); got != 0 {
		t.Fatalf("expected empty second drain, got %d", got)
	}
}

func TestMockBackendSubmitThenComplete(t *testing.T) {
	b := NewMockBackend()
	token, err := b.Submit(ReadOp(3, 0, make([]byte, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if got := b.PollComplete(); len(got) != 0 {
		t.Fatalf("expected nothing ready before Complete, got %d", len(got))
	}
	b.Complete(token, CompletionKind{Kind: OpRead, BytesRead: 4, Data: []byte("data")}, nil)

	completions := b.PollComplete()
	if len(completions) != 1 || completions[0].Token != token {
		t.Fatalf("expected the completed token to surface, got %+v", completions)
	}
}

func TestMockBackendFailSubmissions(t *testing.T) {
	b := NewMockBackend()
	sentinel := &IoError{Op: OpRead, Err: errFake{}}
	b.FailSubmissions(sentinel)
	if _, err := b.Submit(ReadOp(1, 0, nil)); err != sentinel {
		t.Fatalf("expected FailSubmissions error to be returned verbatim, got %v", err)
	}
}

func TestMockBackendCloseCountsCalls(t *testing.T) {
	b := NewMockBackend()
	b.Close()
	b.Close()
	if b.CloseCalls() != 2 {
		t.Fatalf("expected 2 recorded Close calls, got %d", b.CloseCalls())
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
