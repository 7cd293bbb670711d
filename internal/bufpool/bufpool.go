// Package bufpool provides per-reactor, size-bucketed recyclable byte
// buffers with explicit ownership transfer to the I/O backend.
//
// Each reactor owns one Pool; buffers never cross reactors (the
// runtime's resource policy forbids sharing an fd or a buffer across
// reactor boundaries). A Buffer obtained from a Pool knows how to
// return itself via Recycle, mirroring a per-owner recycle method
// rather than a free function callers must remember to invoke on the
// right pool.
package bufpool

import "sync"

// Bucket sizes, matching the teacher's size-bucketed sync.Pool design
// generalized from one fixed I/O buffer size to four.
const (
	Size128K = 128 * 1024
	Size256K = 256 * 1024
	Size512K = 512 * 1024
	Size1M   = 1024 * 1024
)

// DefaultBucketSizes are the bucket boundaries used when New is called
// with no explicit sizes.
var DefaultBucketSizes = []int{Size128K, Size256K, Size512K, Size1M}

// Pool is a size-bucketed buffer pool. The zero value is not usable;
// construct with New.
type Pool struct {
	bucketSizes []int
	buckets     []sync.Pool
}

// New constructs a fresh, empty Pool with the given bucket boundaries
// (ascending order expected). No sizes uses DefaultBucketSizes — the
// runtime's WithBufferPool option is how a caller overrides
// this per the reactor it belongs to.
func New(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = DefaultBucketSizes
	}
	p := &Pool{bucketSizes: sizes, buckets: make([]sync.Pool, len(sizes))}
	for i, size := range sizes {
		size := size
		p.buckets[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

func (p *Pool) bucketIndex(size int) (int, bool) {
	for i, s := range p.bucketSizes {
		if size <= s {
			return i, true
		}
	}
	return 0, false
}

// Get returns a Buffer of at least the requested size, owned by this
// Pool. Requests larger than the largest bucket allocate a transient
// buffer that is simply dropped (not pooled) on Recycle.
func (p *Pool) Get(size int) *Buffer {
	idx, ok := p.bucketIndex(size)
	if !ok {
		return &Buffer{pool: p, bucket: -1, data: make([]byte, size)}
	}
	bp := (*[]byte)(p.buckets[idx].Get().(*[]byte))
	b := (*bp)[:size]
	return &Buffer{pool: p, bucket: idx, data: b}
}

// Buffer is a length-tagged byte region with exactly one owner at any
// time: the pool, the task that borrowed it, or an I/O backend holding
// it for an in-flight operation (see internal/ioring's pending-ops
// table). A task typically Gets a Buffer, passes its data []byte into
// an ioring.Op, and Recycles it once the op's CompletionKind.Data (a
// plain []byte, not a *Buffer — ownership of that slice transfers to
// the caller on completion) has been consumed.
type Buffer struct {
	pool   *Pool
	bucket int // -1 for a transient, non-pooled allocation
	data   []byte
}

// Bytes exposes the underlying slice. Callers must not retain it past
// a Recycle call.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Len() int { return len(b.data) }

// Recycle returns the buffer to its owning pool's bucket, restoring
// full bucket capacity first. Transient (oversized) buffers are
// dropped for the GC to reclaim, matching the resource policy that
// pressure beyond pool capacity allocates rather than blocks.
func (b *Buffer) Recycle() {
	if b.pool == nil || b.bucket < 0 {
		return
	}
	full := b.data[:cap(b.data)]
	b.pool.buckets[b.bucket].Put(&full)
	b.data = nil
}
