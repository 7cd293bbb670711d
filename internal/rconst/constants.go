// Package rconst centralizes the tunable batch sizes and default
// capacities referenced throughout the reactor, runtime, and buffer
// pool. Grounded on the teacher's internal/constants package: a single
// place for the "why 32, why 1000" numbers instead of scattering magic
// literals through the reactor loop.
package rconst

import "time"

const (
	// InboxDrainBatch bounds how many inbox messages a reactor drains
	// per loop iteration before moving on to timers and tasks, so a
	// burst of SubmitTask messages cannot starve timer expiry or I/O
	// completion draining.
	InboxDrainBatch = 32

	// TaskPollBatch bounds how many ready tasks a reactor polls per
	// loop iteration, for the same reason.
	TaskPollBatch = 16

	// DefaultInboxCapacity is the default bounded capacity of each
	// reactor's inbox. Producers that outrun this receive backpressure
	// (ErrChannelFull) rather than unbounded queuing.
	DefaultInboxCapacity = 1000

	// DefaultTimerWheelSlots and DefaultTimerWheelResolution are the
	// timer wheel's default dimensions: 4096 slots at 1ms each gives
	// roughly a 4.1s horizon before wraparound.
	DefaultTimerWheelSlots      = 4096
	DefaultTimerWheelResolution = time.Millisecond

	// ParkInterval is how long a reactor parks when a full loop
	// iteration makes no progress on any of its four steps.
	ParkInterval = 20 * time.Millisecond
)

// DefaultBufferBucketSizes are the size-bucketed buffer pool's bucket
// boundaries in bytes.
var DefaultBufferBucketSizes = []int{128 << 10, 256 << 10, 512 << 10, 1 << 20}

// DefaultBufferPoolCapacity is a nominal per-bucket buffer count.
// internal/bufpool does not read it: its buckets are sync.Pools with
// no retention limit, so recycled buffers are never dropped for
// exceeding a count (the garbage collector may still drop pooled
// buffers at any time).
const DefaultBufferPoolCapacity = 100
