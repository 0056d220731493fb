package audio

import (
	"sync/atomic"

	"tutti/internal/core/domain"
)

// DefaultRingCapacity is about 170ms of audio at one frame per 2.67ms.
const DefaultRingCapacity = 64

// Ring is a bounded wait-free single-producer/single-consumer queue of
// audio frames. Exactly one goroutine may push and exactly one (possibly
// different) goroutine may pop; no other synchronization is needed.
// Overflow drops the pushed frame, underflow returns false. Frames are
// copied in and out by value so a ring never aliases caller memory.
type Ring struct {
	buf  []domain.AudioFrame
	mask uint64
	head atomic.Uint64 // next slot to pop, advanced only by the consumer
	tail atomic.Uint64 // next slot to push, advanced only by the producer
}

// NewRing creates a ring holding at least capacity frames. Capacity is
// rounded up to a power of two so index wrapping is a mask.
func NewRing(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		buf:  make([]domain.AudioFrame, n),
		mask: uint64(n - 1),
	}
}

// TryPush publishes one frame. Returns false when the ring is full.
func (r *Ring) TryPush(frame *domain.AudioFrame) bool {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail-head >= uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = *frame
	r.tail.Store(tail + 1)
	return true
}

// TryPop removes the oldest frame into out. Returns false when empty.
func (r *Ring) TryPop(out *domain.AudioFrame) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail == head {
		return false
	}
	*out = r.buf[head&r.mask]
	r.head.Store(head + 1)
	return true
}

// Len is an approximate occupancy; exact only when producer and consumer
// are quiescent.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity in frames.
func (r *Ring) Cap() int {
	return len(r.buf)
}
