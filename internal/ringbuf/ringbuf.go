// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer of tagged samples. It sits between the feeder goroutine, which
// must never block on persistence, and the store writers.
package ringbuf

import (
	"context"
	"sync/atomic"
	"time"

	"livechart/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for SeriesSample values.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf  []model.SeriesSample
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:  make([]model.SeriesSample, size),
		mask: uint64(size - 1),
	}
}

// Push appends a sample. Returns false if the ring is full (the sample is
// NOT written in that case). Non-blocking. Satisfies series.Tap.
func (r *Ring) Push(s model.SeriesSample) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = s
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next sample. Returns false if the ring is empty.
func (r *Ring) Pop() (model.SeriesSample, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return model.SeriesSample{}, false
	}

	s := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return s, true
}

// Len returns the current number of items in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of dropped pushes due to full buffer.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// Pump is the ring's single consumer: it drains r into out, polling every
// interval while the ring is empty. out is closed when ctx is done, after a
// final drain.
func Pump(ctx context.Context, r *Ring, interval time.Duration, out chan<- model.SeriesSample) {
	defer close(out)

	drain := func() bool {
		for {
			s, ok := r.Pop()
			if !ok {
				return true
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return false
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !drain() {
			return
		}
		select {
		case <-ctx.Done():
			// Best effort: hand over what is left without blocking.
			for {
				s, ok := r.Pop()
				if !ok {
					return
				}
				select {
				case out <- s:
				default:
					return
				}
			}
		case <-ticker.C:
		}
	}
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
