// Package series provides the fixed-capacity FIFO sample buffer that backs a
// chart series. Appending to a full buffer evicts the oldest sample.
package series

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"livechart/internal/model"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 500

// Observer is notified after every mutation of a buffer. Surfaces implement
// it and batch the notifications through their update scope.
type Observer interface {
	Invalidate()
}

// Tap receives every appended sample. Push must not block; a false return is
// counted as a dropped sample by the tap itself.
type Tap interface {
	Push(s model.SeriesSample) bool
}

// Buffer is a circular buffer of samples with strict FIFO eviction.
//
// Owned by a single producer; safe for concurrent readers.
type Buffer struct {
	name string

	mu   sync.RWMutex
	buf  []model.Sample
	cap  int
	pos  int // next write position
	full bool

	evicted  atomic.Uint64
	appended atomic.Uint64

	obsMu     sync.RWMutex
	observers []Observer
	tap       Tap
}

// New creates a buffer with the given capacity.
func New(name string, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		name: name,
		buf:  make([]model.Sample, capacity),
		cap:  capacity,
	}
}

// Name returns the series name.
func (b *Buffer) Name() string { return b.name }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return b.cap }

// Observe registers an observer.
func (b *Buffer) Observe(o Observer) {
	b.obsMu.Lock()
	b.observers = append(b.observers, o)
	b.obsMu.Unlock()
}

// SetTap installs the sample tap. nil disables it.
func (b *Buffer) SetTap(t Tap) {
	b.obsMu.Lock()
	b.tap = t
	b.obsMu.Unlock()
}

// Append adds a sample at the tail, evicting the head when full.
func (b *Buffer) Append(s model.Sample) {
	b.mu.Lock()
	b.push(s)
	b.mu.Unlock()

	b.emit(s)
	b.notify()
}

// AppendRange appends samples in order with a single notification.
func (b *Buffer) AppendRange(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	for _, s := range samples {
		b.push(s)
	}
	b.mu.Unlock()

	for _, s := range samples {
		b.emit(s)
	}
	b.notify()
}

// Clear drops all samples. Capacity is unchanged.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.pos = 0
	b.full = false
	b.mu.Unlock()
	b.notify()
}

func (b *Buffer) push(s model.Sample) {
	if b.full {
		b.evicted.Add(1)
	}
	b.buf[b.pos] = s
	b.pos = (b.pos + 1) % b.cap
	if b.pos == 0 && !b.full {
		b.full = true
	}
	b.appended.Add(1)
}

func (b *Buffer) emit(s model.Sample) {
	b.obsMu.RLock()
	tap := b.tap
	b.obsMu.RUnlock()
	if tap == nil {
		return
	}
	tap.Push(model.SeriesSample{Series: b.name, X: s.X, Y: s.Y, TS: time.Now().UTC()})
}

func (b *Buffer) notify() {
	b.obsMu.RLock()
	obs := make([]Observer, len(b.observers))
	copy(obs, b.observers)
	b.obsMu.RUnlock()

	for _, o := range obs {
		o.Invalidate()
	}
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len()
}

// Evicted returns the total number of samples dropped from the head.
func (b *Buffer) Evicted() uint64 { return b.evicted.Load() }

// Appended returns the total number of samples ever appended.
func (b *Buffer) Appended() uint64 { return b.appended.Load() }

// Snapshot returns the samples in append order (oldest first).
func (b *Buffer) Snapshot() []model.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.len()
	out := make([]model.Sample, n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.index(i)]
	}
	return out
}

// Last returns the newest sample.
func (b *Buffer) Last() (model.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.len()
	if n == 0 {
		return model.Sample{}, false
	}
	return b.buf[b.index(n-1)], true
}

// Extent returns the x and y data extents of the current contents.
// ok is false when the buffer holds no finite sample. Samples with a NaN or
// infinite coordinate are skipped.
func (b *Buffer) Extent() (x, y model.Range, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	x = model.Range{Min: math.Inf(1), Max: math.Inf(-1)}
	y = x
	n := b.len()
	for i := 0; i < n; i++ {
		s := b.buf[b.index(i)]
		if !finite(s.X) || !finite(s.Y) {
			continue
		}
		x = x.Union(model.Range{Min: s.X, Max: s.X})
		y = y.Union(model.Range{Min: s.Y, Max: s.Y})
		ok = true
	}
	if !ok {
		return model.Range{}, model.Range{}, false
	}
	return x, y, true
}

func (b *Buffer) len() int {
	if b.full {
		return b.cap
	}
	return b.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (b *Buffer) index(logical int) int {
	if b.full {
		return (b.pos + logical) % b.cap
	}
	return logical
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
