package surface

import (
	"sync"

	"livechart/internal/model"
)

// MarkerList is a bounded annotation list. Adding past the limit removes
// markers from the front, oldest first.
type MarkerList struct {
	mu      sync.RWMutex
	items   []model.Marker
	max     int
	removed uint64
}

// NewMarkerList creates a list holding at most max markers (minimum 1).
func NewMarkerList(max int) *MarkerList {
	if max < 1 {
		max = 1
	}
	return &MarkerList{items: make([]model.Marker, 0, max+1), max: max}
}

// MaxMarkers returns the per-surface marker limit for a series capacity and
// a marker period: capacity/every, at least 1.
func MaxMarkers(capacity, every int) int {
	if every <= 0 {
		return 1
	}
	n := capacity / every
	if n < 1 {
		n = 1
	}
	return n
}

// Add appends m and returns how many markers were evicted from the front.
func (l *MarkerList) Add(m model.Marker) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, m)
	evicted := 0
	for len(l.items) > l.max {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
		evicted++
	}
	l.removed += uint64(evicted)
	return evicted
}

// Len returns the number of markers held.
func (l *MarkerList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Max returns the configured limit.
func (l *MarkerList) Max() int { return l.max }

// Removed returns the total number of evicted markers.
func (l *MarkerList) Removed() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.removed
}

// Snapshot returns the markers in insertion order.
func (l *MarkerList) Snapshot() []model.Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Marker, len(l.items))
	copy(out, l.items)
	return out
}
