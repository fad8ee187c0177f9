package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LagStats summarizes how long a surface's frames took from being built to
// being queued for clients, over the recent window.
type LagStats struct {
	Frames uint64  `json:"frames"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// FrameLag tracks per-surface frame lag over a sliding window.
type FrameLag struct {
	mu       sync.Mutex
	window   int
	surfaces map[string]*lagWindow
}

type lagWindow struct {
	vals   []time.Duration
	next   int
	frames uint64
}

// NewFrameLag keeps the last window observations per surface.
func NewFrameLag(window int) *FrameLag {
	if window <= 0 {
		window = 1000
	}
	return &FrameLag{window: window, surfaces: make(map[string]*lagWindow)}
}

// Observe records the lag of one frame. Negative values come from a frame
// stamped on another host's clock and are dropped.
func (l *FrameLag) Observe(surface string, d time.Duration) {
	if d < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.surfaces[surface]
	if !ok {
		w = &lagWindow{vals: make([]time.Duration, 0, l.window)}
		l.surfaces[surface] = w
	}
	if len(w.vals) < l.window {
		w.vals = append(w.vals, d)
	} else {
		w.vals[w.next] = d
		w.next = (w.next + 1) % l.window
	}
	w.frames++
}

// Stats returns the window summary of one surface.
func (l *FrameLag) Stats(surface string) (LagStats, bool) {
	l.mu.Lock()
	w, ok := l.surfaces[surface]
	if !ok {
		l.mu.Unlock()
		return LagStats{}, false
	}
	vals := append([]time.Duration(nil), w.vals...)
	frames := w.frames
	l.mu.Unlock()

	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return LagStats{
		Frames: frames,
		P50Ms:  ms(nearestRank(vals, 0.50)),
		P95Ms:  ms(nearestRank(vals, 0.95)),
		P99Ms:  ms(nearestRank(vals, 0.99)),
		MaxMs:  ms(vals[len(vals)-1]),
	}, true
}

// nearestRank returns the smallest value with at least p of the sorted
// values at or below it.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	i := int(math.Ceil(p*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
