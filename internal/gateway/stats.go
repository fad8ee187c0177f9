package gateway

import (
	"runtime"
	"time"
)

// SurfaceStats is the gateway's view of one surface.
type SurfaceStats struct {
	Seq         int64    `json:"surface_seq"`
	HeldFrames  int      `json:"held_frames"`
	OldestHeld  int64    `json:"oldest_held_seq"`
	Subscribers int      `json:"subscribers"`
	Lag         LagStats `json:"lag"`
}

// GatewayStats is served on /api/metrics and pushed as "metrics" messages.
type GatewayStats struct {
	UptimeSec   int64                   `json:"uptime_sec"`
	Goroutines  int                     `json:"goroutines"`
	HeapAllocMB float64                 `json:"heap_alloc_mb"`
	Clients     int                     `json:"ws_clients"`
	Surfaces    map[string]SurfaceStats `json:"surfaces"`
	TS          string                  `json:"ts"`
}

// Stats collects per-surface delivery state plus basic process figures.
func (h *Hub) Stats(start time.Time) GatewayStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := GatewayStats{
		UptimeSec:   int64(time.Since(start).Seconds()),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
		Surfaces:    make(map[string]SurfaceStats),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}

	h.mu.RLock()
	st.Clients = len(h.clients)
	ids := make(map[string]bool, len(h.controls)+len(h.histories))
	for id := range h.controls {
		ids[id] = true
	}
	for id := range h.histories {
		ids[id] = true
	}
	for id := range ids {
		ss := SurfaceStats{Seq: h.surfaceSeqs[id]}
		if fh, ok := h.histories[id]; ok {
			ss.OldestHeld, _, _ = fh.Bounds()
			ss.HeldFrames = fh.Len()
		}
		for c := range h.clients {
			if c.subscribed(id) {
				ss.Subscribers++
			}
		}
		st.Surfaces[id] = ss
	}
	h.mu.RUnlock()

	for id, ss := range st.Surfaces {
		if lag, ok := h.Lag.Stats(id); ok {
			ss.Lag = lag
			st.Surfaces[id] = ss
		}
	}
	return st
}
