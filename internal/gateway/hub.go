package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechart/internal/model"
)

var (
	// ErrUnknownSurface is returned for gestures on a surface the hub does not know.
	ErrUnknownSurface = errors.New("unknown surface")
)

// Control is the gesture side of a chart surface.
type Control interface {
	ID() string
	SetVisibleRange(axis model.Axis, min, max float64) error
	ZoomExtents() error
	Frame() model.Frame
}

// Gesture identifies what a client asked a surface to do.
type Gesture string

const (
	GestureSetRange    Gesture = "set_range"
	GestureZoomExtents Gesture = "zoom_extents"
)

// Hub fans surface frames out to websocket clients and routes their gestures
// back to the surfaces. It is a model.FrameRenderer: register it on every
// surface that should be visible over the gateway.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-surface monotonic sequence numbers for gap detection
	surfaceSeqs map[string]int64

	// Recent frames per surface for subscribe-with-since and gap backfill
	histories  map[string]*FrameHistory
	historyCap int

	controls map[string]Control

	Auth        *GestureAuth
	Lag         *FrameLag
	Broadcaster *Broadcaster

	// OnGesture is called after a gesture was applied successfully.
	OnGesture func(surface string, g Gesture)
	// OnClients is called with the client count after every (dis)connect.
	OnClients func(n int)
	// OnSend is called per queued envelope; dropped is true for a full client queue.
	OnSend func(dropped bool)
}

type latestEntry struct {
	Envelope []byte
	TS       time.Time
	Seq      int64 // per-surface seq
}

// NewHub creates a Hub. historyCap is the number of frames kept per surface.
func NewHub(auth *GestureAuth, historyCap int) *Hub {
	if historyCap <= 0 {
		historyCap = 500
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		surfaceSeqs: make(map[string]int64),
		histories:   make(map[string]*FrameHistory),
		historyCap:  historyCap,
		controls:    make(map[string]Control),
		Auth:        auth,
		Lag:         NewFrameLag(1000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Register exposes a surface's gestures over the gateway.
func (h *Hub) Register(c Control) {
	h.mu.Lock()
	h.controls[c.ID()] = c
	h.mu.Unlock()
}

// SurfaceIDs returns the registered surfaces, sorted.
func (h *Hub) SurfaceIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.controls))
	for id := range h.controls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) control(surface string) (Control, error) {
	h.mu.RLock()
	c, ok := h.controls[surface]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSurface, surface)
	}
	return c, nil
}

// known reports whether surface is registered or has published a frame.
func (h *Hub) known(surface string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, reg := h.controls[surface]
	_, seen := h.latest[surface]
	return reg || seen
}

// Render implements model.FrameRenderer.
func (h *Hub) Render(ctx context.Context, f model.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gateway: encode frame %s/%d: %w", f.Surface, f.Seq, err)
	}
	h.Broadcaster.Broadcast(f.Surface, data, f.TS)
	return nil
}

// SetRange applies a visible range gesture to a surface.
func (h *Hub) SetRange(surface string, axis model.Axis, min, max float64, otp string) error {
	if err := h.Auth.Check(otp); err != nil {
		return err
	}
	c, err := h.control(surface)
	if err != nil {
		return err
	}
	if err := c.SetVisibleRange(axis, min, max); err != nil {
		return err
	}
	if h.OnGesture != nil {
		h.OnGesture(surface, GestureSetRange)
	}
	return nil
}

// ZoomExtents fits a surface's ranges to its data.
func (h *Hub) ZoomExtents(surface, otp string) error {
	if err := h.Auth.Check(otp); err != nil {
		return err
	}
	c, err := h.control(surface)
	if err != nil {
		return err
	}
	if err := c.ZoomExtents(); err != nil {
		return err
	}
	if h.OnGesture != nil {
		h.OnGesture(surface, GestureZoomExtents)
	}
	return nil
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClients != nil {
		h.OnClients(count)
	}

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.OnClients != nil {
		h.OnClients(count)
	}
}

func (h *Hub) history(surface string) *FrameHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.histories[surface]
}

// MissedFrames returns the held envelopes of a surface with surface_seq in
// [from, to]. Frames already evicted are simply absent.
func (h *Hub) MissedFrames(surface string, from, to int64) [][]byte {
	fh := h.history(surface)
	if fh == nil {
		return nil
	}
	return fh.Between(from, to)
}

// GetSurfaceSeq returns the current sequence number for a surface.
func (h *Hub) GetSurfaceSeq(surface string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.surfaceSeqs[surface]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartMetricsBroadcast pushes gateway stats to all WS clients every interval.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":    "metrics",
				"metrics": h.Stats(start),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
