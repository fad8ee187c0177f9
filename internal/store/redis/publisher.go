package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"livechart/internal/model"
)

// FramePublisher is the subset of Writer used by BufferedPublisher.
type FramePublisher interface {
	PublishFrame(ctx context.Context, f model.Frame) error
}

// BufferedPublisher is a frame renderer that publishes through a circuit
// breaker. While the circuit is open only the newest frame per surface is
// kept; those are replayed when the circuit closes again.
type BufferedPublisher struct {
	pub FramePublisher
	cb  *CircuitBreaker
	ctx context.Context

	mu      sync.Mutex
	pending map[string]model.Frame

	OnBuffer func()          // called when a frame is held back (for metrics)
	OnFlush  func(count int) // called after replaying held frames
}

// NewBufferedPublisher wraps pub with cb. ctx bounds replays.
func NewBufferedPublisher(ctx context.Context, pub FramePublisher, cb *CircuitBreaker) *BufferedPublisher {
	bp := &BufferedPublisher{
		pub:     pub,
		cb:      cb,
		ctx:     ctx,
		pending: make(map[string]model.Frame),
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Render implements model.FrameRenderer. A frame rejected by an open circuit
// is held, not reported as an error.
func (bp *BufferedPublisher) Render(ctx context.Context, f model.Frame) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishFrame(ctx, f)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.mu.Lock()
		if prev, ok := bp.pending[f.Surface]; !ok || prev.Seq <= f.Seq {
			bp.pending[f.Surface] = f
		}
		bp.mu.Unlock()
		if bp.OnBuffer != nil {
			bp.OnBuffer()
		}
		return nil
	}
	return err
}

func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.pending) == 0 {
		bp.mu.Unlock()
		return
	}
	held := bp.pending
	bp.pending = make(map[string]model.Frame)
	bp.mu.Unlock()

	flushed := 0
	for _, f := range held {
		ctx, cancel := context.WithTimeout(bp.ctx, 2*time.Second)
		if err := bp.pub.PublishFrame(ctx, f); err != nil {
			log.Printf("[redis-publisher] replay %s/%d: %v", f.Surface, f.Seq, err)
		} else {
			flushed++
		}
		cancel()
	}

	log.Printf("[redis-publisher] replayed %d held frames", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of surfaces with a held frame.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pending)
}
