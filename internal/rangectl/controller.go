// Package rangectl holds the visible X/Y range pair that one or more chart
// surfaces share. A gesture on any surface mutates the shared pair and every
// holder is told about the committed result.
package rangectl

import (
	"errors"
	"sync"

	"livechart/internal/model"
)

// ErrClosed is returned when mutating a controller whose last holder released it.
var ErrClosed = errors.New("range controller closed")

// Listener receives committed range changes. Every commit is delivered as
// one call carrying both axes, whichever of them changed.
type Listener interface {
	RangesChanged(x, y model.Range)
}

// Source contributes a data extent to ZoomExtents.
type Source interface {
	Extent() (x, y model.Range, ok bool)
}

// Options configures a Controller.
type Options struct {
	// Initial visible ranges. Zero values default to [0, 1].
	X, Y model.Range

	// GrowX and GrowY are the zoom-extents padding factors per axis.
	GrowX, GrowY float64
}

type source struct {
	owner *Handle
	src   Source
}

// Controller is a reference-counted shared visible-range pair.
type Controller struct {
	mu      sync.RWMutex
	x, y    model.Range
	growX   float64
	growY   float64
	sources []source

	lmu     sync.Mutex
	holders []*Handle
	refs    int
	closed  bool

	// OnReject is called when a range is rejected (optional).
	OnReject func(err error)
}

// New creates a controller with no holders.
func New(opts Options) *Controller {
	unit := model.Range{Min: 0, Max: 1}
	if opts.X == (model.Range{}) {
		opts.X = unit
	}
	if opts.Y == (model.Range{}) {
		opts.Y = unit
	}
	return &Controller{
		x:     opts.X,
		y:     opts.Y,
		growX: opts.GrowX,
		growY: opts.GrowY,
	}
}

// Handle is one holder's reference to a controller.
type Handle struct {
	c    *Controller
	l    Listener
	once sync.Once
}

// Controller returns the shared controller.
func (h *Handle) Controller() *Controller { return h.c }

// AddSource registers a data source owned by this holder. It stops feeding
// ZoomExtents when the holder releases.
func (h *Handle) AddSource(s Source) {
	h.c.addSource(h, s)
}

// Release drops this holder and the sources it added. The controller closes
// when the last holder releases it. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		c := h.c
		c.lmu.Lock()
		for i, o := range c.holders {
			if o == h {
				c.holders = append(c.holders[:i:i], c.holders[i+1:]...)
				break
			}
		}
		c.refs--
		if c.refs <= 0 {
			c.closed = true
		}
		c.lmu.Unlock()

		c.mu.Lock()
		kept := c.sources[:0]
		for _, s := range c.sources {
			if s.owner != h {
				kept = append(kept, s)
			}
		}
		for i := len(kept); i < len(c.sources); i++ {
			c.sources[i] = source{}
		}
		c.sources = kept
		c.mu.Unlock()
	})
}

// Acquire registers l as a holder. l may be nil for holders that only read.
// A controller stays closed once its last holder has gone.
func (c *Controller) Acquire(l Listener) *Handle {
	h := &Handle{c: c, l: l}
	c.lmu.Lock()
	c.refs++
	c.holders = append(c.holders, h)
	c.lmu.Unlock()
	return h
}

// Listeners returns the listening holders in acquisition order.
func (c *Controller) Listeners() []Listener {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	ls := make([]Listener, 0, len(c.holders))
	for _, h := range c.holders {
		if h.l != nil {
			ls = append(ls, h.l)
		}
	}
	return ls
}

// Refs returns the number of live holders.
func (c *Controller) Refs() int {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return c.refs
}

// Closed reports whether every holder has released the controller.
func (c *Controller) Closed() bool {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return c.closed
}

// AddSource registers a data source for ZoomExtents that no holder owns.
func (c *Controller) AddSource(s Source) {
	c.addSource(nil, s)
}

func (c *Controller) addSource(owner *Handle, s Source) {
	c.mu.Lock()
	c.sources = append(c.sources, source{owner: owner, src: s})
	c.mu.Unlock()
}

// Sources returns the number of registered sources.
func (c *Controller) Sources() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Range returns the committed range of one axis.
func (c *Controller) Range(axis model.Axis) model.Range {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if axis == model.AxisX {
		return c.x
	}
	return c.y
}

// Ranges returns the committed X and Y ranges as one consistent pair.
func (c *Controller) Ranges() (x, y model.Range) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.x, c.y
}

// SetRange validates and commits a range, then notifies every holder.
// An inverted or non-finite range is rejected and the prior range is kept.
func (c *Controller) SetRange(axis model.Axis, min, max float64) error {
	r, err := model.NewRange(axis, min, max)
	if err != nil {
		return c.reject(err)
	}
	if c.Closed() {
		return ErrClosed
	}

	c.mu.Lock()
	if axis == model.AxisX {
		c.x = r
	} else {
		c.y = r
	}
	x, y := c.x, c.y
	c.mu.Unlock()

	c.broadcast(x, y)
	return nil
}

// SetRanges commits both axes at once: either both are valid and committed
// with one notification, or neither changes.
func (c *Controller) SetRanges(x, y model.Range) error {
	if _, err := model.NewRange(model.AxisX, x.Min, x.Max); err != nil {
		return c.reject(err)
	}
	if _, err := model.NewRange(model.AxisY, y.Min, y.Max); err != nil {
		return c.reject(err)
	}
	if c.Closed() {
		return ErrClosed
	}

	c.mu.Lock()
	c.x, c.y = x, y
	c.mu.Unlock()

	c.broadcast(x, y)
	return nil
}

func (c *Controller) reject(err error) error {
	if c.OnReject != nil {
		c.OnReject(err)
	}
	return err
}

// ZoomExtents fits both axes to the union extent of all sources, padded by the
// configured grow-by factors. No-op when no source has data.
func (c *Controller) ZoomExtents() error {
	if c.Closed() {
		return ErrClosed
	}

	c.mu.Lock()
	var x, y model.Range
	found := false
	for _, s := range c.sources {
		sx, sy, ok := s.src.Extent()
		if !ok {
			continue
		}
		if !found {
			x, y, found = sx, sy, true
			continue
		}
		x = x.Union(sx)
		y = y.Union(sy)
	}
	if !found {
		c.mu.Unlock()
		return nil
	}
	x, y = x.Grow(c.growX), y.Grow(c.growY)
	if !x.Valid() {
		c.mu.Unlock()
		return c.reject(&model.InvalidRangeError{Axis: model.AxisX, Min: x.Min, Max: x.Max})
	}
	if !y.Valid() {
		c.mu.Unlock()
		return c.reject(&model.InvalidRangeError{Axis: model.AxisY, Min: y.Min, Max: y.Max})
	}
	c.x, c.y = x, y
	c.mu.Unlock()

	c.broadcast(x, y)
	return nil
}

func (c *Controller) broadcast(x, y model.Range) {
	for _, l := range c.Listeners() {
		l.RangesChanged(x, y)
	}
}
