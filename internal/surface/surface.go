// Package surface models a chart surface: a set of series buffers, a bounded
// annotation list and a handle on a (possibly shared) range controller. Every
// change is funneled through the surface's update scope; each effective flush
// produces one model.Frame that is handed to the render collaborators.
package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"livechart/internal/model"
	"livechart/internal/rangectl"
	"livechart/internal/series"
	"livechart/internal/update"
)

// Series binds a buffer to the way it is drawn.
type Series struct {
	Name    string
	Kind    model.SeriesKind
	YAxisID string
	Buffer  *series.Buffer
}

// Options configures a Surface.
type Options struct {
	// MaxMarkers bounds the annotation list (see MaxMarkers). Defaults to 1.
	MaxMarkers int

	// RenderTimeout bounds one Render call per collaborator. Defaults to 2s.
	RenderTimeout time.Duration

	Logger *slog.Logger
}

// Surface is one chart. Safe for concurrent use.
type Surface struct {
	id      string
	handle  *rangectl.Handle
	sus     *update.Suspender
	markers *MarkerList
	log     *slog.Logger
	timeout time.Duration

	mu        sync.RWMutex
	series    []Series
	renderers []model.FrameRenderer

	seq    atomic.Int64
	closed atomic.Bool

	// OnRefresh is called after every flush (optional, for metrics).
	OnRefresh func(surface string, d time.Duration, err error)
}

// New creates a surface holding a reference on ctrl.
func New(id string, ctrl *rangectl.Controller, opts Options) *Surface {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 2 * time.Second
	}
	s := &Surface{
		id:      id,
		markers: NewMarkerList(opts.MaxMarkers),
		log:     opts.Logger.With(slog.String("surface", id)),
		timeout: opts.RenderTimeout,
	}
	s.sus = update.New(s.Refresh)
	s.handle = ctrl.Acquire(s)
	return s
}

// ID returns the surface identifier.
func (s *Surface) ID() string { return s.id }

// Suspender returns the surface's update scope.
func (s *Surface) Suspender() *update.Suspender { return s.sus }

// Ranges returns the range controller this surface holds.
func (s *Surface) Ranges() *rangectl.Controller { return s.handle.Controller() }

// Markers returns the annotation list.
func (s *Surface) Markers() *MarkerList { return s.markers }

// AddSeries attaches a buffer. Its extent feeds the controller's ZoomExtents.
func (s *Surface) AddSeries(sr Series) {
	if sr.Kind == "" {
		sr.Kind = model.KindLine
	}
	s.mu.Lock()
	s.series = append(s.series, sr)
	s.mu.Unlock()

	sr.Buffer.Observe(s)
	s.handle.AddSource(sr.Buffer)
	s.Invalidate()
}

// SeriesList returns the attached series.
func (s *Surface) SeriesList() []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Series, len(s.series))
	copy(out, s.series)
	return out
}

// AddRenderer registers a render collaborator.
func (s *Surface) AddRenderer(r model.FrameRenderer) {
	s.mu.Lock()
	s.renderers = append(s.renderers, r)
	s.mu.Unlock()
}

// AddMarker inserts an annotation, evicting from the front past the limit.
func (s *Surface) AddMarker(m model.Marker) {
	s.markers.Add(m)
	s.Invalidate()
}

// Invalidate requests a flush; deferred while an update scope is open.
func (s *Surface) Invalidate() {
	if s.closed.Load() {
		return
	}
	if err := s.sus.Invalidate(); err != nil {
		s.log.Warn("refresh failed", slog.String("error", err.Error()))
	}
}

// RangesChanged implements rangectl.Listener.
func (s *Surface) RangesChanged(x, y model.Range) {
	s.Invalidate()
}

// SetVisibleRange is the gesture entry point: it commits a range on the
// shared controller with every holder suspended, so each redraws once.
func (s *Surface) SetVisibleRange(axis model.Axis, min, max float64) error {
	return s.gesture(func() error {
		return s.Ranges().SetRange(axis, min, max)
	})
}

// SetVisibleRanges commits both axes as one gesture.
func (s *Surface) SetVisibleRanges(x, y model.Range) error {
	return s.gesture(func() error {
		return s.Ranges().SetRanges(x, y)
	})
}

// ZoomExtents fits the shared ranges to the data of every holder.
func (s *Surface) ZoomExtents() error {
	return s.gesture(s.Ranges().ZoomExtents)
}

func (s *Surface) gesture(fn func() error) error {
	return update.UsingAll(s.Holders(), fn)
}

// Holders returns the update scopes of every surface sharing this surface's
// controller, this one first.
func (s *Surface) Holders() []*update.Suspender {
	sus := []*update.Suspender{s.sus}
	for _, l := range s.Ranges().Listeners() {
		if o, ok := l.(*Surface); ok && o != s {
			sus = append(sus, o.sus)
		}
	}
	return sus
}

// Frame builds the current snapshot without publishing it.
func (s *Surface) Frame() model.Frame {
	s.mu.RLock()
	srs := make([]model.SeriesFrame, len(s.series))
	for i, sr := range s.series {
		srs[i] = model.SeriesFrame{
			Name:    sr.Name,
			Kind:    sr.Kind,
			YAxisID: sr.YAxisID,
			Samples: sr.Buffer.Snapshot(),
		}
	}
	s.mu.RUnlock()

	x, y := s.Ranges().Ranges()
	return model.Frame{
		Surface: s.id,
		Seq:     s.seq.Load(),
		TS:      time.Now().UTC(),
		X:       x,
		Y:       y,
		Series:  srs,
		Markers: s.markers.Snapshot(),
	}
}

// Refresh publishes one frame to every renderer. Renderer failures are
// collected; one failing collaborator does not starve the others.
func (s *Surface) Refresh() error {
	start := time.Now()
	s.seq.Add(1)
	f := s.Frame()

	s.mu.RLock()
	rs := make([]model.FrameRenderer, len(s.renderers))
	copy(rs, s.renderers)
	s.mu.RUnlock()

	var merr *multierror.Error
	for _, r := range rs {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := r.Render(ctx, f); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("render %T: %w", r, err))
		}
		cancel()
	}

	err := merr.ErrorOrNil()
	if s.OnRefresh != nil {
		s.OnRefresh(s.id, time.Since(start), err)
	}
	return err
}

// Seq returns the number of frames published so far.
func (s *Surface) Seq() int64 { return s.seq.Load() }

// Close drops the surface's reference on its range controller. Idempotent.
func (s *Surface) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.handle.Release()
}
