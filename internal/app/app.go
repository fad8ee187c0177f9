// Package app assembles the live chart graph: the tutorial surface driven by
// the wave producer, and two surfaces sharing one range controller.
package app

import (
	"fmt"
	"log/slog"

	"livechart/internal/feeder"
	"livechart/internal/logger"
	"livechart/internal/model"
	"livechart/internal/notification"
	"livechart/internal/rangectl"
	"livechart/internal/series"
	"livechart/internal/surface"
	"livechart/internal/update"
)

// Surface and series identifiers.
const (
	SurfaceTutorial = "tutorial"
	SurfaceSync0    = "sync0"
	SurfaceSync1    = "sync1"

	SeriesLine    = "line"
	SeriesScatter = "scatter"
	SeriesSync0   = "sync0.damped"
	SeriesSync1   = "sync1.damped"
)

// TutorialInitialX is the tutorial's visible X range before the first
// zoom-extents.
var TutorialInitialX = model.Range{Min: -5, Max: 15}

// Options configures the graph.
type Options struct {
	Capacity    int
	MarkerEvery int
	SyncPoints  int
	GrowBy      float64

	// Restore refills the live buffers and markers before the first tick (optional).
	Restore model.SampleReader

	Logger   *slog.Logger
	Notifier notification.Notifier
}

// App holds the assembled graph.
type App struct {
	Line, Scatter *series.Buffer
	Sync0Data     *series.Buffer
	Sync1Data     *series.Buffer

	Tutorial *surface.Surface
	Sync0    *surface.Surface
	Sync1    *surface.Surface

	Waves  *feeder.Waves
	Feeder *feeder.Feeder

	// Restored is the number of samples and markers loaded from Restore.
	Restored int

	log *slog.Logger
}

// New builds the graph. The feeder is left Idle.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = series.DefaultCapacity
	}
	if opts.MarkerEvery <= 0 {
		opts.MarkerEvery = 100
	}
	log := logger.Component(opts.Logger, "app")
	grow := rangectl.Options{GrowX: opts.GrowBy, GrowY: opts.GrowBy}

	a := &App{
		Line:      series.New(SeriesLine, opts.Capacity),
		Scatter:   series.New(SeriesScatter, opts.Capacity),
		Sync0Data: series.New(SeriesSync0, opts.SyncPoints),
		Sync1Data: series.New(SeriesSync1, opts.SyncPoints),
		log:       log,
	}

	surfOpts := surface.Options{
		MaxMarkers: surface.MaxMarkers(opts.Capacity, opts.MarkerEvery),
		Logger:     opts.Logger,
	}
	tutorialRanges := grow
	tutorialRanges.X = TutorialInitialX
	a.Tutorial = surface.New(SurfaceTutorial, rangectl.New(tutorialRanges), surfOpts)
	a.Tutorial.AddSeries(surface.Series{Name: SeriesLine, Kind: model.KindLine, YAxisID: feeder.PrimaryYAxis, Buffer: a.Line})
	a.Tutorial.AddSeries(surface.Series{Name: SeriesScatter, Kind: model.KindScatter, YAxisID: feeder.PrimaryYAxis, Buffer: a.Scatter})

	if opts.Restore != nil {
		n, err := a.restore(opts.Restore, opts.Capacity, surfOpts.MaxMarkers)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: restore: %w", err)
		}
		a.Restored = n
	}

	shared := rangectl.New(grow)
	syncOpts := surface.Options{Logger: opts.Logger}
	a.Sync0 = surface.New(SurfaceSync0, shared, syncOpts)
	a.Sync1 = surface.New(SurfaceSync1, shared, syncOpts)
	seed := feeder.DampedSine(opts.SyncPoints)
	err := update.UsingAll([]*update.Suspender{a.Sync0.Suspender(), a.Sync1.Suspender()}, func() error {
		a.Sync0Data.AppendRange(seed)
		a.Sync1Data.AppendRange(seed)
		a.Sync0.AddSeries(surface.Series{Name: SeriesSync0, Kind: model.KindLine, Buffer: a.Sync0Data})
		a.Sync1.AddSeries(surface.Series{Name: SeriesSync1, Kind: model.KindLine, Buffer: a.Sync1Data})
		return shared.ZoomExtents()
	})
	if err != nil {
		log.Warn("initial sync flush failed", slog.String("error", err.Error()))
	}

	a.Waves = &feeder.Waves{
		Line:        a.Line,
		Scatter:     a.Scatter,
		Markers:     a.Tutorial,
		MarkerEvery: opts.MarkerEvery,
	}
	a.Feeder = feeder.New(feeder.Options{
		Surfaces: []*surface.Surface{a.Tutorial},
		Produce:  a.Waves.Produce,
		StartAt:  feeder.ResumeAt(a.Line, a.Scatter),
		AutoZoom: true,
		Logger:   opts.Logger,
		Notifier: opts.Notifier,
	})
	return a, nil
}

func (a *App) restore(r model.SampleReader, capacity, maxMarkers int) (int, error) {
	n := 0
	err := update.Using(a.Tutorial.Suspender(), func() error {
		for _, b := range []*series.Buffer{a.Line, a.Scatter} {
			rows, err := r.ReadLatest(b.Name(), capacity)
			if err != nil {
				return err
			}
			samples := make([]model.Sample, len(rows))
			for i, s := range rows {
				samples[i] = s.Sample()
			}
			b.AppendRange(samples)
			n += len(samples)
		}
		ms, err := r.ReadMarkers(SurfaceTutorial, maxMarkers)
		if err != nil {
			return err
		}
		for _, m := range ms {
			a.Tutorial.AddMarker(m)
		}
		n += len(ms)
		return a.Tutorial.Ranges().ZoomExtents()
	})
	if err == nil && n > 0 {
		a.log.Info("restored series",
			slog.Int("rows", n),
			slog.Int("line", a.Line.Len()),
			slog.Int("scatter", a.Scatter.Len()),
		)
	}
	return n, err
}

// Surfaces returns every surface of the graph.
func (a *App) Surfaces() []*surface.Surface {
	return []*surface.Surface{a.Tutorial, a.Sync0, a.Sync1}
}

// LiveBuffers returns the buffers the feeder appends to.
func (a *App) LiveBuffers() []*series.Buffer {
	return []*series.Buffer{a.Line, a.Scatter}
}

// Surface looks a surface up by id.
func (a *App) Surface(id string) (*surface.Surface, bool) {
	for _, s := range a.Surfaces() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// UserGesture adjusts the feeder after a user gesture: a manual range on the
// tutorial surface stops the per-tick zoom-extents, an explicit zoom-extents
// restarts it.
func (a *App) UserGesture(surfaceID string, zoomExtents bool) {
	if surfaceID != SurfaceTutorial || a.Feeder.AutoZoom() == zoomExtents {
		return
	}
	a.Feeder.SetAutoZoom(zoomExtents)
	a.log.Info("auto zoom toggled", slog.Bool("on", zoomExtents))
}

// Close stops the feeder and releases every surface.
func (a *App) Close() {
	if a.Feeder != nil {
		a.Feeder.Stop()
	}
	for _, s := range []*surface.Surface{a.Tutorial, a.Sync0, a.Sync1} {
		if s != nil {
			s.Close()
		}
	}
}
