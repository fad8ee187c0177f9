package app

import (
	"fmt"

	"livechart/internal/model"
	"livechart/internal/rangectl"
	"livechart/internal/series"
	"livechart/internal/surface"
	"livechart/internal/update"
)

// SnapshotOptions selects what Snapshot loads.
type SnapshotOptions struct {
	Surface  string
	Series   []string
	Capacity int
	GrowBy   float64
}

// Snapshot rebuilds a surface offline from persisted rows and returns its
// zoomed-to-extents frame. The first series is drawn as a line, the rest
// as scatter, matching the live tutorial surface.
func Snapshot(r model.SampleReader, opts SnapshotOptions) (model.Frame, error) {
	if opts.Surface == "" {
		opts.Surface = SurfaceTutorial
	}
	if len(opts.Series) == 0 {
		opts.Series = []string{SeriesLine, SeriesScatter}
	}
	if opts.Capacity <= 0 {
		opts.Capacity = series.DefaultCapacity
	}

	ctrl := rangectl.New(rangectl.Options{GrowX: opts.GrowBy, GrowY: opts.GrowBy})
	s := surface.New(opts.Surface, ctrl, surface.Options{MaxMarkers: opts.Capacity})
	defer s.Close()

	err := update.Using(s.Suspender(), func() error {
		for i, name := range opts.Series {
			rows, err := r.ReadLatest(name, opts.Capacity)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			buf := series.New(name, opts.Capacity)
			samples := make([]model.Sample, len(rows))
			for j, row := range rows {
				samples[j] = row.Sample()
			}
			buf.AppendRange(samples)

			kind := model.KindScatter
			if i == 0 {
				kind = model.KindLine
			}
			s.AddSeries(surface.Series{Name: name, Kind: kind, Buffer: buf})
		}
		ms, err := r.ReadMarkers(opts.Surface, opts.Capacity)
		if err != nil {
			return fmt.Errorf("read markers: %w", err)
		}
		for _, m := range ms {
			s.AddMarker(m)
		}
		return ctrl.ZoomExtents()
	})
	if err != nil {
		return model.Frame{}, err
	}
	return s.Frame(), nil
}
