package feeder

import (
	"context"
	"math"

	"livechart/internal/model"
	"livechart/internal/series"
	"livechart/internal/surface"
)

// PrimaryYAxis is the axis id markers are placed on.
const PrimaryYAxis = "primaryYAxis"

// MarkerText labels every marker.
const MarkerText = "N"

// Waves is the live demo producer: tick n appends (n, sin(0.1n)) to Line and
// (n, cos(0.1n)) to Scatter, and every MarkerEvery-th n adds a text marker
// labelled n at (n, 0).
type Waves struct {
	Line        *series.Buffer
	Scatter     *series.Buffer
	Markers     *surface.Surface
	MarkerEvery int

	// OnMarker is called for every marker created (optional, for persistence).
	OnMarker func(surface string, m model.Marker)
}

// Produce implements ProduceFunc.
func (w *Waves) Produce(ctx context.Context, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x := float64(n)
	w.Line.Append(model.Sample{X: x, Y: math.Sin(0.1 * x)})
	w.Scatter.Append(model.Sample{X: x, Y: math.Cos(0.1 * x)})

	if w.Markers == nil || w.MarkerEvery <= 0 || n%int64(w.MarkerEvery) != 0 {
		return nil
	}
	m := model.Marker{
		ID:      n,
		X:       x,
		Y:       0,
		Text:    MarkerText,
		YAxisID: PrimaryYAxis,
	}
	w.Markers.AddMarker(m)
	if w.OnMarker != nil {
		w.OnMarker(w.Markers.ID(), m)
	}
	return nil
}

// ResumeAt returns the tick to continue from given restored buffers: one past
// the largest x held, or 0 when they are empty.
func ResumeAt(bufs ...*series.Buffer) int64 {
	next := int64(0)
	for _, b := range bufs {
		if last, ok := b.Last(); ok && int64(last.X)+1 > next {
			next = int64(last.X) + 1
		}
	}
	return next
}

// DampedSine returns the seed series for the synced charts:
// y = points·sin(iπ·0.1)/i for i in 1..points-1.
func DampedSine(points int) []model.Sample {
	if points < 2 {
		return nil
	}
	out := make([]model.Sample, 0, points-1)
	p := float64(points)
	for i := 1; i < points; i++ {
		fi := float64(i)
		out = append(out, model.Sample{X: fi, Y: p * math.Sin(fi*math.Pi*0.1) / fi})
	}
	return out
}
