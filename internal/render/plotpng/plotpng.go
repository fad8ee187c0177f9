// Package plotpng renders surface frames to PNG files with gonum/plot.
package plotpng

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"livechart/internal/model"
)

const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Build lays a frame out as a plot clipped to the frame's visible ranges.
func Build(f model.Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = f.Surface + " #" + strconv.FormatInt(f.Seq, 10)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	for i, s := range f.Series {
		pts := make(plotter.XYs, len(s.Samples))
		for j, smp := range s.Samples {
			pts[j].X = smp.X
			pts[j].Y = smp.Y
		}
		switch s.Kind {
		case model.KindScatter:
			sc, err := plotter.NewScatter(pts)
			if err != nil {
				return nil, fmt.Errorf("series %s: %w", s.Name, err)
			}
			sc.GlyphStyle.Color = plotutil.Color(i)
			sc.GlyphStyle.Shape = draw.CircleGlyph{}
			sc.GlyphStyle.Radius = vg.Points(1.5)
			p.Add(sc)
			p.Legend.Add(s.Name, sc)
		default:
			l, err := plotter.NewLine(pts)
			if err != nil {
				return nil, fmt.Errorf("series %s: %w", s.Name, err)
			}
			l.LineStyle.Color = plotutil.Color(i)
			l.LineStyle.Width = vg.Points(1)
			p.Add(l)
			p.Legend.Add(s.Name, l)
		}
	}

	if len(f.Markers) > 0 {
		xys := make(plotter.XYs, len(f.Markers))
		texts := make([]string, len(f.Markers))
		for i, m := range f.Markers {
			xys[i].X, xys[i].Y = m.X, m.Y
			texts[i] = m.Text
		}
		labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
		if err != nil {
			return nil, fmt.Errorf("markers: %w", err)
		}
		for i := range labels.TextStyle {
			labels.TextStyle[i].Color = color.RGBA{R: 160, A: 255}
		}
		p.Add(labels)
	}

	// Visible ranges win over the data range p.Add computed.
	p.X.Min, p.X.Max = f.X.Min, f.X.Max
	p.Y.Min, p.Y.Max = f.Y.Min, f.Y.Max
	return p, nil
}

// WriteFile renders f to a PNG at path. The file is replaced atomically.
func WriteFile(f model.Frame, path string, w, h vg.Length) error {
	p, err := Build(f)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("plotpng: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".frame-*.png")
	if err != nil {
		return fmt.Errorf("plotpng: %w", err)
	}
	if _, err := wt.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("plotpng: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("plotpng: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("plotpng: %w", err)
	}
	return nil
}

// Renderer is a model.FrameRenderer writing <dir>/<surface>.png, at most
// once per interval per surface. Frames arriving inside the interval are
// skipped, not queued.
type Renderer struct {
	dir           string
	every         time.Duration
	width, height vg.Length

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time

	// OnWrite is called after every attempted write (optional).
	OnWrite func(surface, path string, d time.Duration, err error)
}

// New creates a Renderer. The directory is created if missing.
func New(dir string, every time.Duration) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("plotpng: %w", err)
	}
	return &Renderer{
		dir:    dir,
		every:  every,
		width:  DefaultWidth,
		height: DefaultHeight,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}, nil
}

// Path returns the file a surface is written to.
func (r *Renderer) Path(surface string) string {
	return filepath.Join(r.dir, surface+".png")
}

// Render implements model.FrameRenderer.
func (r *Renderer) Render(ctx context.Context, f model.Frame) error {
	now := r.now()
	r.mu.Lock()
	if last, ok := r.last[f.Surface]; ok && now.Sub(last) < r.every {
		r.mu.Unlock()
		return nil
	}
	r.last[f.Surface] = now
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	path := r.Path(f.Surface)
	start := time.Now()
	err := WriteFile(f, path, r.width, r.height)
	if r.OnWrite != nil {
		r.OnWrite(f.Surface, path, time.Since(start), err)
	}
	return err
}
