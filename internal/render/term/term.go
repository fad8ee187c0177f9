// Package term draws surface frames as character charts for terminals.
package term

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"livechart/internal/model"
)

const axisWidth = 9 // "%8s│"

// Cell glyphs, in drawing order: later ones win.
const (
	cellEmpty   = ' '
	cellMarker  = '¦'
	cellLine    = '•'
	cellScatter = '∘'
)

var (
	borderColor = lipgloss.Color("#374151")
	mutedColor  = lipgloss.Color("#6B7280")

	seriesColors = []lipgloss.Color{
		lipgloss.Color("#10B981"),
		lipgloss.Color("#F59E0B"),
		lipgloss.Color("#60A5FA"),
		lipgloss.Color("#EF4444"),
	}

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	axisStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	markerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// cell is one plotted character and the series index that drew it (-1 for markers).
type cell struct {
	ch     rune
	series int
}

// Grid rasterizes the frame's visible window into h rows of w cells, row 0
// on top. Samples outside the visible ranges are clipped.
func Grid(f model.Frame, w, h int) [][]rune {
	cells := layout(f, w, h)
	out := make([][]rune, len(cells))
	for r, row := range cells {
		out[r] = make([]rune, len(row))
		for c, cl := range row {
			out[r][c] = cl.ch
		}
	}
	return out
}

func layout(f model.Frame, w, h int) [][]cell {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	cells := make([][]cell, h)
	for r := range cells {
		cells[r] = make([]cell, w)
		for c := range cells[r] {
			cells[r][c] = cell{ch: cellEmpty, series: -1}
		}
	}

	for _, m := range f.Markers {
		c, ok := column(m.X, f.X, w)
		if !ok {
			continue
		}
		for r := 0; r < h; r++ {
			cells[r][c] = cell{ch: cellMarker, series: -1}
		}
	}

	for i, s := range f.Series {
		ch := cellLine
		if s.Kind == model.KindScatter {
			ch = cellScatter
		}
		for _, smp := range s.Samples {
			c, okc := column(smp.X, f.X, w)
			r, okr := row(smp.Y, f.Y, h)
			if okc && okr {
				cells[r][c] = cell{ch: ch, series: i}
			}
		}
	}
	return cells
}

func column(x float64, rng model.Range, w int) (int, bool) {
	if !rng.Contains(x) {
		return 0, false
	}
	if rng.Span() == 0 {
		return w / 2, true
	}
	c := int((x-rng.Min)/rng.Span()*float64(w-1) + 0.5)
	return c, true
}

func row(y float64, rng model.Range, h int) (int, bool) {
	if !rng.Contains(y) {
		return 0, false
	}
	if rng.Span() == 0 {
		return h / 2, true
	}
	r := int((rng.Max-y)/rng.Span()*float64(h-1) + 0.5)
	return r, true
}

// Render draws the frame in a bordered panel of roughly width×height
// terminal cells, with a Y axis, X range footer and legend.
func Render(f model.Frame, width, height int) string {
	plotW := width - axisWidth - 4 // border + padding
	plotH := height - 6            // border, title, x axis, legend
	if plotW < 10 {
		plotW = 10
	}
	if plotH < 3 {
		plotH = 3
	}
	cells := layout(f, plotW, plotH)

	var b strings.Builder
	for r, line := range cells {
		label := ""
		switch r {
		case 0:
			label = formatNum(f.Y.Max)
		case len(cells) - 1:
			label = formatNum(f.Y.Min)
		}
		b.WriteString(axisStyle.Render(fmt.Sprintf("%8s│", label)))
		for _, cl := range line {
			b.WriteString(styleFor(cl).Render(string(cl.ch)))
		}
		b.WriteByte('\n')
	}
	b.WriteString(axisStyle.Render(strings.Repeat("─", axisWidth-1) + "┴" + strings.Repeat("─", plotW)))
	b.WriteByte('\n')

	lo, hi := formatNum(f.X.Min), formatNum(f.X.Max)
	gap := plotW - len(lo) - len(hi)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(axisStyle.Render(strings.Repeat(" ", axisWidth) + lo + strings.Repeat(" ", gap) + hi))

	title := titleStyle.Render(fmt.Sprintf("%s  #%d", f.Surface, f.Seq))
	body := lipgloss.JoinVertical(lipgloss.Left, title, b.String(), legend(f))
	return panelStyle.Render(body)
}

func legend(f model.Frame) string {
	parts := make([]string, 0, len(f.Series)+1)
	for i, s := range f.Series {
		ch := cellLine
		if s.Kind == model.KindScatter {
			ch = cellScatter
		}
		style := lipgloss.NewStyle().Foreground(seriesColors[i%len(seriesColors)])
		parts = append(parts, style.Render(string(ch))+" "+fmt.Sprintf("%s (%d)", s.Name, len(s.Samples)))
	}
	if len(f.Markers) > 0 {
		texts := make([]string, len(f.Markers))
		for i, m := range f.Markers {
			texts[i] = m.Text
		}
		parts = append(parts, markerStyle.Render(string(cellMarker))+" "+strings.Join(texts, ","))
	}
	return strings.Join(parts, "   ")
}

func styleFor(cl cell) lipgloss.Style {
	switch {
	case cl.ch == cellMarker:
		return markerStyle
	case cl.series >= 0:
		return lipgloss.NewStyle().Foreground(seriesColors[cl.series%len(seriesColors)])
	}
	return lipgloss.NewStyle()
}

func formatNum(v float64) string {
	switch a := math.Abs(v); {
	case a >= 1e6 || (a < 1e-3 && a != 0):
		return fmt.Sprintf("%.2e", v)
	case a >= 100:
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// Renderer is a model.FrameRenderer that keeps the latest frame per surface
// for a terminal UI to draw.
type Renderer struct {
	mu     sync.RWMutex
	latest map[string]model.Frame

	// OnFrame is called for every frame received (optional).
	OnFrame func(f model.Frame)
}

// NewRenderer creates an empty Renderer.
func NewRenderer() *Renderer {
	return &Renderer{latest: make(map[string]model.Frame)}
}

// Render implements model.FrameRenderer.
func (r *Renderer) Render(_ context.Context, f model.Frame) error {
	r.mu.Lock()
	r.latest[f.Surface] = f
	r.mu.Unlock()
	if r.OnFrame != nil {
		r.OnFrame(f)
	}
	return nil
}

// Latest returns the last frame of a surface.
func (r *Renderer) Latest(surface string) (model.Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.latest[surface]
	return f, ok
}
