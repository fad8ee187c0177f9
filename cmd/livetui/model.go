package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livechart/internal/app"
	"livechart/internal/model"
	"livechart/internal/render/term"
)

const (
	panStep    = 0.1
	zoomFactor = 0.8
	refreshDur = 100 * time.Millisecond
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Model is the terminal UI state: which surface is shown and the last status.
type Model struct {
	app      *app.App
	renderer *term.Renderer
	ids      []string
	focus    int

	width  int
	height int

	status string
	err    error
}

// NewModel creates a model showing the tutorial surface first.
func NewModel(a *app.App, r *term.Renderer) *Model {
	ids := make([]string, 0, 3)
	for _, s := range a.Surfaces() {
		ids = append(ids, s.ID())
	}
	return &Model{app: a, renderer: r, ids: ids, width: 100, height: 30}
}

// tickMsg is sent periodically to redraw from the renderer.
type tickMsg struct{}

func (m *Model) tickRefresh() tea.Cmd {
	return tea.Tick(refreshDur, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd { return m.tickRefresh() }

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			m.focus = (m.focus + 1) % len(m.ids)
			m.status, m.err = "", nil
		case "shift+tab":
			m.focus = (m.focus + len(m.ids) - 1) % len(m.ids)
			m.status, m.err = "", nil
		case "left":
			m.pan(model.AxisX, -panStep)
		case "right":
			m.pan(model.AxisX, panStep)
		case "up":
			m.pan(model.AxisY, panStep)
		case "down":
			m.pan(model.AxisY, -panStep)
		case "+", "=":
			m.zoom(zoomFactor)
		case "-":
			m.zoom(1 / zoomFactor)
		case "z":
			m.zoomExtents()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, m.tickRefresh()
	}
	return m, nil
}

func (m *Model) current() string { return m.ids[m.focus] }

// pan shifts one axis by a fraction of its span.
func (m *Model) pan(axis model.Axis, frac float64) {
	s, _ := m.app.Surface(m.current())
	r := s.Ranges().Range(axis)
	d := r.Span() * frac
	if d == 0 {
		d = frac
	}
	m.apply(axis, r.Min+d, r.Max+d)
}

// zoom scales both axes around their centers as one gesture.
func (m *Model) zoom(factor float64) {
	id := m.current()
	s, _ := m.app.Surface(id)
	x, y := s.Ranges().Ranges()
	x, y = scale(x, factor), scale(y, factor)
	if err := s.SetVisibleRanges(x, y); err != nil {
		m.status, m.err = "", err
		return
	}
	m.app.UserGesture(id, false)
	m.status = fmt.Sprintf("%s x = [%s, %s] y = [%s, %s]", id, fmtNum(x.Min), fmtNum(x.Max), fmtNum(y.Min), fmtNum(y.Max))
	m.err = nil
}

func scale(r model.Range, factor float64) model.Range {
	mid := (r.Min + r.Max) / 2
	half := r.Span() / 2 * factor
	return model.Range{Min: mid - half, Max: mid + half}
}

func (m *Model) apply(axis model.Axis, min, max float64) {
	id := m.current()
	s, _ := m.app.Surface(id)
	if err := s.SetVisibleRange(axis, min, max); err != nil {
		m.status, m.err = "", err
		return
	}
	m.app.UserGesture(id, false)
	m.status = fmt.Sprintf("%s %s = [%s, %s]", id, axis, fmtNum(min), fmtNum(max))
	m.err = nil
}

func (m *Model) zoomExtents() {
	id := m.current()
	s, _ := m.app.Surface(id)
	if err := s.ZoomExtents(); err != nil {
		m.status, m.err = "", err
		return
	}
	m.app.UserGesture(id, true)
	m.status, m.err = id+" zoomed to extents", nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	chartH := m.height - 6
	if chartH < 5 {
		chartH = 5
	}
	if f, ok := m.renderer.Latest(m.current()); ok {
		b.WriteString(term.Render(f, m.width-12, chartH))
	} else {
		b.WriteString("waiting for first frame...")
	}
	b.WriteString("\n")

	auto := "off"
	if m.app.Feeder.AutoZoom() {
		auto = "on"
	}
	ticks, failures, skipped := m.app.Feeder.Stats()
	b.WriteString(statusStyle.Render(fmt.Sprintf("surface %s (%d/%d)  feeder %s  next %d  ticks %d  failed %d  skipped %d  auto-zoom %s",
		m.current(), m.focus+1, len(m.ids), m.app.Feeder.State(), m.app.Feeder.Next(), ticks, failures, skipped, auto)))
	b.WriteString("\n")

	var ire *model.InvalidRangeError
	switch {
	case errors.As(m.err, &ire):
		b.WriteString(errorStyle.Render("rejected: " + ire.Error()))
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	default:
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("←/→ pan x  ↑/↓ pan y  +/- zoom  z extents  tab surface  q quit"))
	return b.String()
}

func fmtNum(v float64) string { return fmt.Sprintf("%.4g", v) }
