package model

import (
	"encoding/json"
	"time"
)

// SeriesKind selects how a render collaborator draws a series.
type SeriesKind string

const (
	KindLine    SeriesKind = "line"
	KindScatter SeriesKind = "scatter"
)

// SeriesFrame is the ordered content of one buffer at flush time.
type SeriesFrame struct {
	Name    string     `json:"name"`
	Kind    SeriesKind `json:"kind"`
	YAxisID string     `json:"y_axis_id,omitempty"`
	Samples []Sample   `json:"samples"`
}

// Frame is the consolidated snapshot a surface publishes once per flush.
// Renderers receive it by value and must not mutate the slices.
type Frame struct {
	Surface string        `json:"surface"`
	Seq     int64         `json:"seq"`
	TS      time.Time     `json:"ts"`
	X       Range         `json:"x"`
	Y       Range         `json:"y"`
	Series  []SeriesFrame `json:"series"`
	Markers []Marker      `json:"markers"`
}

// JSON returns the JSON-encoded frame (ignoring errors for hot-path usage).
func (f *Frame) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// Points returns the total number of samples across all series.
func (f *Frame) Points() int {
	n := 0
	for i := range f.Series {
		n += len(f.Series[i].Samples)
	}
	return n
}
