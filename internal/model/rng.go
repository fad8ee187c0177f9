package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Axis identifies one of the two visible-range axes of a chart.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	default:
		return "unknown"
	}
}

// ParseAxis accepts "x"/"y" in any case.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// ErrInvalidRange is matched by every *InvalidRangeError via errors.Is.
var ErrInvalidRange = errors.New("invalid range")

// InvalidRangeError reports a visible range whose min is greater than its max
// or whose bounds are not finite numbers.
type InvalidRangeError struct {
	Axis Axis
	Min  float64
	Max  float64
}

func (e *InvalidRangeError) Error() string {
	if !finite(e.Min) || !finite(e.Max) {
		return fmt.Sprintf("invalid %s range: bounds must be finite, got [%g, %g]", e.Axis, e.Min, e.Max)
	}
	return fmt.Sprintf("invalid %s range: min %g > max %g", e.Axis, e.Min, e.Max)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// Range is a visible window on one axis. For ranges produced by NewRange both
// bounds are finite and Min <= Max.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NewRange validates min <= max with both bounds finite.
func NewRange(axis Axis, min, max float64) (Range, error) {
	if !finite(min) || !finite(max) || !(min <= max) {
		return Range{}, &InvalidRangeError{Axis: axis, Min: min, Max: max}
	}
	return Range{Min: min, Max: max}, nil
}

// Span returns Max - Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Grow pads both ends by g times the span.
func (r Range) Grow(g float64) Range {
	d := g * r.Span()
	return Range{Min: r.Min - d, Max: r.Max + d}
}

// Union returns the smallest range covering both r and o.
func (r Range) Union(o Range) Range {
	if o.Min < r.Min {
		r.Min = o.Min
	}
	if o.Max > r.Max {
		r.Max = o.Max
	}
	return r
}

// Valid reports whether NewRange would accept r.
func (r Range) Valid() bool {
	return finite(r.Min) && finite(r.Max) && r.Min <= r.Max
}

// Contains reports whether v lies inside the closed range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
