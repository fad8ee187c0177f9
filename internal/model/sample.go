package model

import (
	"encoding/json"
	"time"
)

// Sample is a single (x, y) data point. Immutable once appended to a buffer.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SeriesSample tags a sample with the series it was appended to and the wall
// time of the append. This is the unit handed to persistence.
type SeriesSample struct {
	Series string    `json:"series"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	TS     time.Time `json:"ts"`
}

// Sample returns the bare data point.
func (s *SeriesSample) Sample() Sample {
	return Sample{X: s.X, Y: s.Y}
}

// JSON returns the JSON-encoded sample (ignoring errors for hot-path usage).
func (s *SeriesSample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// StreamKey returns the Redis stream holding this series' samples.
func (s *SeriesSample) StreamKey() string {
	return "series:" + s.Series
}

// PubSubChannel returns the Redis PubSub channel for live sample updates.
func (s *SeriesSample) PubSubChannel() string {
	return "pub:series:" + s.Series
}
