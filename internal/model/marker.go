package model

// Marker is a text annotation pinned to a data position. The feeder creates
// one every K-th sample.
type Marker struct {
	ID      int64   `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Text    string  `json:"text"`
	YAxisID string  `json:"y_axis_id,omitempty"`
}
