package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the feed core from concrete render and storage
// implementations (websocket hub, Redis, SQLite, PNG, terminal).

// FrameRenderer consumes frames flushed by a surface. Render is called once
// per flush, from the goroutine that released the outermost update scope.
type FrameRenderer interface {
	Render(ctx context.Context, f Frame) error
}

// SampleWriter persists appended samples.
type SampleWriter interface {
	// Run reads samples from ch and writes them.
	// Blocks until ctx is cancelled or ch is closed.
	Run(ctx context.Context, ch <-chan SeriesSample)

	// Close releases underlying resources.
	Close() error
}

// SampleReader reads persisted samples for restore, export and offline render.
type SampleReader interface {
	// ReadLatest returns up to limit of the most recent samples of a series,
	// ordered by x ascending.
	ReadLatest(series string, limit int) ([]SeriesSample, error)

	// ReadMarkers returns up to limit of the most recent markers of a surface,
	// ordered by x ascending.
	ReadMarkers(surface string, limit int) ([]Marker, error)

	// Close releases underlying resources.
	Close() error
}
