package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"livechart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	markerQueueSize   = 256
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/series.db"

	// Retain is the number of most recent samples kept per series after each
	// flush. 0 keeps everything.
	Retain int
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db      *sql.DB
	retain  int
	markers chan surfaceMarker

	// OnCommit is called after each committed batch (optional, for metrics).
	OnCommit func(n int, d time.Duration, err error)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, retain: cfg.Retain, markers: make(chan surfaceMarker, markerQueueSize)}, nil
}

type surfaceMarker struct {
	surface string
	m       model.Marker
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			series TEXT    NOT NULL,
			x      REAL    NOT NULL,
			y      REAL    NOT NULL,
			ts     INTEGER NOT NULL,
			PRIMARY KEY (series, x)
		);

		CREATE TABLE IF NOT EXISTS markers (
			surface   TEXT    NOT NULL,
			id        INTEGER NOT NULL,
			x         REAL    NOT NULL,
			y         REAL    NOT NULL,
			text      TEXT    NOT NULL,
			y_axis_id TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (surface, id)
		);
	`)
	return err
}

// Run reads samples from ch and inserts them in batched transactions.
// Flushes every batchSize samples OR every flushDelay, whichever first.
// Markers queued with QueueMarker are written on the same goroutine.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.SeriesSample) {
	batch := make([]model.SeriesSample, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		defer w.drainMarkers()
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.insertBatch(batch)
		if err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		}
		if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what the bus already handed us.
			for {
				select {
				case s, ok := <-ch:
					if !ok {
						flush()
						return
					}
					batch = append(batch, s)
				default:
					flush()
					return
				}
			}

		case s, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case sm := <-w.markers:
			w.writeQueued(sm)

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// QueueMarker hands a marker to Run without blocking the caller. It reports
// false when the queue is full and the marker was dropped.
func (w *Writer) QueueMarker(surface string, m model.Marker) bool {
	select {
	case w.markers <- surfaceMarker{surface: surface, m: m}:
		return true
	default:
		return false
	}
}

func (w *Writer) drainMarkers() {
	for {
		select {
		case sm := <-w.markers:
			w.writeQueued(sm)
		default:
			return
		}
	}
}

func (w *Writer) writeQueued(sm surfaceMarker) {
	if err := w.WriteMarker(sm.surface, sm.m); err != nil {
		log.Printf("[sqlite] %v", err)
	}
}

// insertBatch inserts a batch of samples in a single transaction and trims
// each touched series down to the retention limit.
func (w *Writer) insertBatch(samples []model.SeriesSample) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO samples (series, x, y, ts)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	touched := make(map[string]struct{})
	for _, s := range samples {
		if _, err := stmt.Exec(s.Series, s.X, s.Y, s.TS.UnixNano()); err != nil {
			tx.Rollback()
			return err
		}
		touched[s.Series] = struct{}{}
	}

	if w.retain > 0 {
		for name := range touched {
			_, err := tx.Exec(`
				DELETE FROM samples
				WHERE series = ? AND x < (
					SELECT MIN(x) FROM (
						SELECT x FROM samples WHERE series = ? ORDER BY x DESC LIMIT ?
					)
				)
			`, name, name, w.retain)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("trim %s: %w", name, err)
			}
		}
	}

	return tx.Commit()
}

// WriteMarker stores one marker synchronously. Callers on the feed path use
// QueueMarker instead.
func (w *Writer) WriteMarker(surface string, m model.Marker) error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO markers (surface, id, x, y, text, y_axis_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, surface, m.ID, m.X, m.Y, m.Text, m.YAxisID)
	if err != nil {
		return fmt.Errorf("sqlite insert marker: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
