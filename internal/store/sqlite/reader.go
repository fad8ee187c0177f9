package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"livechart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for restore, export and offline
// rendering.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadLatest returns up to limit of the most recent samples of a series,
// ordered by x ascending. limit <= 0 returns all of them.
func (r *Reader) ReadLatest(series string, limit int) ([]model.SeriesSample, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.Query(`
		SELECT series, x, y, ts FROM (
			SELECT series, x, y, ts FROM samples
			WHERE series = ?
			ORDER BY x DESC
			LIMIT ?
		) ORDER BY x ASC
	`, series, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	var out []model.SeriesSample
	for rows.Next() {
		var s model.SeriesSample
		var tsNano int64
		if err := rows.Scan(&s.Series, &s.X, &s.Y, &tsNano); err != nil {
			return nil, fmt.Errorf("sqlite scan samples: %w", err)
		}
		s.TS = time.Unix(0, tsNano).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadMarkers returns up to limit of the most recent markers of a surface,
// ordered by x ascending.
func (r *Reader) ReadMarkers(surface string, limit int) ([]model.Marker, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(`
		SELECT id, x, y, text, y_axis_id FROM (
			SELECT id, x, y, text, y_axis_id FROM markers
			WHERE surface = ?
			ORDER BY x DESC
			LIMIT ?
		) ORDER BY x ASC
	`, surface, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query markers: %w", err)
	}
	defer rows.Close()

	var out []model.Marker
	for rows.Next() {
		var m model.Marker
		if err := rows.Scan(&m.ID, &m.X, &m.Y, &m.Text, &m.YAxisID); err != nil {
			return nil, fmt.Errorf("sqlite scan markers: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SeriesNames lists every series with at least one stored sample.
func (r *Reader) SeriesNames() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT series FROM samples ORDER BY series`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
