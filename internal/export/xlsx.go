// Package export writes persisted series and markers to an xlsx workbook:
// one sheet per series plus a "markers" sheet.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"livechart/internal/model"
)

// MarkersSheet is the name of the marker sheet.
const MarkersSheet = "markers"

// Reader is what the exporter needs from a sample store.
type Reader interface {
	model.SampleReader
	SeriesNames() ([]string, error)
}

// Options selects what to export.
type Options struct {
	// Series to export. Empty means every stored series.
	Series []string
	// Surfaces whose markers are exported. Empty skips the marker sheet.
	Surfaces []string
	// Limit is the number of most recent rows per series (<= 0: all).
	Limit int
}

// Summary reports what a workbook contains.
type Summary struct {
	Sheets  []string
	Samples int
	Markers int
}

var samplesHeader = []interface{}{"x", "y", "ts"}

var markersHeader = []interface{}{"surface", "id", "x", "y", "text", "y_axis"}

// Workbook builds the workbook in memory. The caller closes the file.
func Workbook(r Reader, opts Options) (*excelize.File, Summary, error) {
	var sum Summary
	names := opts.Series
	if len(names) == 0 {
		var err error
		if names, err = r.SeriesNames(); err != nil {
			return nil, sum, fmt.Errorf("export: list series: %w", err)
		}
	}

	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)
	used := make(map[string]bool)
	if len(opts.Surfaces) > 0 {
		used[MarkersSheet] = true
	}

	for _, name := range names {
		rows, err := r.ReadLatest(name, opts.Limit)
		if err != nil {
			f.Close()
			return nil, sum, fmt.Errorf("export: read %s: %w", name, err)
		}
		sheet := uniqueSheetName(name, used)
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, sum, fmt.Errorf("export: sheet %s: %w", sheet, err)
		}
		if err := f.SetSheetRow(sheet, "A1", &samplesHeader); err != nil {
			f.Close()
			return nil, sum, err
		}
		for i, s := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			row := []interface{}{s.X, s.Y, s.TS.Format(time.RFC3339Nano)}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				f.Close()
				return nil, sum, err
			}
		}
		sum.Sheets = append(sum.Sheets, sheet)
		sum.Samples += len(rows)
	}

	if len(opts.Surfaces) > 0 {
		if _, err := f.NewSheet(MarkersSheet); err != nil {
			f.Close()
			return nil, sum, err
		}
		if err := f.SetSheetRow(MarkersSheet, "A1", &markersHeader); err != nil {
			f.Close()
			return nil, sum, err
		}
		rowN := 2
		for _, surface := range opts.Surfaces {
			ms, err := r.ReadMarkers(surface, 0)
			if err != nil {
				f.Close()
				return nil, sum, fmt.Errorf("export: read markers %s: %w", surface, err)
			}
			for _, m := range ms {
				cell, _ := excelize.CoordinatesToCellName(1, rowN)
				row := []interface{}{surface, m.ID, m.X, m.Y, m.Text, m.YAxisID}
				if err := f.SetSheetRow(MarkersSheet, cell, &row); err != nil {
					f.Close()
					return nil, sum, err
				}
				rowN++
			}
			sum.Markers += len(ms)
		}
		sum.Sheets = append(sum.Sheets, MarkersSheet)
	}

	if len(sum.Sheets) == 0 {
		f.Close()
		return nil, sum, fmt.Errorf("export: nothing to export")
	}
	if !used[strings.ToLower(defaultSheet)] {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			f.Close()
			return nil, sum, err
		}
	}
	return f, sum, nil
}

// WriteXLSX builds the workbook and saves it to path.
func WriteXLSX(r Reader, path string, opts Options) (Summary, error) {
	f, sum, err := Workbook(r, opts)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return sum, fmt.Errorf("export: save %s: %w", path, err)
	}
	return sum, nil
}

// uniqueSheetName maps a series name to a valid, unused sheet name
// (at most 31 characters, none of []:*?/\).
func uniqueSheetName(name string, used map[string]bool) string {
	base := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if base == "" {
		base = "series"
	}
	if r := []rune(base); len(r) > 31 {
		base = string(r[:31])
	}
	cand := base
	for i := 2; used[strings.ToLower(cand)]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		r := []rune(base)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		cand = string(r) + suffix
	}
	used[strings.ToLower(cand)] = true
	return cand
}
