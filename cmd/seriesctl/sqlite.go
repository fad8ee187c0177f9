package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"livechart/internal/app"
	"livechart/internal/export"
	"livechart/internal/render/plotpng"
	sqlitestore "livechart/internal/store/sqlite"
)

func openReader() (*sqlitestore.Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %s", dbPath)
	}
	return sqlitestore.NewReader(dbPath)
}

func newExportCmd() *cobra.Command {
	var (
		out      string
		series   []string
		surfaces []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored series and markers to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader()
			if err != nil {
				return err
			}
			defer r.Close()

			sum, err := export.WriteXLSX(r, out, export.Options{
				Series:   series,
				Surfaces: surfaces,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d samples, %d markers, sheets %v\n",
				out, sum.Samples, sum.Markers, sum.Sheets)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "series.xlsx", "Output workbook")
	cmd.Flags().StringSliceVar(&series, "series", nil, "Series to export (default: all)")
	cmd.Flags().StringSliceVar(&surfaces, "markers", []string{app.SurfaceTutorial}, "Surfaces whose markers are exported")
	cmd.Flags().IntVar(&limit, "limit", 0, "Most recent rows per series (0: all)")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var (
		out      string
		surface  string
		series   []string
		capacity int
		growBy   float64
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the last stored window of a surface to PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader()
			if err != nil {
				return err
			}
			defer r.Close()

			f, err := app.Snapshot(r, app.SnapshotOptions{
				Surface:  surface,
				Series:   series,
				Capacity: capacity,
				GrowBy:   growBy,
			})
			if err != nil {
				return err
			}
			if f.Points() == 0 {
				return fmt.Errorf("no stored samples for %v", series)
			}
			if err := plotpng.WriteFile(f, out, plotpng.DefaultWidth, plotpng.DefaultHeight); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d points, x=[%g, %g]\n", out, f.Points(), f.X.Min, f.X.Max)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "tutorial.png", "Output PNG")
	cmd.Flags().StringVar(&surface, "surface", app.SurfaceTutorial, "Surface id (for markers and title)")
	cmd.Flags().StringSliceVar(&series, "series", []string{app.SeriesLine, app.SeriesScatter}, "Series to draw; the first as a line")
	cmd.Flags().IntVar(&capacity, "capacity", 500, "Window size per series")
	cmd.Flags().Float64Var(&growBy, "grow-by", 0.1, "Zoom-extents padding")
	return cmd
}
