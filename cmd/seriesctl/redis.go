package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livechart/internal/app"
	"livechart/internal/model"
	"livechart/internal/render/term"
	redisstore "livechart/internal/store/redis"
)

func openRedis() (*redisstore.Reader, error) {
	return redisstore.NewReader(redisstore.ReaderConfig{Addr: redisAddr, Password: redisPassword})
}

func newFrameCmd() *cobra.Command {
	var (
		surface string
		asJSON  bool
		width   int
		height  int
	)
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Show the last frame a surface published",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRedis()
			if err != nil {
				return err
			}
			defer r.Close()

			f, err := r.LatestFrame(cmd.Context(), surface)
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("no frame stored for %s", surface)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(f)
			}
			fmt.Fprintln(cmd.OutOrStdout(), term.Render(*f, width, height))
			return nil
		},
	}
	cmd.Flags().StringVar(&surface, "surface", app.SurfaceTutorial, "Surface id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the frame as JSON")
	cmd.Flags().IntVar(&width, "width", 100, "Chart width in cells")
	cmd.Flags().IntVar(&height, "height", 24, "Chart height in cells")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		surfaces []string
		every    time.Duration
		width    int
		height   int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live frames of surfaces in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRedis()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			frames := make(chan model.Frame, 64)
			errCh := make(chan error, 1)
			go func() { errCh <- r.SubscribeFrames(ctx, surfaces, frames) }()

			latest := make(map[string]model.Frame)
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				case f := <-frames:
					latest[f.Surface] = f
				case <-ticker.C:
					if len(latest) == 0 {
						continue
					}
					out := cmd.OutOrStdout()
					fmt.Fprint(out, "\033[H\033[2J")
					for _, id := range surfaces {
						if f, ok := latest[id]; ok {
							fmt.Fprintln(out, term.Render(f, width, height))
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&surfaces, "surface", []string{app.SurfaceTutorial}, "Surface ids")
	cmd.Flags().DurationVar(&every, "every", 250*time.Millisecond, "Redraw interval")
	cmd.Flags().IntVar(&width, "width", 100, "Chart width in cells")
	cmd.Flags().IntVar(&height, "height", 20, "Chart height in cells")
	return cmd
}

func newTailCmd() *cobra.Command {
	var (
		series string
		count  int64
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest samples of a series stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRedis()
			if err != nil {
				return err
			}
			defer r.Close()

			rows, err := r.ReadSamples(cmd.Context(), series, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range rows {
				fmt.Fprintf(out, "%s\t%-10g\t%g\n", s.TS.Format(time.RFC3339Nano), s.X, s.Y)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&series, "series", app.SeriesLine, "Series name")
	cmd.Flags().Int64VarP(&count, "count", "n", 20, "Number of samples")
	return cmd
}
