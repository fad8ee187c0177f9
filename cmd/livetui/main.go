// Command livetui runs the live chart graph in-process and draws its surfaces
// in the terminal. Arrow keys pan, +/- zoom, z fits to the data.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"livechart/config"
	"livechart/internal/app"
	"livechart/internal/logger"
	"livechart/internal/render/term"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the TUI; logs go to LOG_FILE or nowhere.
	var logOut io.Writer = io.Discard
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	lg := logger.InitWriter(logOut, "livetui", logger.ParseLevel(cfg.LogLevel))
	log.SetOutput(logOut)

	a, err := app.New(app.Options{
		Capacity:    cfg.FIFOCapacity,
		MarkerEvery: cfg.MarkerEvery,
		SyncPoints:  cfg.SyncPoints,
		GrowBy:      cfg.GrowBy,
		Logger:      lg,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build graph: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	renderer := term.NewRenderer()
	for _, s := range a.Surfaces() {
		s.AddRenderer(renderer)
		s.Invalidate()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Feeder.Start(ctx, cfg.TickInterval, nil); err != nil {
		fmt.Fprintf(os.Stderr, "start feeder: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(NewModel(a, renderer), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		lg.Error("tui exited", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
