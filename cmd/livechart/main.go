package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"livechart/config"
	"livechart/internal/app"
	"livechart/internal/bus"
	"livechart/internal/gateway"
	"livechart/internal/logger"
	"livechart/internal/metrics"
	"livechart/internal/model"
	"livechart/internal/notification"
	"livechart/internal/render/plotpng"
	"livechart/internal/ringbuf"
	redisstore "livechart/internal/store/redis"
	sqlitestore "livechart/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	lg := logger.Init("livechart", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		lg.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	lg.Info("starting",
		slog.Int("fifo_capacity", cfg.FIFOCapacity),
		slog.Duration("tick_interval", cfg.TickInterval),
		slog.Int("marker_every", cfg.MarkerEvery),
	)
	processStart := time.Now()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Alerts ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	notifier := notification.NewThrottled(notifiers, time.Minute)

	// ---- SQLite (durable samples + markers, restore) ----
	var sqlWriter *sqlitestore.Writer
	var restore model.SampleReader
	if cfg.SQLiteEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			lg.Error("sqlite dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		var err error
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
			DBPath: cfg.SQLitePath,
			Retain: cfg.FIFOCapacity * 4,
		})
		if err != nil {
			lg.Error("sqlite init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sqlWriter.OnCommit = func(n int, d time.Duration, err error) {
			prom.SQLiteCommitDur.Observe(d.Seconds())
			if err == nil {
				prom.SQLiteSamplesTotal.Add(float64(n))
			}
		}
		if cfg.RestoreOnStart {
			reader, err := sqlitestore.NewReader(cfg.SQLitePath)
			if err != nil {
				lg.Warn("restore disabled", slog.String("error", err.Error()))
			} else {
				restore = reader
			}
		}
	}
	health.SetSQLite(cfg.SQLiteEnabled(), sqlWriter != nil)

	// ---- Chart graph ----
	a, err := app.New(app.Options{
		Capacity:    cfg.FIFOCapacity,
		MarkerEvery: cfg.MarkerEvery,
		SyncPoints:  cfg.SyncPoints,
		GrowBy:      cfg.GrowBy,
		Restore:     restore,
		Logger:      lg,
		Notifier:    notifier,
	})
	if restore != nil {
		restore.Close()
	}
	if err != nil {
		lg.Error("build failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Redis (sample streams + frame pub/sub) ----
	var redisWriter *redisstore.Writer
	if cfg.RedisEnabled() {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			lg.Warn("redis init failed, continuing without redis", slog.String("error", err.Error()))
		}
	}
	health.SetRedis(cfg.RedisEnabled(), redisWriter != nil)

	var rdb *goredis.Client
	var sqlDB *sql.DB
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	if sqlWriter != nil {
		sqlDB = sqlWriter.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Sample pipeline: buffer tap → ring → pump → fan-out → stores ----
	var writers sync.WaitGroup
	if sqlWriter != nil || redisWriter != nil {
		ring := ringbuf.New(8192)
		for _, b := range a.LiveBuffers() {
			b.SetTap(ring)
		}
		pumped := make(chan model.SeriesSample, 5000)
		go ringbuf.Pump(ctx, ring, time.Millisecond, pumped)

		fanout := bus.New(5000)
		fanout.OnDrop = func(subscriber string) {
			prom.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
		}
		if sqlWriter != nil {
			ch := fanout.Subscribe("sqlite")
			writers.Add(1)
			go func() {
				defer writers.Done()
				sqlWriter.Run(ctx, ch)
			}()
			a.Waves.OnMarker = func(surface string, m model.Marker) {
				if !sqlWriter.QueueMarker(surface, m) {
					lg.Warn("marker queue full, marker not persisted",
						slog.String("surface", surface), slog.Int64("id", m.ID))
				}
			}
		}
		if redisWriter != nil {
			ch := fanout.Subscribe("redis")
			writers.Add(1)
			go func() {
				defer writers.Done()
				redisWriter.Run(ctx, ch)
			}()
		}
		go fanout.Run(ctx, pumped)

		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			var lastOverflow uint64
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, s := range fanout.ChannelStats() {
						if s.Cap > 0 {
							prom.ChannelSaturationPct.WithLabelValues("fanout_" + s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
						}
					}
					if o := ring.Overflow(); o > lastOverflow {
						prom.RingBufOverflow.Add(float64(o - lastOverflow))
						lastOverflow = o
					}
				}
			}
		}()
	}

	// ---- Render collaborators ----
	hub := gateway.NewHub(gateway.NewGestureAuth(cfg.GestureTOTPSecret), 500)
	hub.OnGesture = func(surface string, g gateway.Gesture) {
		a.UserGesture(surface, g == gateway.GestureZoomExtents)
	}
	hub.OnClients = func(n int) { prom.WSClients.Set(float64(n)) }
	hub.OnSend = func(dropped bool) {
		if dropped {
			prom.WSFramesDropped.Inc()
			return
		}
		prom.WSFramesSent.Inc()
	}

	renderers := []model.FrameRenderer{hub}
	if redisWriter != nil {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			lg.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		pub := redisstore.NewBufferedPublisher(ctx, redisWriter, cb)
		pub.OnBuffer = prom.RedisHeldFrames.Inc
		renderers = append(renderers, pub)
	}
	if cfg.PlotDir != "" {
		png, err := plotpng.New(cfg.PlotDir, cfg.PlotEvery)
		if err != nil {
			lg.Warn("png snapshots disabled", slog.String("error", err.Error()))
		} else {
			png.OnWrite = func(surface, path string, d time.Duration, err error) {
				if err != nil {
					lg.Warn("png write failed", slog.String("surface", surface), slog.String("error", err.Error()))
				}
			}
			renderers = append(renderers, png)
		}
	}

	ids := make([]string, 0, 3)
	for _, s := range a.Surfaces() {
		s.OnRefresh = prom.ObserveRefresh
		for _, r := range renderers {
			s.AddRenderer(r)
		}
		hub.Register(s)
		ids = append(ids, s.ID())
		s.Ranges().OnReject = func(err error) {
			var ire *model.InvalidRangeError
			if errors.As(err, &ire) {
				prom.RangeRejects.WithLabelValues(ire.Axis.String()).Inc()
			}
		}
	}
	health.SetSurfaces(ids)

	// ---- Feeder ----
	a.Feeder.OnTick = func(d time.Duration, err error) {
		prom.ObserveTick(d, err)
		health.SetLastTickTime(time.Now())
	}
	a.Feeder.OnOverrun = func(skipped int) {
		prom.TickOverruns.Add(float64(skipped))
	}
	if err := a.Feeder.Start(ctx, cfg.TickInterval, nil); err != nil {
		lg.Error("feeder start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	prom.FeederState.Set(float64(a.Feeder.State()))
	health.SetFeederRunning(true)

	go reportGauges(ctx, a, prom)

	// ---- Gateway HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, processStart)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("gateway listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			lg.Error("gateway server error", slog.String("error", err.Error()))
			sigCh <- syscall.SIGTERM
		}
	}()
	go hub.StartMetricsBroadcast(ctx, processStart, 5*time.Second)

	lg.Info("live feed running", slog.Int64("resume_at", a.Feeder.Next()), slog.Int("restored", a.Restored))

	sig := <-sigCh
	lg.Info("shutting down", slog.String("signal", sig.String()))

	a.Feeder.Stop()
	prom.FeederState.Set(float64(a.Feeder.State()))
	health.SetFeederRunning(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	cancel()
	writers.Wait()
	a.Close()

	if sqlWriter != nil {
		sqlWriter.Close()
	}
	if redisWriter != nil {
		redisWriter.Close()
	}
	metricsSrv.Stop(shutdownCtx)
	lg.Info("stopped")
}

// reportGauges samples buffer and feeder gauges every few seconds.
func reportGauges(ctx context.Context, a *app.App, prom *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range a.LiveBuffers() {
				prom.BufferLen.WithLabelValues(b.Name()).Set(float64(b.Len()))
				prom.BufferEvicted.WithLabelValues(b.Name()).Set(float64(b.Evicted()))
			}
			for _, s := range a.Surfaces() {
				f := s.Frame()
				prom.FramePoints.WithLabelValues(s.ID()).Set(float64(f.Points()))
			}
			auto := 0.0
			if a.Feeder.AutoZoom() {
				auto = 1
			}
			prom.AutoZoom.Set(auto)
		}
	}
}
