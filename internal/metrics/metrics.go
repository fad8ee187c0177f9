// Package metrics exposes Prometheus metrics and the /healthz endpoint of
// the live chart feed.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the feed.
type Metrics struct {
	// Feeder
	TicksTotal    prometheus.Counter
	TickFailures  prometheus.Counter
	TickDur       prometheus.Histogram
	TickOverruns  prometheus.Counter // periods skipped by slow ticks
	FeederState   prometheus.Gauge   // 0=idle, 1=running, 2=stopped
	AutoZoom      prometheus.Gauge   // 1 while per-tick zoom-extents is on
	LastTickStamp prometheus.Gauge

	// Surfaces
	FramesTotal   *prometheus.CounterVec // labels: surface
	RefreshErrors *prometheus.CounterVec // labels: surface
	RefreshDur    prometheus.Histogram
	FramePoints   *prometheus.GaugeVec   // labels: surface
	RangeRejects  *prometheus.CounterVec // labels: axis

	// Buffers
	BufferLen     *prometheus.GaugeVec // labels: series
	BufferEvicted *prometheus.GaugeVec // labels: series

	// Sample pipeline
	RingBufOverflow      prometheus.Counter
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	SQLiteCommitDur      prometheus.Histogram
	SQLiteSamplesTotal   prometheus.Counter

	// Redis frame publishing
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisHeldFrames          prometheus.Counter

	// Gateway
	WSClients       prometheus.Gauge
	WSFramesSent    prometheus.Counter
	WSFramesDropped prometheus.Counter
}

// NewMetrics registers and returns all metrics on reg (nil: the default
// registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_ticks_total",
			Help: "Feeder ticks completed",
		}),
		TickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_tick_failures_total",
			Help: "Feeder ticks whose producer or flush failed",
		}),
		TickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechart_tick_duration_seconds",
			Help:    "Wall time of one tick including the frame flush",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_tick_overrun_periods_total",
			Help: "Timer periods skipped because a tick outlasted the interval",
		}),
		FeederState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechart_feeder_state",
			Help: "Feeder state (0=idle, 1=running, 2=stopped)",
		}),
		AutoZoom: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechart_auto_zoom",
			Help: "1 while the feeder zooms to extents on every tick",
		}),
		LastTickStamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechart_last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick",
		}),

		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechart_frames_total",
			Help: "Frames flushed per surface",
		}, []string{"surface"}),
		RefreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechart_refresh_errors_total",
			Help: "Flushes where at least one renderer failed",
		}, []string{"surface"}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechart_refresh_duration_seconds",
			Help:    "Time to build a frame and hand it to every renderer",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		FramePoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechart_frame_points",
			Help: "Samples in the last frame of a surface",
		}, []string{"surface"}),
		RangeRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechart_range_rejects_total",
			Help: "Visible range changes rejected because min > max",
		}, []string{"axis"}),

		BufferLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechart_buffer_len",
			Help: "Samples held per series buffer",
		}, []string{"series"}),
		BufferEvicted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechart_buffer_evicted",
			Help: "Samples evicted from the head of a series buffer since start",
		}, []string{"series"}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_ringbuf_overflow_total",
			Help: "Samples not persisted because the persistence ring was full",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechart_fanout_drops_total",
			Help: "Samples dropped by the bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechart_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechart_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteSamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_sqlite_samples_total",
			Help: "Samples committed to SQLite",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechart_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisHeldFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_redis_held_frames_total",
			Help: "Frames held back while the Redis circuit was open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechart_ws_clients",
			Help: "Connected websocket clients",
		}),
		WSFramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_ws_frames_sent_total",
			Help: "Frame envelopes queued to websocket clients",
		}),
		WSFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechart_ws_frames_dropped_total",
			Help: "Frame envelopes dropped for slow websocket clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickFailures,
		m.TickDur,
		m.TickOverruns,
		m.FeederState,
		m.AutoZoom,
		m.LastTickStamp,
		m.FramesTotal,
		m.RefreshErrors,
		m.RefreshDur,
		m.FramePoints,
		m.RangeRejects,
		m.BufferLen,
		m.BufferEvicted,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.SQLiteCommitDur,
		m.SQLiteSamplesTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisHeldFrames,
		m.WSClients,
		m.WSFramesSent,
		m.WSFramesDropped,
	)

	return m
}

// ObserveTick records one feeder tick.
func (m *Metrics) ObserveTick(d time.Duration, err error) {
	m.TicksTotal.Inc()
	m.TickDur.Observe(d.Seconds())
	m.LastTickStamp.SetToCurrentTime()
	if err != nil {
		m.TickFailures.Inc()
	}
}

// ObserveRefresh records one surface flush.
func (m *Metrics) ObserveRefresh(surface string, d time.Duration, err error) {
	m.FramesTotal.WithLabelValues(surface).Inc()
	m.RefreshDur.Observe(d.Seconds())
	if err != nil {
		m.RefreshErrors.WithLabelValues(surface).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeederRunning  bool      `json:"feeder_running"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Surfaces       []string  `json:"surfaces"`

	// StaleAfter marks the feed degraded when no tick completed for this long.
	StaleAfter time.Duration `json:"-"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: 5 * time.Second,
	}
}

func (h *HealthStatus) SetFeederRunning(v bool) {
	h.mu.Lock()
	h.FeederRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedis(enabled, connected bool) {
	h.mu.Lock()
	h.RedisEnabled = enabled
	h.RedisConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLite(enabled, ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = enabled
	h.SQLiteOK = ok
	h.mu.Unlock()
}

func (h *HealthStatus) SetSurfaces(ids []string) {
	h.mu.Lock()
	h.Surfaces = ids
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	stale := h.LastTickTime.IsZero() || time.Since(h.LastTickTime) > h.StaleAfter
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	if !h.FeederRunning || stale || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeederRunning && stale {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeederRunning   bool     `json:"feeder_running"`
		LastTickTime    string   `json:"last_tick_time"`
		TickAge         string   `json:"tick_age"`
		RedisEnabled    bool     `json:"redis_enabled"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteEnabled   bool     `json:"sqlite_enabled"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Surfaces        []string `json:"surfaces"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeederRunning:   h.FeederRunning,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339Nano),
		TickAge:         tickAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Surfaces:        h.Surfaces,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
