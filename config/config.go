package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Listeners
	Addr        string
	MetricsAddr string
	LogLevel    string

	// Live feed
	FIFOCapacity int
	TickInterval time.Duration
	MarkerEvery  int
	GrowBy       float64
	SyncPoints   int

	// Infrastructure. Empty RedisAddr / SQLitePath disable that store.
	RedisAddr      string
	RedisPassword  string
	SQLitePath     string
	RestoreOnStart bool

	// Gesture writes require a TOTP code when set.
	GestureTOTPSecret string

	AlertWebhookURL string

	// PNG snapshots, one file per surface. Empty PlotDir disables.
	PlotDir   string
	PlotEvery time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Addr:        getEnv("LIVECHART_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		FIFOCapacity: getInt("FIFO_CAPACITY", 500),
		TickInterval: getMillis("TICK_INTERVAL_MS", 10),
		MarkerEvery:  getInt("MARKER_EVERY", 100),
		GrowBy:       getFloat("GROW_BY", 0.1),
		SyncPoints:   getInt("SYNC_POINTS", 500),

		RedisAddr:      getEnvAllowEmpty("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SQLitePath:     getEnvAllowEmpty("SQLITE_PATH", "data/series.db"),
		RestoreOnStart: getBool("RESTORE_ON_START", true),

		GestureTOTPSecret: getEnv("GESTURE_TOTP_SECRET", ""),
		AlertWebhookURL:   getEnv("ALERT_WEBHOOK_URL", ""),

		PlotDir:   getEnv("PLOT_DIR", ""),
		PlotEvery: getMillis("PLOT_EVERY_MS", 1000),
	}
}

// Validate reports every impossible setting at once.
func (c *Config) Validate() error {
	var merr *multierror.Error
	if c.FIFOCapacity < 1 {
		merr = multierror.Append(merr, fmt.Errorf("FIFO_CAPACITY must be >= 1, got %d", c.FIFOCapacity))
	}
	if c.TickInterval <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("TICK_INTERVAL_MS must be > 0, got %s", c.TickInterval))
	}
	if c.MarkerEvery < 1 {
		merr = multierror.Append(merr, fmt.Errorf("MARKER_EVERY must be >= 1, got %d", c.MarkerEvery))
	}
	if !(c.GrowBy >= 0) || math.IsInf(c.GrowBy, 0) {
		merr = multierror.Append(merr, fmt.Errorf("GROW_BY must be a finite number >= 0, got %g", c.GrowBy))
	}
	if c.SyncPoints < 2 {
		merr = multierror.Append(merr, fmt.Errorf("SYNC_POINTS must be >= 2, got %d", c.SyncPoints))
	}
	if c.PlotDir != "" && c.PlotEvery <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("PLOT_EVERY_MS must be > 0 when PLOT_DIR is set"))
	}
	if c.Addr == "" {
		merr = multierror.Append(merr, fmt.Errorf("LIVECHART_ADDR must not be empty"))
	}
	return merr.ErrorOrNil()
}

// RedisEnabled reports whether the redis store is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// SQLiteEnabled reports whether sqlite persistence is configured.
func (c *Config) SQLiteEnabled() bool { return c.SQLitePath != "" }

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// getEnvAllowEmpty distinguishes an unset key (fallback) from one explicitly
// set to "" (disables the feature).
func getEnvAllowEmpty(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getMillis(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Millisecond
}
