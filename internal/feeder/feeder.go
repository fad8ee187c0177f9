// Package feeder drives a producer on a fixed period. Each tick runs inside
// one update scope spanning every bound surface, so a tick's appends, marker
// changes and zoom-extents reach the renderers as a single frame per surface.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"livechart/internal/logger"
	"livechart/internal/notification"
	"livechart/internal/rangectl"
	"livechart/internal/surface"
	"livechart/internal/update"
)

var (
	// ErrNotIdle is returned by Start on a feeder that was already started.
	ErrNotIdle = errors.New("feeder: not idle")

	// ErrBadInterval is returned by Start for a non-positive period.
	ErrBadInterval = errors.New("feeder: interval must be positive")

	// ErrNoProducer is returned by Tick before a producer is installed.
	ErrNoProducer = errors.New("feeder: no producer")
)

// State is the feeder lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ProduceFunc appends the samples of tick n. It runs inside the tick's scope.
type ProduceFunc func(ctx context.Context, n int64) error

// Options configures a Feeder.
type Options struct {
	Surfaces []*surface.Surface
	Produce  ProduceFunc

	// StartAt is the first tick number (resume point). Default 0.
	StartAt int64

	// AutoZoom enables ZoomExtents on every tick.
	AutoZoom bool

	Logger   *slog.Logger
	Notifier notification.Notifier
}

// Feeder runs Produce on a timer. Ticks never overlap.
type Feeder struct {
	surfaces []*surface.Surface
	ctrls    []*rangectl.Controller
	susps    []*update.Suspender
	log      *slog.Logger
	notifier notification.Notifier

	tickMu  sync.Mutex // serializes Tick
	produce ProduceFunc
	next    int64

	state    atomic.Int32
	autoZoom atomic.Bool
	ticks    atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
	lastTick atomic.Int64 // unix nanos

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// OnTick is called after every tick with its duration and error (optional).
	OnTick func(d time.Duration, err error)
	// OnOverrun is called with the number of periods a slow tick swallowed.
	OnOverrun func(skipped int)
}

// New creates an idle feeder bound to the given surfaces.
func New(opts Options) *Feeder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLogNotifier()
	}
	f := &Feeder{
		surfaces: opts.Surfaces,
		log:      logger.Component(opts.Logger, "feeder"),
		notifier: opts.Notifier,
		produce:  opts.Produce,
		next:     opts.StartAt,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	seen := make(map[*rangectl.Controller]bool)
	for _, s := range opts.Surfaces {
		f.susps = append(f.susps, s.Suspender())
		if c := s.Ranges(); !seen[c] {
			seen[c] = true
			f.ctrls = append(f.ctrls, c)
		}
	}
	f.autoZoom.Store(opts.AutoZoom)
	return f
}

// State returns the current lifecycle state.
func (f *Feeder) State() State { return State(f.state.Load()) }

// SetAutoZoom toggles the per-tick zoom-extents.
func (f *Feeder) SetAutoZoom(on bool) { f.autoZoom.Store(on) }

// AutoZoom reports whether per-tick zoom-extents is on.
func (f *Feeder) AutoZoom() bool { return f.autoZoom.Load() }

// Next returns the number the next tick will produce.
func (f *Feeder) Next() int64 {
	f.tickMu.Lock()
	defer f.tickMu.Unlock()
	return f.next
}

// Stats returns completed ticks, failed ticks and skipped periods.
func (f *Feeder) Stats() (ticks, failures, skipped uint64) {
	return f.ticks.Load(), f.failures.Load(), f.skipped.Load()
}

// LastTick returns the wall time of the last completed tick (zero if none).
func (f *Feeder) LastTick() time.Time {
	n := f.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start moves Idle→Running and ticks every interval until Stop or ctx is done.
// A non-nil produce replaces the one given in Options.
func (f *Feeder) Start(ctx context.Context, interval time.Duration, produce ProduceFunc) error {
	if interval <= 0 {
		return ErrBadInterval
	}
	if !f.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrNotIdle
	}
	if produce != nil {
		f.tickMu.Lock()
		f.produce = produce
		f.tickMu.Unlock()
	}

	f.log.Info("feeder started",
		slog.Duration("interval", interval),
		slog.Int64("start_at", f.Next()),
		slog.Int("surfaces", len(f.surfaces)),
	)
	go f.loop(ctx, interval)
	return nil
}

func (f *Feeder) loop(ctx context.Context, interval time.Duration) {
	defer close(f.done)
	defer f.state.Store(int32(Stopped))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var due time.Time
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case due = <-ticker.C:
		}

		n := f.Next()
		err := f.Tick(ctx)
		if err != nil {
			f.report(logger.WithTick(ctx, n), err)
		}

		// Periods that elapsed while the tick ran are dropped, including the
		// one time.Ticker keeps pending.
		if skipped := int(time.Since(due) / interval); skipped > 0 {
			drain(ticker.C)
			f.skipped.Add(uint64(skipped))
			if f.OnOverrun != nil {
				f.OnOverrun(skipped)
			}
			f.log.Debug("tick overrun", slog.Duration("late", time.Since(due)), slog.Int("skipped", skipped))
		}
	}
}

func drain(c <-chan time.Time) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

// Stop moves to Stopped and waits for the loop to exit. A tick in progress
// is allowed to finish. Idempotent; from Idle it just marks the feeder stopped.
func (f *Feeder) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		if f.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
			close(f.done)
			return
		}
	})
	<-f.done
	f.log.Info("feeder stopped", slog.Uint64("ticks", f.ticks.Load()), slog.Uint64("failures", f.failures.Load()))
}

// Tick runs one tick synchronously: produce(n) and, with auto-zoom on,
// ZoomExtents on every distinct controller, all inside one scope per surface.
// The tick number advances even when produce fails.
func (f *Feeder) Tick(ctx context.Context) error {
	f.tickMu.Lock()
	defer f.tickMu.Unlock()

	if f.produce == nil {
		return ErrNoProducer
	}
	n := f.next
	f.next++
	ctx = logger.WithTick(ctx, n)
	start := time.Now()

	err := update.UsingAll(f.susps, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				f.log.Error("produce panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				err = fmt.Errorf("produce panicked: %v", r)
			}
		}()
		if err := f.produce(ctx, n); err != nil {
			return fmt.Errorf("produce: %w", err)
		}
		if !f.autoZoom.Load() {
			return nil
		}
		for _, c := range f.ctrls {
			if err := c.ZoomExtents(); err != nil {
				return fmt.Errorf("zoom extents: %w", err)
			}
		}
		return nil
	})

	f.ticks.Add(1)
	f.lastTick.Store(time.Now().UnixNano())
	if err != nil {
		f.failures.Add(1)
	}
	if f.OnTick != nil {
		f.OnTick(time.Since(start), err)
	}
	return err
}

func (f *Feeder) report(ctx context.Context, err error) {
	f.log.Warn("tick failed", append(logger.LogWithTick(ctx), slog.String("error", err.Error()))...)

	nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alert := notification.Alert{
		Level:   notification.AlertWarning,
		Source:  "feeder",
		Title:   "tick failed",
		Message: err.Error(),
	}
	if nerr := f.notifier.Send(nctx, alert); nerr != nil {
		f.log.Error("alert delivery failed", slog.String("error", nerr.Error()))
	}
}
