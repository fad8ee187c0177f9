package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"
	"unsafe"

	"livechart/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a few FIFO windows worth of samples per series.
	sampleStreamMaxLen = 5000
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes samples and published frames to Redis.
//
// Keys:
//
//	series:<name>           stream of samples (XADD, approx MAXLEN)
//	series:<name>:latest    last sample (SET with TTL)
//	pub:series:<name>       live sample channel
//	surface:<id>:frame      last frame of a surface (SET with TTL)
//	pub:surface:<id>        live frame channel
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// FrameKey returns the key holding the last frame of a surface.
func FrameKey(surface string) string { return "surface:" + surface + ":frame" }

// FrameChannel returns the PubSub channel frames of a surface are published on.
func FrameChannel(surface string) string { return "pub:surface:" + surface }

// Run reads samples from ch and writes them to Redis.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.SeriesSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := w.writeSample(ctx, s); err != nil {
				log.Printf("[redis] pipeline error for %s x=%g: %v", s.Series, s.X, err)
			}
		}
	}
}

// writeSample performs pipelined XADD + SET + PUBLISH for one sample.
func (w *Writer) writeSample(ctx context.Context, s model.SeriesSample) error {
	jsonBytes := s.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
	streamKey := s.StreamKey()

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: sampleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"x":    strconv.FormatFloat(s.X, 'g', -1, 64),
			"data": jsonData,
		},
	})
	pipe.Set(ctx, streamKey+":latest", jsonData, defaultLatestTTL)
	pipe.Publish(ctx, s.PubSubChannel(), jsonData)

	_, err := pipe.Exec(ctx)
	return err
}

// PublishFrame stores the frame as the surface's latest and publishes it.
func (w *Writer) PublishFrame(ctx context.Context, f model.Frame) error {
	jsonBytes := f.JSON()
	if len(jsonBytes) == 0 {
		return fmt.Errorf("redis: frame %s/%d not encodable", f.Surface, f.Seq)
	}
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()
	pipe.Set(ctx, FrameKey(f.Surface), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, FrameChannel(f.Surface), jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish frame %s: %w", f.Surface, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
