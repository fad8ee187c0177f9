package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"livechart/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader reads what Writer publishes: latest frames, live frame updates and
// the per-series sample streams.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// LatestFrame returns the last frame a surface published, or nil when none is
// stored.
func (r *Reader) LatestFrame(ctx context.Context, surface string) (*model.Frame, error) {
	data, err := r.client.Get(ctx, FrameKey(surface)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get frame %s: %w", surface, err)
	}

	var f model.Frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &f, nil
}

// SubscribeFrames feeds live frames of the given surfaces into out.
// Blocks until ctx is cancelled.
func (r *Reader) SubscribeFrames(ctx context.Context, surfaces []string, out chan<- model.Frame) error {
	channels := make([]string, len(surfaces))
	for i, s := range surfaces {
		channels[i] = FrameChannel(s)
	}
	sub := r.client.Subscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f model.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				log.Printf("[redis-reader] unmarshal frame on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ReadSamples returns up to count of the newest samples of a series from its
// stream, oldest first.
func (r *Reader) ReadSamples(ctx context.Context, series string, count int64) ([]model.SeriesSample, error) {
	key := (&model.SeriesSample{Series: series}).StreamKey()
	msgs, err := r.client.XRevRangeN(ctx, key, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", key, err)
	}

	out := make([]model.SeriesSample, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var s model.SeriesSample
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
