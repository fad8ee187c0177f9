// Package notification delivers feed alerts (stalled ticks, producer
// failures, rejected gestures) to external channels.
package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Source  string     `json:"source"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. Used when no webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s/%s: %s", alert.Level, alert.Source, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all backends and combines their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var merr *multierror.Error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%T: %w", n, err))
		}
	}
	return merr.ErrorOrNil()
}

// Throttled suppresses repeats of the same source/title within a window.
// A feeder failing on every 10ms tick would otherwise flood the webhook.
type Throttled struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	// suppressed counts alerts dropped per key since the last delivery.
	suppressed map[string]int
}

// NewThrottled wraps next. window <= 0 disables throttling.
func NewThrottled(next Notifier, window time.Duration) *Throttled {
	return &Throttled{
		next:       next,
		window:     window,
		now:        time.Now,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

func (t *Throttled) Send(ctx context.Context, alert Alert) error {
	key := alert.Source + "/" + alert.Title
	now := t.now()

	t.mu.Lock()
	if t.window > 0 {
		if prev, ok := t.last[key]; ok && now.Sub(prev) < t.window {
			t.suppressed[key]++
			t.mu.Unlock()
			return nil
		}
	}
	t.last[key] = now
	n := t.suppressed[key]
	delete(t.suppressed, key)
	t.mu.Unlock()

	if n > 0 {
		alert.Message = fmt.Sprintf("%s (%d similar suppressed)", alert.Message, n)
	}
	return t.next.Send(ctx, alert)
}
