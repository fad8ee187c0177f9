package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingNotifier struct {
	got []Alert
	err error
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func TestMulti_SendsToAllAndCombinesErrors(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("boom")}
	c := &recordingNotifier{err: errors.New("bang")}

	err := Multi{a, b, c}.Send(context.Background(), Alert{Level: AlertWarning, Title: "tick"})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(a.got) != 1 || len(b.got) != 1 || len(c.got) != 1 {
		t.Error("every backend should receive the alert")
	}
}

func TestThrottled_SuppressesRepeats(t *testing.T) {
	rec := &recordingNotifier{}
	th := NewThrottled(rec, time.Minute)
	now := time.Unix(1000, 0)
	th.now = func() time.Time { return now }

	alert := Alert{Level: AlertCritical, Source: "feeder", Title: "tick failed", Message: "produce: boom"}
	for i := 0; i < 5; i++ {
		th.Send(context.Background(), alert)
	}
	if len(rec.got) != 1 {
		t.Fatalf("delivered %d, want 1 inside window", len(rec.got))
	}

	// Different title is a different key.
	th.Send(context.Background(), Alert{Source: "feeder", Title: "overrun"})
	if len(rec.got) != 2 {
		t.Fatalf("delivered %d, want 2", len(rec.got))
	}

	now = now.Add(2 * time.Minute)
	th.Send(context.Background(), alert)
	if len(rec.got) != 3 {
		t.Fatalf("delivered %d, want 3 after window", len(rec.got))
	}
	if want := "produce: boom (4 similar suppressed)"; rec.got[2].Message != want {
		t.Errorf("message = %q, want %q", rec.got[2].Message, want)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Source: "feeder", Title: "overrun", Message: "3 ticks"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Level != "WARNING" || got.Source != "feeder" || got.Title != "overrun" || got.TS == "" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error on 502")
	}
}
