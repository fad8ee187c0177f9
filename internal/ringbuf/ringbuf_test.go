package ringbuf

import (
	"context"
	"sync"
	"testing"
	"time"

	"livechart/internal/model"
	"livechart/internal/series"
)

var _ series.Tap = (*Ring)(nil)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4)

	if !r.Push(model.SeriesSample{Series: "line", X: 1}) {
		t.Fatal("push 1 should succeed")
	}
	if !r.Push(model.SeriesSample{Series: "scatter", X: 1}) {
		t.Fatal("push 2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Series != "line" {
		t.Fatalf("expected line, got %v ok=%v", got.Series, ok)
	}

	got, ok = r.Pop()
	if !ok || got.Series != "scatter" {
		t.Fatalf("expected scatter, got %v ok=%v", got.Series, ok)
	}

	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2)

	r.Push(model.SeriesSample{X: 1})
	r.Push(model.SeriesSample{X: 2})

	if r.Push(model.SeriesSample{X: 3}) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.SeriesSample{X: float64(round*10 + i)}) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			s, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if s.X != float64(round*10+i) {
				t.Fatalf("round %d pop %d: expected x=%d, got %g", round, i, round*10+i, s.X)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(model.SeriesSample{X: float64(i)}) {
			}
		}
	}()

	received := make([]float64, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			if s, ok := r.Pop(); ok {
				received = append(received, s.X)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	for i, v := range received {
		if v != float64(i) {
			t.Fatalf("at index %d: expected %d, got %g", i, i, v)
		}
	}
}

func TestPump_DrainsInOrderAndCloses(t *testing.T) {
	r := New(16)
	out := make(chan model.SeriesSample, 16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Pump(ctx, r, time.Millisecond, out)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		r.Push(model.SeriesSample{Series: "line", X: float64(i)})
	}

	for i := 0; i < 10; i++ {
		select {
		case s := <-out:
			if s.X != float64(i) {
				t.Fatalf("got x=%g, want %d", s.X, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump did not exit on cancel")
	}
	if _, ok := <-out; ok {
		t.Fatal("expected out to be closed")
	}
}

func TestRing_BufferTap(t *testing.T) {
	r := New(8)
	b := series.New("line", 2)
	b.SetTap(r)

	for i := 0; i < 5; i++ {
		b.Append(model.Sample{X: float64(i)})
	}
	if r.Len() != 5 {
		t.Fatalf("ring holds %d, want 5 (buffer eviction must not drop taps)", r.Len())
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
