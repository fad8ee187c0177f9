package rangectl

import (
	"errors"
	"math"
	"sync"
	"testing"

	"livechart/internal/model"
)

type rangePair struct{ x, y model.Range }

type recordingListener struct {
	mu  sync.Mutex
	got []rangePair
}

func (l *recordingListener) RangesChanged(x, y model.Range) {
	l.mu.Lock()
	l.got = append(l.got, rangePair{x, y})
	l.mu.Unlock()
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.got)
}

type fixedSource struct {
	x, y model.Range
	ok   bool
}

func (s fixedSource) Extent() (model.Range, model.Range, bool) { return s.x, s.y, s.ok }

func TestController_DefaultsToUnitRange(t *testing.T) {
	c := New(Options{})
	x, y := c.Ranges()
	if x != (model.Range{Min: 0, Max: 1}) || y != (model.Range{Min: 0, Max: 1}) {
		t.Errorf("unexpected defaults: x=%+v y=%+v", x, y)
	}
}

func TestController_SetRangeRejectsInverted(t *testing.T) {
	c := New(Options{X: model.Range{Min: -5, Max: 15}})
	h := c.Acquire(nil)
	defer h.Release()

	var rejected error
	c.OnReject = func(err error) { rejected = err }

	err := c.SetRange(model.AxisX, 5, 3)
	if !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if rejected == nil {
		t.Error("OnReject not called")
	}
	if got := c.Range(model.AxisX); got != (model.Range{Min: -5, Max: 15}) {
		t.Errorf("prior range not kept: %+v", got)
	}
}

func TestController_SetRangeBroadcastsToAllHolders(t *testing.T) {
	c := New(Options{})
	a, b := &recordingListener{}, &recordingListener{}
	ha := c.Acquire(a)
	hb := c.Acquire(b)
	defer ha.Release()
	defer hb.Release()

	if err := c.SetRange(model.AxisY, -2, 2); err != nil {
		t.Fatalf("SetRange: %v", err)
	}

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected one notification each, got a=%d b=%d", a.count(), b.count())
	}
	want := rangePair{x: model.Range{Min: 0, Max: 1}, y: model.Range{Min: -2, Max: 2}}
	if a.got[0] != want {
		t.Errorf("listener got %+v, want %+v", a.got[0], want)
	}
}

func TestController_ZoomExtentsAppliesGrowBy(t *testing.T) {
	c := New(Options{GrowX: 0.1, GrowY: 0.2})
	h := c.Acquire(nil)
	defer h.Release()

	c.AddSource(fixedSource{x: model.Range{Min: 0, Max: 10}, y: model.Range{Min: -1, Max: 1}, ok: true})
	c.AddSource(fixedSource{x: model.Range{Min: 5, Max: 20}, y: model.Range{Min: 0, Max: 4}, ok: true})
	c.AddSource(fixedSource{ok: false})

	if err := c.ZoomExtents(); err != nil {
		t.Fatalf("ZoomExtents: %v", err)
	}

	x, y := c.Ranges()
	// x extent [0,20], g=0.1 -> [-2, 22]; y extent [-1,4], g=0.2 -> [-2, 5]
	if x.Min != -2 || x.Max != 22 {
		t.Errorf("x = %+v, want {-2 22}", x)
	}
	if y.Min != -2 || y.Max != 5 {
		t.Errorf("y = %+v, want {-2 5}", y)
	}
}

func TestController_ZoomExtentsNotifiesOncePerHolder(t *testing.T) {
	c := New(Options{GrowX: 0.1, GrowY: 0.1})
	a, b := &recordingListener{}, &recordingListener{}
	ha := c.Acquire(a)
	hb := c.Acquire(b)
	defer ha.Release()
	defer hb.Release()
	c.AddSource(fixedSource{x: model.Range{Min: 0, Max: 10}, y: model.Range{Min: 0, Max: 10}, ok: true})

	if err := c.ZoomExtents(); err != nil {
		t.Fatalf("ZoomExtents: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("notifications a=%d b=%d, want 1 each", a.count(), b.count())
	}
	want := rangePair{x: model.Range{Min: -1, Max: 11}, y: model.Range{Min: -1, Max: 11}}
	if b.got[0] != want {
		t.Errorf("holder got %+v, want %+v", b.got[0], want)
	}
}

func TestController_SetRangesIsAtomic(t *testing.T) {
	c := New(Options{X: model.Range{Min: -5, Max: 15}})
	l := &recordingListener{}
	h := c.Acquire(l)
	defer h.Release()

	if err := c.SetRanges(model.Range{Min: 0, Max: 4}, model.Range{Min: 9, Max: 1}); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted y, got %v", err)
	}
	if x := c.Range(model.AxisX); x != (model.Range{Min: -5, Max: 15}) {
		t.Errorf("x committed despite invalid y: %+v", x)
	}

	if err := c.SetRanges(model.Range{Min: 0, Max: 4}, model.Range{Min: 1, Max: 9}); err != nil {
		t.Fatalf("SetRanges: %v", err)
	}
	if l.count() != 1 {
		t.Errorf("notifications = %d, want 1", l.count())
	}
}

func TestController_RejectsNonFinite(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	tests := []struct {
		name     string
		axis     model.Axis
		min, max float64
	}{
		{"nan_min", model.AxisX, nan, 3},
		{"nan_max", model.AxisY, 0, nan},
		{"inf_max", model.AxisX, 0, inf},
		{"neg_inf_min", model.AxisY, -inf, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{X: model.Range{Min: -5, Max: 15}, Y: model.Range{Min: -1, Max: 1}})
			l := &recordingListener{}
			h := c.Acquire(l)
			defer h.Release()
			before := c.Range(tt.axis)

			err := c.SetRange(tt.axis, tt.min, tt.max)
			if !errors.Is(err, model.ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
			if got := c.Range(tt.axis); got != before {
				t.Errorf("range changed to %+v", got)
			}
			if l.count() != 0 {
				t.Errorf("listener notified %d times", l.count())
			}
		})
	}
}

func TestController_ZoomExtentsRejectsOverflow(t *testing.T) {
	c := New(Options{GrowX: 1})
	h := c.Acquire(nil)
	defer h.Release()
	c.AddSource(fixedSource{x: model.Range{Min: -math.MaxFloat64, Max: math.MaxFloat64}, y: model.Range{Min: 0, Max: 1}, ok: true})

	if err := c.ZoomExtents(); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if x := c.Range(model.AxisX); !x.Valid() {
		t.Errorf("committed invalid range %+v", x)
	}
}

func TestController_ReleaseDropsOwnedSources(t *testing.T) {
	c := New(Options{})
	ha := c.Acquire(nil)
	hb := c.Acquire(nil)
	defer hb.Release()

	ha.AddSource(fixedSource{x: model.Range{Min: 0, Max: 100}, y: model.Range{Min: 0, Max: 100}, ok: true})
	hb.AddSource(fixedSource{x: model.Range{Min: 0, Max: 10}, y: model.Range{Min: 0, Max: 1}, ok: true})

	ha.Release()
	if c.Sources() != 1 {
		t.Fatalf("Sources() = %d, want 1", c.Sources())
	}
	if err := c.ZoomExtents(); err != nil {
		t.Fatalf("ZoomExtents: %v", err)
	}
	if x := c.Range(model.AxisX); x != (model.Range{Min: 0, Max: 10}) {
		t.Errorf("x = %+v, released holder's data still counted", x)
	}
}

func TestController_ZoomExtentsNoDataIsNoop(t *testing.T) {
	c := New(Options{X: model.Range{Min: 3, Max: 4}, GrowX: 0.5})
	l := &recordingListener{}
	h := c.Acquire(l)
	defer h.Release()
	c.AddSource(fixedSource{ok: false})

	if err := c.ZoomExtents(); err != nil {
		t.Fatalf("ZoomExtents: %v", err)
	}
	if c.Range(model.AxisX) != (model.Range{Min: 3, Max: 4}) {
		t.Errorf("range changed without data: %+v", c.Range(model.AxisX))
	}
	if l.count() != 0 {
		t.Errorf("listener notified %d times, want 0", l.count())
	}
}

func TestController_RefCounting(t *testing.T) {
	c := New(Options{})
	h1 := c.Acquire(nil)
	h2 := c.Acquire(nil)

	if c.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", c.Refs())
	}

	h1.Release()
	h1.Release() // idempotent
	if c.Refs() != 1 || c.Closed() {
		t.Fatalf("after first release: refs=%d closed=%v", c.Refs(), c.Closed())
	}
	if err := c.SetRange(model.AxisX, 0, 2); err != nil {
		t.Fatalf("remaining holder must still mutate: %v", err)
	}

	h2.Release()
	if !c.Closed() {
		t.Fatal("expected closed after last release")
	}
	if err := c.SetRange(model.AxisX, 0, 3); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.ZoomExtents(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ZoomExtents, got %v", err)
	}
}

func TestController_ReleasedListenerNotNotified(t *testing.T) {
	c := New(Options{})
	a, b := &recordingListener{}, &recordingListener{}
	ha := c.Acquire(a)
	hb := c.Acquire(b)
	defer hb.Release()

	ha.Release()
	c.SetRange(model.AxisX, 1, 2)

	if a.count() != 0 {
		t.Errorf("released listener notified %d times", a.count())
	}
	if b.count() != 1 {
		t.Errorf("remaining listener notified %d times, want 1", b.count())
	}
}

func TestController_ReadersSeeCommittedPairs(t *testing.T) {
	c := New(Options{})
	h := c.Acquire(nil)
	defer h.Release()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			x := c.Range(model.AxisX)
			if x.Min > x.Max {
				t.Errorf("observed half-updated range %+v", x)
				return
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		f := float64(i)
		c.SetRange(model.AxisX, f, f+1)
	}
	close(done)
	wg.Wait()
}
