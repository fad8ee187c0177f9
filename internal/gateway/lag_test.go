package gateway

import (
	"testing"
	"time"
)

func TestFrameLag_PerSurface(t *testing.T) {
	l := NewFrameLag(100)
	for i := 1; i <= 100; i++ {
		l.Observe("tutorial", time.Duration(i)*time.Millisecond)
	}
	l.Observe("sync0", 7*time.Millisecond)

	st, ok := l.Stats("tutorial")
	if !ok {
		t.Fatal("no stats for tutorial")
	}
	if st.Frames != 100 || st.P50Ms != 50 || st.P95Ms != 95 || st.P99Ms != 99 || st.MaxMs != 100 {
		t.Errorf("tutorial stats = %+v", st)
	}
	if st, _ := l.Stats("sync0"); st.Frames != 1 || st.P50Ms != 7 || st.P99Ms != 7 {
		t.Errorf("sync0 stats = %+v", st)
	}
	if _, ok := l.Stats("sync1"); ok {
		t.Error("stats reported for a surface with no frames")
	}
}

func TestFrameLag_WindowSlides(t *testing.T) {
	l := NewFrameLag(3)
	for _, ms := range []int{100, 100, 100, 1, 2, 3} {
		l.Observe("s", time.Duration(ms)*time.Millisecond)
	}
	st, _ := l.Stats("s")
	if st.MaxMs != 3 || st.Frames != 6 {
		t.Errorf("stats = %+v, want max 3 over the last 3 frames and 6 frames total", st)
	}
}

func TestFrameLag_IgnoresNegative(t *testing.T) {
	l := NewFrameLag(10)
	l.Observe("s", -time.Second)
	if _, ok := l.Stats("s"); ok {
		t.Error("negative lag was recorded")
	}
}
