package update

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type counter struct {
	mu  sync.Mutex
	n   int
	err error
}

func (c *counter) refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.err
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSuspender_ImmediateWhenNotSuspended(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	s.Invalidate()
	s.Invalidate()

	if c.count() != 2 {
		t.Fatalf("expected 2 immediate refreshes, got %d", c.count())
	}
}

func TestSuspender_CoalescesInsideScope(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	err := Using(s, func() error {
		for i := 0; i < 10; i++ {
			s.Invalidate()
		}
		if c.count() != 0 {
			t.Errorf("refresh ran inside scope: %d", c.count())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.count() != 1 {
		t.Fatalf("expected exactly 1 flush, got %d", c.count())
	}
}

func TestSuspender_NoFlushWhenClean(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	Using(s, func() error { return nil })

	if c.count() != 0 {
		t.Fatalf("expected no flush for clean scope, got %d", c.count())
	}
}

func TestSuspender_NestedFlushesOnOutermost(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	outer := s.Suspend()
	inner := s.Suspend()
	s.Invalidate()

	inner.Release()
	if c.count() != 0 {
		t.Fatalf("inner release must not flush, got %d", c.count())
	}
	if !s.IsSuspended() {
		t.Fatal("expected still suspended after inner release")
	}

	outer.Release()
	if c.count() != 1 {
		t.Fatalf("expected 1 flush after outer release, got %d", c.count())
	}
	if s.IsSuspended() {
		t.Fatal("expected not suspended after outer release")
	}
}

func TestScope_ReleaseIdempotent(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	outer := s.Suspend()
	inner := s.Suspend()
	s.Invalidate()

	// A double release of inner must not close outer's scope.
	inner.Release()
	inner.Release()
	if c.count() != 0 || !s.IsSuspended() {
		t.Fatalf("double release leaked: flushes=%d suspended=%v", c.count(), s.IsSuspended())
	}
	outer.Release()
	if c.count() != 1 {
		t.Fatalf("expected 1 flush, got %d", c.count())
	}
}

func TestUsing_FlushesOnError(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)
	errTick := errors.New("tick failed")

	err := Using(s, func() error {
		s.Invalidate()
		return errTick
	})

	if !errors.Is(err, errTick) {
		t.Fatalf("expected errTick, got %v", err)
	}
	if c.count() != 1 {
		t.Fatalf("expected flush despite error, got %d", c.count())
	}
	if s.IsSuspended() {
		t.Fatal("scope left open after error")
	}
}

func TestUsing_FlushesOnPanic(t *testing.T) {
	c := &counter{}
	s := New(c.refresh)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		Using(s, func() error {
			s.Invalidate()
			panic("boom")
		})
	}()

	if c.count() != 1 {
		t.Fatalf("expected flush on panic, got %d", c.count())
	}
	if s.IsSuspended() {
		t.Fatal("scope left open after panic")
	}
}

func TestUsingAll_CombinesFlushErrors(t *testing.T) {
	a := &counter{err: errors.New("render a")}
	b := &counter{}
	sa, sb := New(a.refresh), New(b.refresh)

	err := UsingAll([]*Suspender{sa, sb}, func() error {
		sa.Invalidate()
		sb.Invalidate()
		return errors.New("produce")
	})

	if err == nil {
		t.Fatal("expected combined error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "produce") || !strings.Contains(msg, "render a") {
		t.Errorf("combined error missing parts: %s", msg)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected one flush each, got a=%d b=%d", a.count(), b.count())
	}
}
