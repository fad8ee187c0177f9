// Package update provides the suspend/batch scope used to coalesce observer
// notifications. Mutations made while a scope is held only mark the target
// dirty; releasing the outermost scope flushes exactly once.
package update

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Suspender counts nested update scopes for one flush target.
// Safe for concurrent use.
type Suspender struct {
	mu      sync.Mutex
	depth   int
	dirty   bool
	refresh func() error
}

// New creates a Suspender that calls refresh on every effective flush.
func New(refresh func() error) *Suspender {
	return &Suspender{refresh: refresh}
}

// Suspend opens a scope. The caller must Release it; prefer Using.
func (s *Suspender) Suspend() *Scope {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
	return &Scope{s: s}
}

// IsSuspended reports whether at least one scope is open.
func (s *Suspender) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth > 0
}

// Invalidate requests a flush. Inside a scope the flush is deferred to the
// outermost Release; otherwise it runs immediately.
func (s *Suspender) Invalidate() error {
	s.mu.Lock()
	if s.depth > 0 {
		s.dirty = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.refresh()
}

func (s *Suspender) release() error {
	s.mu.Lock()
	s.depth--
	if s.depth < 0 {
		s.depth = 0
	}
	flush := s.depth == 0 && s.dirty
	if flush {
		s.dirty = false
	}
	s.mu.Unlock()

	if !flush {
		return nil
	}
	return s.refresh()
}

// Scope is one open suspension. Release is idempotent.
type Scope struct {
	s    *Suspender
	once sync.Once
}

// Release closes the scope, flushing if it was the outermost dirty one.
func (sc *Scope) Release() error {
	var err error
	sc.once.Do(func() {
		err = sc.s.release()
	})
	return err
}

// Using runs fn inside a scope on s. The scope is released on every exit
// path, including a panic in fn (which is re-raised after the flush).
func Using(s *Suspender, fn func() error) error {
	return UsingAll([]*Suspender{s}, fn)
}

// UsingAll runs fn with a scope open on every suspender. Scopes are released
// in reverse order; fn's error and any flush errors are combined.
func UsingAll(ss []*Suspender, fn func() error) (err error) {
	scopes := make([]*Scope, 0, len(ss))
	for _, s := range ss {
		scopes = append(scopes, s.Suspend())
	}

	defer func() {
		var merr *multierror.Error
		for i := len(scopes) - 1; i >= 0; i-- {
			if rerr := scopes[i].Release(); rerr != nil {
				merr = multierror.Append(merr, fmt.Errorf("flush: %w", rerr))
			}
		}
		if merr != nil {
			if err != nil {
				err = multierror.Append(err, merr.Errors...)
			} else {
				err = merr.ErrorOrNil()
			}
		}
	}()

	return fn()
}
