package sema

import (
	"context"
	"errors"
	"sync"
)

// ErrEnded is returned by Take once the semaphore has been ended.
var ErrEnded = errors.New("semaphore ended")

// Semaphore is a binary semaphore used as a work-available signal.
type Semaphore struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

// New returns a semaphore that is not given.
func New() *Semaphore {
	return &Semaphore{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Give signals the semaphore. It never blocks.
func (s *Semaphore) Give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Take blocks until the semaphore is given, ended, or ctx is done.
func (s *Semaphore) Take(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrEnded
	default:
	}
	select {
	case <-s.ch:
		return nil
	case <-s.done:
		return ErrEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End wakes all current and future waiters with ErrEnded. It is safe to
// call more than once.
func (s *Semaphore) End() {
	s.once.Do(func() { close(s.done) })
}

// Ended reports whether End has been called.
func (s *Semaphore) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// C returns the wake channel, for callers that select on more events than
// Take covers. A receive from C consumes the wake.
func (s *Semaphore) C() <-chan struct{} {
	return s.ch
}

// Done returns a channel that is closed when the semaphore is ended.
func (s *Semaphore) Done() <-chan struct{} {
	return s.done
}
