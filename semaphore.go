package fifodev

import (
	"context"
	"sync"
)

// semaphore is an in-process counting semaphore used as the parking primitive
// for blocked sessions. A release never loses a permit: if a waiter is parked
// the permit is handed to the oldest one directly, otherwise it is banked and
// consumed by the next acquire. This is what makes it safe to post a wakeup
// after the device lock has been released but before the target goroutine has
// reached its park point.
//
// acquire is cancellable through a context. A permit that was handed to a
// waiter which lost the race against its own cancellation is banked again, so
// the wakeup is never swallowed.
type semaphore struct {
	mu      sync.Mutex
	permits int
	waiters []chan struct{}
}

// acquire consumes a banked permit if one is available, otherwise parks until
// release hands one over or ctx is cancelled.
func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		// A release already popped our channel: the permit was handed to us
		// while we were cancelling. Bank it for the next waiter.
		s.releaseLocked()
		s.mu.Unlock()
		return ctx.Err()
	}
}

// release posts one permit, waking the oldest parked waiter if there is one.
func (s *semaphore) release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

func (s *semaphore) releaseLocked() {
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ch)
		return
	}
	s.permits++
}
