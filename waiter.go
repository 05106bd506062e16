package fifodev

import "context"

// waiters emulates one condition variable per role on top of the device lock
// and a counting semaphore per role, the classic
// mutex-plus-counting-semaphore construction: a waiter registers itself in
// parked before releasing the lock, so a concurrent signal always sees an
// accurate waiter count, and a permit posted before the waiter reaches its
// park point is simply consumed on entry instead of being lost.
type waiters struct {
	// lock is the device lock, shared with Device. Holding the token means
	// holding the lock.
	lock chan struct{}

	// parked counts goroutines per role that are blocked and not yet woken.
	parked [2]int

	sems [2]semaphore
}

func newWaiters(lock chan struct{}) *waiters {
	return &waiters{lock: lock}
}

// wait parks the calling goroutine until a signal for its role arrives or ctx
// is cancelled. It must be called with the device lock held; it releases the
// lock around the park and holds it again when it returns, on success and on
// cancellation alike. Callers invoke wait inside a predicate re-check loop,
// so a spurious wakeup is harmless.
func (w *waiters) wait(ctx context.Context, r role) error {
	w.parked[r]++
	<-w.lock

	err := w.sems[r].acquire(ctx)

	// Relock unconditionally: every exit path must return with the lock held.
	w.lock <- struct{}{}
	if err != nil {
		// The signal that may have raced this cancellation left its permit
		// banked, so the next parked goroutine compensates for this decrement.
		w.parked[r]--
		return err
	}
	return nil
}

// signal wakes exactly one parked waiter of the given role, if any. It must
// be called with the device lock held. Signalling with no registered waiter
// is a no-op, which prevents phantom permits from letting a future waiter
// skip its park entirely.
func (w *waiters) signal(r role) {
	if w.parked[r] > 0 {
		w.parked[r]--
		w.sems[r].release()
	}
}
