package fifodev

import (
	"context"
	"fmt"
)

// Device is a FIFO character device emulated in process memory: a fixed
// Capacity-byte ring buffer shared by any number of producer (writer) and
// consumer (reader) sessions. It reproduces named-pipe semantics: opening a
// side blocks until the opposite side has at least one open session, reads
// block while the buffer is empty and producers remain, writes block while
// the buffer lacks space and consumers remain, and the buffer is reset once
// the last session of either role closes.
//
// All shared state is guarded by a single device lock. The lock is a
// capacity-1 channel rather than a sync.Mutex so that acquiring it is itself
// cancellable, mirroring an interruptible mutex down. Blocking never happens
// while the lock is held: a session that must sleep registers itself with the
// waiter coordinator, which releases the lock around the park.
//
// Construct with NewDevice and hand out sessions with OpenReader and
// OpenWriter. A Device has no teardown; it is garbage collected once all
// sessions are closed and references dropped.
type Device struct {
	mu   chan struct{}
	ring *ringBuffer
	sess sessions
	wq   *waiters
}

// NewDevice creates a device with an empty Capacity-byte buffer and no open
// sessions.
func NewDevice() *Device {
	return newDeviceSize(Capacity)
}

// newDeviceSize exists so tests can exercise wrap and fill behavior without
// pushing 4 KiB around.
func newDeviceSize(capacity int) *Device {
	mu := make(chan struct{}, 1)
	return &Device{
		mu:   mu,
		ring: newRingBuffer(capacity),
		wq:   newWaiters(mu),
	}
}

// lock acquires the device lock, giving up if ctx is cancelled first.
func (d *Device) lock(ctx context.Context) error {
	select {
	case d.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) unlock() {
	<-d.mu
}

// open registers a session of role r, then blocks until the opposite role
// has at least one open session. A cancelled open leaves the session counts
// exactly as they were: the half-registered count is rolled back, because a
// session that never finished opening was never open.
func (d *Device) open(ctx context.Context, r role) error {
	if err := d.lock(ctx); err != nil {
		return fmt.Errorf("open %s: %w", r, err)
	}
	d.sess.open(r)

	// Tell one parked opener of the opposite role that a partner now exists.
	d.wq.signal(r.opposite())

	for d.sess.count(r.opposite()) == 0 {
		if err := d.wq.wait(ctx, r); err != nil {
			d.sess.close(r)
			d.unlock()
			return fmt.Errorf("open %s: %w", r, err)
		}
	}
	d.unlock()
	return nil
}

// release closes one session of role r. It always succeeds; closing is never
// blocked and never cancelled. When the last session of either role goes
// away the buffer is reset, discarding any unread bytes: a fully orphaned
// pipe carries no state forward.
func (d *Device) release(r role) {
	d.mu <- struct{}{}
	d.sess.close(r)

	// A peer may be parked waiting for a partner or for buffer progress that
	// will now never come; unblock one so it can re-check its predicate.
	d.wq.signal(r.opposite())

	if d.sess.drained() {
		d.ring.reset()
	}
	d.unlock()
}

// read pops up to len(p) bytes from the buffer, blocking while the buffer is
// empty and producers remain. It returns 0 with a nil error once the buffer
// is empty and the last producer has closed; that is end of stream, not an
// error.
func (d *Device) read(ctx context.Context, p []byte) (int, error) {
	if err := d.lock(ctx); err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	for d.ring.len() == 0 && d.sess.count(producer) > 0 {
		if err := d.wq.wait(ctx, consumer); err != nil {
			d.unlock()
			return 0, fmt.Errorf("read: %w", err)
		}
	}
	if d.ring.len() == 0 {
		// All producers gone and nothing left to drain.
		d.unlock()
		return 0, nil
	}
	n := d.ring.pop(p)

	// Space freed; one blocked producer may fit now.
	d.wq.signal(producer)
	d.unlock()
	return n, nil
}

// write pushes all of p into the buffer, blocking while the buffer lacks
// space for the whole chunk and consumers remain. Writes are atomic: p is
// enqueued contiguously or not at all. If the last consumer closes while the
// write is blocked, or none is open to begin with, the bytes are dropped and
// ErrBrokenPipe is returned; the buffer is never mutated by a failing write.
func (d *Device) write(ctx context.Context, p []byte) (int, error) {
	// Hard input-size error, checked before touching shared state.
	if len(p) > d.ring.cap() {
		return 0, ErrOversizedWrite
	}
	if err := d.lock(ctx); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	for d.ring.avail() < len(p) && d.sess.count(consumer) > 0 {
		if err := d.wq.wait(ctx, producer); err != nil {
			d.unlock()
			return 0, fmt.Errorf("write: %w", err)
		}
	}
	if d.sess.count(consumer) == 0 {
		d.unlock()
		return 0, ErrBrokenPipe
	}
	d.ring.push(p)

	// Bytes arrived; one blocked consumer can make progress.
	d.wq.signal(consumer)
	d.unlock()
	return len(p), nil
}
