package fifodev

import (
	"context"
	"io"
	"sync"
)

// Reader is a consumer session on a Device. It implements io.ReadCloser.
//
// A Reader is safe for use by one goroutine at a time; concurrent reads on
// the same Reader are serialized by the device lock but their interleaving
// is unspecified. Close is idempotent per handle.
type Reader struct {
	dev *Device

	mu     sync.Mutex
	closed bool
}

// OpenReader opens a consumer session, blocking until at least one producer
// session exists. Cancelling ctx unwinds the open completely: the returned
// error wraps ctx.Err() and the device's consumer count is unchanged.
func (d *Device) OpenReader(ctx context.Context) (*Reader, error) {
	if err := d.open(ctx, consumer); err != nil {
		return nil, err
	}
	return &Reader{dev: d}, nil
}

// Read pops up to len(p) buffered bytes, blocking while the buffer is empty
// and producers remain. Once the buffer is drained and the last producer has
// closed, Read returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation. A cancelled read returns an error
// wrapping ctx.Err() and removes nothing from the buffer.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.dev.read(ctx, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the consumer session. Closing an already-closed Reader is a
// no-op, so one handle can never decrement the session count twice.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.dev.release(consumer)
	return nil
}

// Writer is a producer session on a Device. It implements io.WriteCloser.
//
// Close is idempotent per handle.
type Writer struct {
	dev *Device

	mu     sync.Mutex
	closed bool
}

// OpenWriter opens a producer session, blocking until at least one consumer
// session exists. Cancelling ctx unwinds the open completely.
func (d *Device) OpenWriter(ctx context.Context) (*Writer, error) {
	if err := d.open(ctx, producer); err != nil {
		return nil, err
	}
	return &Writer{dev: d}, nil
}

// Write enqueues all of p atomically, blocking until the buffer has room for
// the whole chunk. Chunks larger than Capacity fail with ErrOversizedWrite;
// callers stream larger payloads by splitting them. If no consumer session
// remains, Write fails with ErrBrokenPipe and enqueues nothing.
func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation. A cancelled write returns an
// error wrapping ctx.Err() and enqueues nothing.
func (w *Writer) WriteContext(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return w.dev.write(ctx, p)
}

// Close releases the producer session. Closing an already-closed Writer is a
// no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	w.dev.release(producer)
	return nil
}
