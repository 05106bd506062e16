package fifodev

import "errors"

// ErrBrokenPipe is returned by a write when no consumer sessions remain open.
// The bytes of the failed write are dropped, never enqueued.
var ErrBrokenPipe = errors.New("broken pipe: no consumer sessions open")

// ErrOversizedWrite is returned when a single write carries more bytes than
// the buffer capacity. The write is rejected before touching shared state;
// the caller must split the data into chunks of at most Capacity bytes.
var ErrOversizedWrite = errors.New("write exceeds buffer capacity")

// ErrClosed is returned when a session handle is used after Close.
var ErrClosed = errors.New("session closed")
