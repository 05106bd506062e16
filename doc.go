// Package fifodev emulates a FIFO character device: named-pipe semantics
// over a fixed-size shared ring buffer accessed concurrently by any number
// of producer and consumer sessions.
//
// # Architecture Overview
//
// A Device bundles four pieces under one exclusive lock:
//
//  1. A fixed Capacity-byte ring buffer holding the in-flight bytes.
//
//  2. A session registry counting the open producer and consumer handles.
//
//  3. A waiter coordinator that rebuilds condition-variable behavior from
//     counting semaphores and per-role waiter counts, so a wakeup posted
//     before its target goroutine parks is banked rather than lost.
//
//  4. The device lock itself, a capacity-1 channel, so that acquiring it is
//     cancellable like everything else that can block.
//
// Sessions see classic named-pipe behavior: opening one side blocks until
// the other side exists, reads block on an empty buffer while producers
// remain and return io.EOF once they are gone, writes block until the whole
// chunk fits and fail with ErrBrokenPipe once no consumer remains, and the
// buffer resets when the last session of either role closes.
//
// # Local Sessions
//
//	dev := fifodev.NewDevice()
//
//	go func() {
//	    w, _ := dev.OpenWriter(ctx)
//	    defer w.Close()
//	    w.Write([]byte("hello"))
//	}()
//
//	r, _ := dev.OpenReader(ctx)
//	defer r.Close()
//	buf := make([]byte, 64)
//	n, _ := r.Read(buf) // "hello"
//
// Every blocking call has a context-aware variant (OpenReader, OpenWriter,
// ReadContext, WriteContext); cancellation unwinds completely, leaving
// counters and buffer exactly as they were.
//
// # Remote Sessions
//
// A Server publishes a Device on a stream listener, typically a unix domain
// socket, playing the part of the device node. Each client connection
// carries one session; operations travel as length-prefixed MessagePack
// frames:
//
//	ln, _ := net.Listen("unix", "/run/fifodev.sock")
//	srv := fifodev.NewServer(fifodev.NewDevice())
//	go srv.Serve(ln)
//
//	c := fifodev.NewClient("unix", "/run/fifodev.sock")
//	w, _ := c.OpenWriter(ctx)
//	w.Write([]byte("hello"))
//
// RemoteReader and RemoteWriter satisfy the same io interfaces as the local
// handles and surface the same sentinel errors, so callers need not care
// which side of the socket the buffer lives on.
//
// # Concurrency Model
//
// One coarse lock serializes all state transitions; goroutines only ever
// sleep inside the waiter coordinator, after registering their waiting
// intent while still holding the lock. A signal wakes exactly one waiter of
// a role and fires only when that role has a registered waiter. No fairness
// is guaranteed among waiters of the same role; each write is atomic and
// contiguous, but the interleaving of concurrent producers is unspecified.
package fifodev
