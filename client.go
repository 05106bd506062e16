package fifodev

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// Client attaches sessions to a Device served by a Server in another
// process. Each session rides its own connection, so session lifetime and
// connection lifetime coincide: closing the handle or losing the connection
// releases the session.
type Client struct {
	network string
	addr    string
	ser     Serializer
}

// NewClient creates a client for a server listening on the given network
// address, typically ("unix", "/run/fifodev.sock").
func NewClient(network, addr string) *Client {
	return &Client{network: network, addr: addr, ser: MsgpackSerializer{}}
}

// OpenReader opens a remote consumer session, blocking until the device has
// at least one producer session.
func (c *Client) OpenReader(ctx context.Context) (*RemoteReader, error) {
	wc, err := c.openSession(ctx, consumer)
	if err != nil {
		return nil, err
	}
	return &RemoteReader{wc: wc}, nil
}

// OpenWriter opens a remote producer session, blocking until the device has
// at least one consumer session.
func (c *Client) OpenWriter(ctx context.Context) (*RemoteWriter, error) {
	wc, err := c.openSession(ctx, producer)
	if err != nil {
		return nil, err
	}
	return &RemoteWriter{wc: wc}, nil
}

func (c *Client) openSession(ctx context.Context, r role) (*wireConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.addr)
	if err != nil {
		return nil, err
	}
	wc := &wireConn{ser: c.ser, tr: NewFrameTransport(conn)}
	if _, err := wc.call(ctx, request{Op: opOpen, Role: r.String()}); err != nil {
		wc.shutdown()
		return nil, err
	}
	return wc, nil
}

// wireConn is one session connection. Requests are strictly one at a time;
// the mutex serializes callers sharing a handle.
type wireConn struct {
	ser Serializer
	tr  Transport

	mu     sync.Mutex
	closed bool
}

// call performs one request/response exchange. If ctx is cancelled while the
// request is in flight the connection is torn down: the server may already
// be mutating the buffer on our behalf, so abandoning the exchange ends the
// session rather than leaving it in an unknown state.
func (wc *wireConn) call(ctx context.Context, req request) (reply, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return reply{}, ErrClosed
	}

	frame, err := wc.ser.Marshal(req)
	if err != nil {
		return reply{}, err
	}
	if err := wc.tr.Send(frame); err != nil {
		return reply{}, err
	}

	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := wc.tr.Receive()
		ch <- result{f, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return reply{}, res.err
		}
		var rep reply
		if err := wc.ser.Unmarshal(res.frame, &rep); err != nil {
			return reply{}, err
		}
		if rep.Err != "" {
			return reply{}, mapWireError(rep.Err)
		}
		return rep, nil
	case <-ctx.Done():
		wc.closed = true
		wc.tr.Close()
		return reply{}, ctx.Err()
	}
}

// shutdown closes the connection without the close handshake.
func (wc *wireConn) shutdown() {
	wc.mu.Lock()
	if !wc.closed {
		wc.closed = true
		wc.tr.Close()
	}
	wc.mu.Unlock()
}

// close performs the close handshake, then tears down the connection. The
// handshake is best effort; the server also releases the session when the
// connection drops.
func (wc *wireConn) close() error {
	wc.mu.Lock()
	if wc.closed {
		wc.mu.Unlock()
		return nil
	}
	wc.closed = true
	defer wc.mu.Unlock()

	if frame, err := wc.ser.Marshal(request{Op: opClose}); err == nil {
		if err := wc.tr.Send(frame); err == nil {
			wc.tr.Receive()
		}
	}
	return wc.tr.Close()
}

// mapWireError converts well-known failure text back to sentinel errors so
// errors.Is works the same against remote and local sessions.
func mapWireError(s string) error {
	switch s {
	case ErrBrokenPipe.Error():
		return ErrBrokenPipe
	case ErrOversizedWrite.Error():
		return ErrOversizedWrite
	}
	return errors.New(s)
}

// RemoteReader is a consumer session served over a Client connection. It
// implements io.ReadCloser with the same semantics as Reader.
type RemoteReader struct {
	wc *wireConn
}

func (r *RemoteReader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext reads up to len(p) bytes from the remote device. Cancellation
// tears down the session connection; see Client.
func (r *RemoteReader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rep, err := r.wc.call(ctx, request{Op: opRead, Max: len(p)})
	if err != nil {
		return 0, err
	}
	if rep.EOF {
		return 0, io.EOF
	}
	return copy(p, rep.Data), nil
}

// Close releases the remote session and its connection. Idempotent.
func (r *RemoteReader) Close() error {
	return r.wc.close()
}

// RemoteWriter is a producer session served over a Client connection. It
// implements io.WriteCloser with the same semantics as Writer.
type RemoteWriter struct {
	wc *wireConn
}

func (w *RemoteWriter) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext writes all of p atomically to the remote device. Oversized
// chunks are rejected locally, before any bytes cross the wire.
func (w *RemoteWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	if len(p) > Capacity {
		return 0, ErrOversizedWrite
	}
	rep, err := w.wc.call(ctx, request{Op: opWrite, Data: p})
	if err != nil {
		return 0, err
	}
	return rep.N, nil
}

// Close releases the remote session and its connection. Idempotent.
func (w *RemoteWriter) Close() error {
	return w.wc.close()
}
