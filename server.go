package fifodev

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
)

// Server exposes a Device to other processes over a stream listener,
// typically a unix domain socket: the process-boundary analog of a character
// device node. One connection carries at most one session. When a connection
// drops, any operation blocked on its behalf is cancelled and its session is
// released, so a vanished client can never leave a waiter parked forever.
type Server struct {
	dev  *Device
	ser  Serializer
	pool *BufferPool

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server for the given device.
func NewServer(dev *Device) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dev:    dev,
		ser:    MsgpackSerializer{},
		pool:   NewBufferPool(Capacity, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Serve accepts session connections on ln until the listener fails or the
// server is closed. It always returns a non-nil error; after Close the error
// is net.ErrClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if pid, uid, ok := peerCredentials(conn); ok {
			log.Printf("fifodev: session connection from pid=%d uid=%d", pid, uid)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting connections, cancels every in-flight operation, and
// waits for connection handlers to finish.
func (s *Server) Close() error {
	s.cancel()
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

// connSession is the per-connection session state.
type connSession struct {
	opened bool
	r      role
}

// handle runs one connection: a receive loop feeds requests to a dispatch
// loop, so a dying connection is noticed even while an operation is blocked
// inside the device and can cancel it.
func (s *Server) handle(conn net.Conn) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	tr := NewFrameTransport(conn)
	defer tr.Close()

	reqs := make(chan request)
	go func() {
		defer cancel()
		for {
			frame, err := tr.Receive()
			if err != nil {
				return
			}
			var req request
			if err := s.ser.Unmarshal(frame, &req); err != nil {
				log.Printf("fifodev: dropping undecodable request: %v", err)
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	var sess connSession
	defer func() {
		// Release a session the client never closed.
		if sess.opened {
			s.dev.release(sess.r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-reqs:
			rep := s.execute(ctx, &sess, req)
			frame, err := s.ser.Marshal(rep)
			if err != nil {
				log.Printf("fifodev: encoding reply: %v", err)
				return
			}
			if err := tr.Send(frame); err != nil {
				return
			}
		}
	}
}

// execute performs one session operation against the device.
func (s *Server) execute(ctx context.Context, sess *connSession, req request) reply {
	switch req.Op {
	case opOpen:
		if sess.opened {
			return errReply(errors.New("connection already carries a session"))
		}
		r, err := parseRole(req.Role)
		if err != nil {
			return errReply(err)
		}
		if err := s.dev.open(ctx, r); err != nil {
			return errReply(err)
		}
		sess.opened = true
		sess.r = r
		return reply{}

	case opRead:
		if !sess.opened || sess.r != consumer {
			return errReply(errors.New("connection has no consumer session"))
		}
		if req.Max <= 0 {
			return errReply(errors.New("read size must be positive"))
		}
		max := req.Max
		if max > Capacity {
			max = Capacity
		}
		buf := s.pool.Get()
		n, err := s.dev.read(ctx, buf[:max])
		if err != nil {
			s.pool.Put(buf)
			return errReply(err)
		}
		if n == 0 {
			s.pool.Put(buf)
			return reply{EOF: true}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.pool.Put(buf)
		return reply{N: n, Data: data}

	case opWrite:
		if !sess.opened || sess.r != producer {
			return errReply(errors.New("connection has no producer session"))
		}
		n, err := s.dev.write(ctx, req.Data)
		if err != nil {
			return errReply(err)
		}
		return reply{N: n}

	case opClose:
		if !sess.opened {
			return errReply(errors.New("connection has no session"))
		}
		s.dev.release(sess.r)
		sess.opened = false
		return reply{}

	default:
		return errReply(errors.New("unknown operation " + req.Op))
	}
}

func errReply(err error) reply {
	return reply{Err: err.Error()}
}
