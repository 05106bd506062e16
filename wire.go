package fifodev

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer defines the interface for message encoding and decoding.
// Implementations convert between Go values and byte slices for transport.
// The default implementation uses MessagePack for compact binary messages.
type Serializer interface {
	// Marshal encodes a Go value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes bytes into a Go value.
	Unmarshal(data []byte, v interface{}) error
}

// MsgpackSerializer is the default Serializer, backed by msgpack.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// Transport defines the interface for exchanging opaque messages between a
// session client and the device server. Implementations own the framing.
type Transport interface {
	// Send transmits one complete message to the remote endpoint.
	Send(data []byte) error

	// Receive reads one complete message from the remote endpoint.
	Receive() ([]byte, error)

	// Close releases transport resources and closes the underlying
	// connection.
	Close() error
}

// frameScratch is the size of pooled scratch buffers used for frame headers
// and payloads. It comfortably holds a full-capacity write plus the message
// envelope.
const frameScratch = Capacity + 512

// maxFrameSize bounds incoming frames so a corrupt or hostile length prefix
// cannot force an arbitrary allocation.
const maxFrameSize = 1 << 20

// FrameTransport is the default Transport: each message travels as a 4-byte
// big-endian length prefix followed by the payload, over any stream
// connection. Scratch buffers come from a shared BufferPool.
type FrameTransport struct {
	rw   io.ReadWriteCloser
	pool *BufferPool
}

// NewFrameTransport wraps a stream connection in length-prefixed framing.
func NewFrameTransport(rw io.ReadWriteCloser) *FrameTransport {
	return &FrameTransport{
		rw:   rw,
		pool: NewBufferPool(frameScratch, 4),
	}
}

// Send writes the length prefix and payload as a single frame.
func (ft *FrameTransport) Send(data []byte) error {
	buf := ft.pool.Get()
	defer ft.pool.Put(buf)

	if len(data)+4 <= len(buf) {
		// Common case: one write for prefix plus payload.
		binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
		n := copy(buf[4:], data)
		_, err := ft.rw.Write(buf[:4+n])
		return err
	}

	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	if _, err := ft.rw.Write(buf[:4]); err != nil {
		return err
	}
	_, err := ft.rw.Write(data)
	return err
}

// Receive reads one frame and returns its payload.
func (ft *FrameTransport) Receive() ([]byte, error) {
	buf := ft.pool.Get()

	if _, err := io.ReadFull(ft.rw, buf[:4]); err != nil {
		ft.pool.Put(buf)
		return nil, err
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if length > maxFrameSize {
		ft.pool.Put(buf)
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}

	if int(length) <= len(buf) {
		if _, err := io.ReadFull(ft.rw, buf[:length]); err != nil {
			ft.pool.Put(buf)
			return nil, err
		}
		// Copy out so the scratch buffer can go back to the pool.
		data := make([]byte, length)
		copy(data, buf[:length])
		ft.pool.Put(buf)
		return data, nil
	}

	ft.pool.Put(buf)
	data := make([]byte, length)
	_, err := io.ReadFull(ft.rw, data)
	return data, err
}

// Close closes the underlying connection.
func (ft *FrameTransport) Close() error {
	return ft.rw.Close()
}

// Wire operation names.
const (
	opOpen  = "open"
	opRead  = "read"
	opWrite = "write"
	opClose = "close"
)

// request is one session operation sent from a client to the device server.
type request struct {
	Op   string `msgpack:"op"`
	Role string `msgpack:"role,omitempty"`
	Data []byte `msgpack:"data,omitempty"`
	Max  int    `msgpack:"max,omitempty"`
}

// reply answers a single request. Err carries the failure as text; the
// client maps well-known messages back to the sentinel errors.
type reply struct {
	N    int    `msgpack:"n,omitempty"`
	Data []byte `msgpack:"data,omitempty"`
	EOF  bool   `msgpack:"eof,omitempty"`
	Err  string `msgpack:"error,omitempty"`
}

// parseRole maps a wire role name to a role.
func parseRole(s string) (role, error) {
	switch s {
	case "producer":
		return producer, nil
	case "consumer":
		return consumer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
