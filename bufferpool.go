package fifodev

// BufferPool manages a pool of reusable byte slices for the wire layer's
// frame and copy buffers, the user-space staging buffers of the device. It
// uses a channel-based design for thread-safe access without locks.
//
// BufferPool is safe for concurrent use by multiple goroutines.
type BufferPool struct {
	pool    chan []byte
	bufSize int
}

// NewBufferPool creates a pool pre-populated with count buffers of bufSize
// bytes. Buffers are retrieved with Get and returned with Put.
func NewBufferPool(bufSize, count int) *BufferPool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, bufSize)
	}
	return &BufferPool{
		pool:    pool,
		bufSize: bufSize,
	}
}

// Get returns a buffer from the pool, or allocates a new one if the pool is
// empty. The returned buffer has length bufSize.
func (bp *BufferPool) Get() []byte {
	select {
	case buf := <-bp.pool:
		return buf
	default:
		return make([]byte, bp.bufSize)
	}
}

// Put returns a buffer to the pool for reuse. Buffers with the wrong
// capacity are discarded, as is any buffer arriving while the pool is full.
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}
	select {
	case bp.pool <- buf[:bp.bufSize]:
	default:
		// Pool is full; let the buffer be garbage collected.
	}
}
