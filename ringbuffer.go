package fifodev

// Capacity is the fixed size of a device's circular buffer in bytes.
// It also bounds the number of bytes a single write may carry.
const Capacity = 4096

// ringBuffer is a fixed-capacity circular byte store with wraparound read and
// write cursors. It does no locking of its own; the owning Device mutates it
// only while holding the device lock.
type ringBuffer struct {
	data  []byte
	rpos  int // next byte to pop
	wpos  int // next byte to push
	count int // bytes currently stored; 0 <= count <= len(data)
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]byte, capacity)}
}

// len returns the number of bytes currently buffered.
func (r *ringBuffer) len() int { return r.count }

// cap returns the fixed capacity of the buffer.
func (r *ringBuffer) cap() int { return len(r.data) }

// avail returns the number of bytes that can be pushed without overflow.
func (r *ringBuffer) avail() int { return len(r.data) - r.count }

// push copies p into the buffer, wrapping past the end if necessary.
// The caller must guarantee len(p) <= avail().
func (r *ringBuffer) push(p []byte) {
	first := copy(r.data[r.wpos:], p)
	if first < len(p) {
		copy(r.data, p[first:])
	}
	r.wpos = (r.wpos + len(p)) % len(r.data)
	r.count += len(p)
}

// pop removes up to len(p) bytes from the buffer into p and returns the
// number of bytes removed, which is min(len(p), len()).
func (r *ringBuffer) pop(p []byte) int {
	n := r.count
	if len(p) < n {
		n = len(p)
	}
	if n == 0 {
		return 0
	}
	first := copy(p[:n], r.data[r.rpos:])
	if first < n {
		copy(p[first:n], r.data)
	}
	r.rpos = (r.rpos + n) % len(r.data)
	r.count -= n
	return n
}

// reset discards all buffered bytes and rewinds both cursors.
func (r *ringBuffer) reset() {
	r.rpos = 0
	r.wpos = 0
	r.count = 0
}
