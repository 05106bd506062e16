package fifodev

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// openPair opens one writer and one reader on d, riding out the mutual
// open-blocks-until-peer handshake.
func openPair(t *testing.T, d *Device) (*Writer, *Reader) {
	t.Helper()
	type res struct {
		r   *Reader
		err error
	}
	ch := make(chan res, 1)
	go func() {
		r, err := d.OpenReader(context.Background())
		ch <- res{r, err}
	}()
	w, err := d.OpenWriter(context.Background())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	rr := <-ch
	if rr.err != nil {
		t.Fatalf("OpenReader: %v", rr.err)
	}
	return w, rr.r
}

// peekState reads device internals under the lock.
func peekState(d *Device) (buffered, producers, consumers int) {
	d.mu <- struct{}{}
	buffered = d.ring.len()
	producers = d.sess.count(producer)
	consumers = d.sess.count(consumer)
	<-d.mu
	return
}

func TestOpenBlocksUntilPeer(t *testing.T) {
	d := NewDevice()

	opened := make(chan *Reader, 1)
	go func() {
		r, err := d.OpenReader(context.Background())
		if err != nil {
			t.Errorf("OpenReader: %v", err)
		}
		opened <- r
	}()

	select {
	case <-opened:
		t.Fatal("OpenReader returned with no producer session open")
	case <-time.After(50 * time.Millisecond):
	}

	w, err := d.OpenWriter(context.Background())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	var r *Reader
	select {
	case r = <-opened:
	case <-time.After(time.Second):
		t.Fatal("OpenReader still blocked after a producer opened")
	}

	if n, err := w.Write([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 10)
	n, err := r.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("Read: n=%d err=%v data=%q", n, err, buf[:n])
	}

	w.Close()
	r.Close()
}

func TestWriteExactCapacityAndOversize(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)
	defer r.Close()
	defer w.Close()

	if _, err := w.Write(make([]byte, Capacity+1)); !errors.Is(err, ErrOversizedWrite) {
		t.Fatalf("oversized write: %v", err)
	}
	if buffered, _, _ := peekState(d); buffered != 0 {
		t.Fatalf("oversized write touched the buffer: %d bytes", buffered)
	}

	if n, err := w.Write(make([]byte, Capacity)); n != Capacity || err != nil {
		t.Fatalf("exact-capacity write: n=%d err=%v", n, err)
	}
}

func TestWriteBlocksUntilSpaceFrees(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)
	defer r.Close()
	defer w.Close()

	fill := make([]byte, Capacity)
	for i := range fill {
		fill[i] = byte(i)
	}
	if _, err := w.Write(fill); err != nil {
		t.Fatalf("fill write: %v", err)
	}

	wrote := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte{0xAA})
		wrote <- err
	}()

	select {
	case err := <-wrote:
		t.Fatalf("write into a full buffer returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	one := make([]byte, 1)
	if n, err := r.Read(one); n != 1 || err != nil || one[0] != 0 {
		t.Fatalf("drain read: n=%d err=%v b=%#x", n, err, one[0])
	}

	select {
	case err := <-wrote:
		if err != nil {
			t.Fatalf("unblocked write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write still blocked after space freed")
	}

	rest := make([]byte, Capacity)
	got := 0
	for got < Capacity {
		n, err := r.Read(rest[got:])
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		got += n
	}
	if rest[Capacity-1] != 0xAA {
		t.Fatalf("last byte %#x, want the unblocked write's byte", rest[Capacity-1])
	}
}

func TestWriteBrokenPipe(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)
	defer w.Close()

	r.Close()
	if _, err := w.Write([]byte("doomed")); !errors.Is(err, ErrBrokenPipe) {
		t.Fatalf("write with no consumers: %v", err)
	}
	// Drop policy: a failing write never mutates the buffer.
	if buffered, _, _ := peekState(d); buffered != 0 {
		t.Fatalf("broken-pipe write enqueued %d bytes", buffered)
	}
}

func TestBlockedWriteObservesConsumerExit(t *testing.T) {
	d := newDeviceSize(4)
	w, r := openPair(t, d)
	defer w.Close()

	if _, err := w.Write([]byte("full")); err != nil {
		t.Fatalf("fill: %v", err)
	}

	wrote := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("x"))
		wrote <- err
	}()
	time.Sleep(20 * time.Millisecond)

	r.Close()
	select {
	case err := <-wrote:
		if !errors.Is(err, ErrBrokenPipe) {
			t.Fatalf("blocked write after last consumer closed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked write not woken by consumer close")
	}
}

func TestReadEOFWhenProducersGone(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)
	defer r.Close()

	if _, err := w.Write([]byte("tail")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	// Buffered bytes drain first, then EOF without blocking.
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "tail" {
		t.Fatalf("drain read: n=%d err=%v", n, err)
	}
	start := time.Now()
	if _, err := r.Read(buf); err != io.EOF {
		t.Fatalf("read past drain: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("EOF read blocked")
	}
}

func TestResetOnFullDrain(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()
	r.Close()

	if buffered, p, c := peekState(d); buffered != 0 || p != 0 || c != 0 {
		t.Fatalf("after full drain: buffered=%d producers=%d consumers=%d", buffered, p, c)
	}

	// A fresh pair must see an empty pipe, not the stale 10 bytes.
	w2, r2 := openPair(t, d)
	w2.Close()
	if _, err := r2.Read(make([]byte, 10)); err != io.EOF {
		t.Fatalf("read after reset: %v", err)
	}
	r2.Close()
}

func TestOpenCancellation(t *testing.T) {
	d := NewDevice()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := d.OpenReader(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled open: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled open did not return")
	}

	// The half-opened session must have been rolled back.
	if _, _, consumers := peekState(d); consumers != 0 {
		t.Fatalf("consumer count %d after cancelled open", consumers)
	}
}

func TestReadCancellationLeavesDeviceUsable(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)
	defer w.Close()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.ReadContext(ctx, make([]byte, 8))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled read: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled read did not return")
	}

	// Counters and lock must be consistent: a normal exchange still works.
	if _, err := w.Write([]byte("after")); err != nil {
		t.Fatalf("write after cancellation: %v", err)
	}
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "after" {
		t.Fatalf("read after cancellation: n=%d err=%v", n, err)
	}
}

func TestClosedHandles(t *testing.T) {
	d := NewDevice()
	w, r := openPair(t, d)

	r.Close()
	if err := r.Close(); err != nil {
		t.Errorf("double close: %v", err)
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("read on closed handle: %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrBrokenPipe) {
		t.Errorf("write after reader closed: %v", err)
	}
	w.Close()
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("write on closed handle: %v", err)
	}

	// Double closes must not have driven the counts negative.
	if _, p, c := peekState(d); p != 0 || c != 0 {
		t.Errorf("counts after double close: producers=%d consumers=%d", p, c)
	}
}

// TestSingleProducerFIFO checks strict byte order between one producer and
// one consumer across many blocking cycles on a tiny buffer.
func TestSingleProducerFIFO(t *testing.T) {
	d := newDeviceSize(16)
	w, r := openPair(t, d)

	const total = 4096
	go func() {
		defer w.Close()
		chunk := make([]byte, 0, 7)
		for i := 0; i < total; i++ {
			chunk = append(chunk, byte(i))
			if len(chunk) == cap(chunk) || i == total-1 {
				if _, err := w.Write(chunk); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				chunk = chunk[:0]
			}
		}
	}()

	var got bytes.Buffer
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got.Write(buf[:n])
	}
	r.Close()

	if got.Len() != total {
		t.Fatalf("read %d bytes, want %d", got.Len(), total)
	}
	for i, b := range got.Bytes() {
		if b != byte(i) {
			t.Fatalf("byte %d is %#x, want %#x", i, b, byte(i))
		}
	}
}

// TestTwoProducersOneConsumer checks that with concurrent producers the
// consumer sees every byte exactly once and each producer's own bytes stay
// in its write order. Producer A uses values with the high bit clear,
// producer B with the high bit set.
func TestTwoProducersOneConsumer(t *testing.T) {
	d := newDeviceSize(32)

	readerReady := make(chan *Reader, 1)
	go func() {
		r, err := d.OpenReader(context.Background())
		if err != nil {
			t.Errorf("OpenReader: %v", err)
		}
		readerReady <- r
	}()

	const perProducer = 2048
	produce := func(mask byte) {
		w, err := d.OpenWriter(context.Background())
		if err != nil {
			t.Errorf("OpenWriter: %v", err)
			return
		}
		defer w.Close()
		chunk := make([]byte, 0, 11)
		for i := 0; i < perProducer; i++ {
			chunk = append(chunk, byte(i%128)|mask)
			if len(chunk) == cap(chunk) || i == perProducer-1 {
				if _, err := w.Write(chunk); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				chunk = chunk[:0]
			}
		}
	}

	var producers sync.WaitGroup
	producers.Add(2)
	go func() { defer producers.Done(); produce(0x00) }()
	go func() { defer producers.Done(); produce(0x80) }()

	r := <-readerReady
	var got []byte
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	r.Close()
	producers.Wait()

	if len(got) != 2*perProducer {
		t.Fatalf("read %d bytes, want %d", len(got), 2*perProducer)
	}

	// Each producer's subsequence must replay its own write order.
	var ai, bi int
	for pos, b := range got {
		if b&0x80 == 0 {
			if b != byte(ai%128) {
				t.Fatalf("producer A byte %d (stream pos %d) is %#x, want %#x", ai, pos, b, byte(ai%128))
			}
			ai++
		} else {
			if b != byte(bi%128)|0x80 {
				t.Fatalf("producer B byte %d (stream pos %d) is %#x, want %#x", bi, pos, b, byte(bi%128)|0x80)
			}
			bi++
		}
	}
	if ai != perProducer || bi != perProducer {
		t.Fatalf("per-producer totals: A=%d B=%d, want %d each", ai, bi, perProducer)
	}
}
