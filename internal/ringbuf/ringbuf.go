// Package ringbuf implements a fixed-capacity single-producer,
// single-consumer queue of float32 samples.
//
// The queue is split into a Producer, owned by the capture callback, and a
// Consumer, owned by the broadcaster. Neither handle is safe for use by more
// than one goroutine, but the two may run concurrently without locks.
package ringbuf

import "sync/atomic"

type ring struct {
	buf []float32

	// head is the count of samples ever read, tail the count ever written.
	// Only the consumer stores head and only the producer stores tail.
	head atomic.Uint64
	tail atomic.Uint64

	dropped atomic.Uint64
}

// Producer is the write half of a ring buffer.
type Producer struct {
	r *ring
}

// Consumer is the read half of a ring buffer.
type Consumer struct {
	r *ring
}

// New allocates a ring buffer holding capacity samples and returns its two
// halves. It panics if capacity is not positive.
func New(capacity int) (*Producer, *Consumer) {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	r := &ring{buf: make([]float32, capacity)}
	return &Producer{r: r}, &Consumer{r: r}
}

// Push appends as many samples as fit and returns how many were written.
// Samples that do not fit are discarded and counted in Dropped; the audio
// callback must never block.
func (p *Producer) Push(samples []float32) int {
	r := p.r
	size := uint64(len(r.buf))
	tail := r.tail.Load()
	free := size - (tail - r.head.Load())

	n := uint64(len(samples))
	if n > free {
		r.dropped.Add(n - free)
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(tail+i)%size] = samples[i]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Dropped returns the number of samples discarded because the buffer was full.
func (p *Producer) Dropped() uint64 {
	return p.r.dropped.Load()
}

// Cap returns the capacity of the buffer in samples.
func (p *Producer) Cap() int {
	return len(p.r.buf)
}

// Pop removes and returns the oldest sample. The second result is false when
// the buffer is empty.
func (c *Consumer) Pop() (float32, bool) {
	r := c.r
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	s := r.buf[head%uint64(len(r.buf))]
	r.head.Store(head + 1)
	return s, true
}

// PopSlice moves up to len(dst) of the oldest samples into dst and returns
// the number moved.
func (c *Consumer) PopSlice(dst []float32) int {
	r := c.r
	size := uint64(len(r.buf))
	head := r.head.Load()
	avail := r.tail.Load() - head

	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(head+i)%size]
	}
	r.head.Store(head + n)
	return int(n)
}

// Len returns the number of samples waiting to be read.
func (c *Consumer) Len() int {
	r := c.r
	return int(r.tail.Load() - r.head.Load())
}
