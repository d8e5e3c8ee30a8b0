// Package capture feeds interleaved float32 samples into the ring buffer.
package capture

import (
	"errors"
	"sync"

	"github.com/glizzus/tau/internal/ringbuf"
)

// Source pushes samples into a producer from its own callback thread until
// closed. Start is called once.
type Source interface {
	Start(p *ringbuf.Producer) error
	Close() error
}

var ErrStarted = errors.New("capture already started")

// Buffered is a Source that pushes a fixed set of samples once, as if the
// device had delivered them in a single callback.
type Buffered struct {
	Samples []float32

	mu      sync.Mutex
	started bool
}

func (b *Buffered) Start(p *ringbuf.Producer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrStarted
	}
	b.started = true
	p.Push(b.Samples)
	return nil
}

func (b *Buffered) Close() error { return nil }
