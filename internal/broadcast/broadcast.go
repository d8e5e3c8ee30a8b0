// Package broadcast fans the captured sample stream out to independent
// consumers.
//
// A Broadcaster is the only reader of the capture ring buffer and the only
// sender on every Subscription channel. Consumers never close channels; they
// call Cancel to leave, and the Broadcaster closes the channel for them.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glizzus/tau/internal/ringbuf"
	"github.com/glizzus/tau/internal/shutdown"
)

const (
	DefaultIdleInterval = 2 * time.Millisecond
	DefaultBatchSize    = 1024
)

// Subscription is one downstream consumer of the sample stream.
type Subscription struct {
	name string
	ch   chan float32

	quit       chan struct{}
	cancelOnce sync.Once

	dropped atomic.Uint64
	// overflowing and skipping are only touched by the broadcasting goroutine.
	overflowing bool
	// skipping is set for the rest of an interleaved group that did not fit.
	skipping bool
}

// C returns the channel samples are delivered on. It is closed when the
// Broadcaster stops or abandons the subscription.
func (s *Subscription) C() <-chan float32 {
	return s.ch
}

// Name returns the name the subscription was registered with.
func (s *Subscription) Name() string {
	return s.name
}

// Cancel tells the Broadcaster this consumer is gone. Delivery stops on the
// next sample and the channel is closed.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.quit)
	})
}

// Dropped returns how many samples were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type Options struct {
	// IdleInterval is how long Run waits when the ring buffer is empty.
	IdleInterval time.Duration
	// BatchSize is the maximum number of samples drained per iteration.
	BatchSize int
	// Channels is the number of interleaved channels. Samples are admitted
	// or dropped a whole group at a time so channel order survives drops.
	Channels int
	Logger   *slog.Logger
}

type Broadcaster struct {
	src    *ringbuf.Consumer
	signal *shutdown.Signal
	subs   []*Subscription

	idle     time.Duration
	batch    int
	channels int
	// pos is the index of the next sample within its interleaved group.
	pos    int
	logger *slog.Logger
}

func New(src *ringbuf.Consumer, signal *shutdown.Signal, opts Options) *Broadcaster {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Broadcaster{
		src:      src,
		signal:   signal,
		idle:     opts.IdleInterval,
		batch:    opts.BatchSize,
		channels: opts.Channels,
		logger:   opts.Logger.With(slog.String("component", "broadcast")),
	}
}

// Subscribe registers a consumer whose channel buffers up to depth samples.
// All subscriptions must be made before Run is called.
func (b *Broadcaster) Subscribe(name string, depth int) *Subscription {
	sub := &Subscription{
		name: name,
		ch:   make(chan float32, depth),
		quit: make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Run drains the ring buffer until the shutdown signal is set, then closes
// every remaining subscription channel.
func (b *Broadcaster) Run() {
	defer b.closeAll()

	buf := make([]float32, b.batch)
	timer := time.NewTimer(b.idle)
	defer timer.Stop()

	for {
		if b.signal.Triggered() {
			b.logger.Debug("broadcaster stopping")
			return
		}

		n := b.src.PopSlice(buf)
		if n == 0 {
			timer.Reset(b.idle)
			select {
			case <-b.signal.Done():
			case <-timer.C:
			}
			continue
		}

		for _, s := range buf[:n] {
			b.fanOut(s)
		}
	}
}

func (b *Broadcaster) fanOut(sample float32) {
	groupStart := b.pos == 0
	b.pos = (b.pos + 1) % b.channels

	live := b.subs[:0]
	for _, sub := range b.subs {
		if !b.deliver(sub, sample, groupStart) {
			b.logger.Warn("consumer gone, abandoning its path",
				slog.String("consumer", sub.name),
			)
			close(sub.ch)
			continue
		}
		live = append(live, sub)
	}
	b.subs = live
}

// deliver reports false once the subscription has been cancelled. At the
// start of each interleaved group it decides whether the whole group fits;
// if not, every sample of the group is dropped for that consumer.
func (b *Broadcaster) deliver(sub *Subscription, sample float32, groupStart bool) bool {
	select {
	case <-sub.quit:
		return false
	default:
	}

	if groupStart {
		// Only this goroutine sends, so free space can only grow.
		sub.skipping = cap(sub.ch)-len(sub.ch) < b.channels
	}
	if !sub.skipping {
		select {
		case sub.ch <- sample:
			if sub.overflowing {
				sub.overflowing = false
				b.logger.Info("consumer caught up",
					slog.String("consumer", sub.name),
					slog.Uint64("dropped", sub.dropped.Load()),
				)
			}
			return true
		default:
			sub.skipping = true
		}
	}

	sub.dropped.Add(1)
	if !sub.overflowing {
		sub.overflowing = true
		b.logger.Warn("consumer channel full, dropping samples",
			slog.String("consumer", sub.name),
		)
	}
	return true
}

func (b *Broadcaster) closeAll() {
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
