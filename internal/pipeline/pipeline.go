// Package pipeline wires capture, broadcast, encoding, delivery and
// recording into one running graph and tears it down in order.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/tau/internal/broadcast"
	"github.com/glizzus/tau/internal/capture"
	"github.com/glizzus/tau/internal/encoder"
	"github.com/glizzus/tau/internal/recorder"
	"github.com/glizzus/tau/internal/ringbuf"
	"github.com/glizzus/tau/internal/sender"
	"github.com/glizzus/tau/internal/shutdown"
	"github.com/glizzus/tau/internal/transport"
)

const (
	SampleRate   = 48000
	Channels     = 2
	FrameLength  = 960
	RingCapacity = SampleRate * 4
	ChannelDepth = 4096 * 32
)

var ErrStarted = errors.New("pipeline already started")

type Config struct {
	Source      capture.Source
	Factory     encoder.Factory
	Dialer      transport.Dialer
	Credentials transport.Credentials

	// Title is written into the stream metadata.
	Title       string
	SampleRate  int
	Channels    int
	FrameLength int

	RingCapacity int
	SampleDepth  int
	ChunkDepth   int
	Backoff      time.Duration

	// RecordPath is the local recording. Empty disables recording.
	RecordPath string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = Channels
	}
	if c.FrameLength <= 0 {
		c.FrameLength = FrameLength
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = RingCapacity
	}
	if c.SampleDepth <= 0 {
		c.SampleDepth = ChannelDepth
	}
	if c.ChunkDepth <= 0 {
		c.ChunkDepth = ChannelDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Stats struct {
	Sender         sender.Stats
	NetworkFrames  uint64
	DroppedCapture uint64
	DroppedNetwork uint64
	DroppedRecord  uint64
}

type Pipeline struct {
	cfg    Config
	signal *shutdown.Signal
	logger *slog.Logger

	producer    *ringbuf.Producer
	broadcaster *broadcast.Broadcaster
	networkSub  *broadcast.Subscription
	recordSub   *broadcast.Subscription
	network     *encoder.Loop
	networkOut  chan []byte
	codec       encoder.Codec
	sender      *sender.Sender
	recorder    *recorder.Recorder

	started bool
	tasks   map[string]*task
}

// New builds the graph. Nothing runs until Start.
func New(cfg Config, signal *shutdown.Signal) (*Pipeline, error) {
	cfg.setDefaults()
	if cfg.Source == nil || cfg.Factory == nil || cfg.Dialer == nil {
		return nil, errors.New("pipeline needs a source, a codec factory and a dialer")
	}

	p := &Pipeline{
		cfg:    cfg,
		signal: signal,
		logger: cfg.Logger.With(slog.String("component", "pipeline")),
		tasks:  make(map[string]*task),
	}
	meta := encoder.Metadata{Title: cfg.Title, SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	frameSize := cfg.FrameLength * cfg.Channels

	producer, consumer := ringbuf.New(cfg.RingCapacity)
	p.producer = producer
	p.broadcaster = broadcast.New(consumer, signal, broadcast.Options{
		Channels: cfg.Channels,
		Logger:   cfg.Logger,
	})

	codec, err := cfg.Factory(encoder.SinkStream, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream encoder: %w", err)
	}
	p.codec = codec
	p.networkSub = p.broadcaster.Subscribe("network", cfg.SampleDepth)
	p.networkOut = make(chan []byte, cfg.ChunkDepth)
	p.network = encoder.NewLoop(encoder.LoopConfig{
		Name:      "network",
		Codec:     codec,
		In:        p.networkSub.C(),
		Out:       p.networkOut,
		Signal:    signal,
		FrameSize: frameSize,
		Logger:    cfg.Logger,
	})
	p.sender = sender.New(cfg.Dialer, cfg.Credentials, p.networkOut, signal, sender.Options{
		Backoff: cfg.Backoff,
		Logger:  cfg.Logger,
	})

	if cfg.RecordPath != "" {
		p.recordSub = p.broadcaster.Subscribe("record", cfg.SampleDepth)
		p.recorder = recorder.New(cfg.RecordPath, meta, p.recordSub, signal, recorder.Options{
			Factory:   cfg.Factory,
			FrameSize: frameSize,
			Logger:    cfg.Logger,
		})
	}
	return p, nil
}

// Start launches every loop, then starts capture. A capture failure is
// fatal: the signal is triggered and the error returned.
func (p *Pipeline) Start() error {
	if p.started {
		return ErrStarted
	}
	p.started = true

	p.tasks["broadcast"] = spawn(p.logger, "broadcast", func() error {
		p.broadcaster.Run()
		return nil
	})
	if p.recorder != nil {
		p.tasks["record"] = spawn(p.logger, "record", p.recorder.Run)
	}
	p.tasks["network"] = spawn(p.logger, "network", func() error {
		// Whatever ends the encoder, stop feeding it.
		defer p.networkSub.Cancel()
		defer func() {
			// The end-of-stream page is not forwarded.
			if err := p.codec.Close(); err != nil {
				p.logger.Warn("could not close stream encoder", slog.Any("error", err))
			}
		}()
		return p.network.Run()
	})
	p.tasks["sender"] = spawn(p.logger, "sender", func() error {
		p.sender.Run()
		return nil
	})

	if err := p.cfg.Source.Start(p.producer); err != nil {
		p.signal.Trigger()
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Wait blocks until shutdown has stopped every loop. Loops are joined in
// pipeline order; a failed loop is logged and the rest are still joined.
// The returned error joins every loop failure.
func (p *Pipeline) Wait() error {
	if !p.started {
		return nil
	}

	var errs []error
	join := func(name string) {
		t, ok := p.tasks[name]
		if !ok {
			return
		}
		if err := t.join(); err != nil {
			p.logger.Warn("loop ended with an error", slog.String("loop", name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	join("broadcast")
	if err := p.cfg.Source.Close(); err != nil {
		p.logger.Warn("could not close capture", slog.Any("error", err))
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	join("record")
	join("network")
	join("sender")

	p.logger.Info("pipeline stopped")
	return errors.Join(errs...)
}

func (p *Pipeline) Stats() Stats {
	st := Stats{
		Sender:         p.sender.Stats(),
		NetworkFrames:  p.network.Frames(),
		DroppedCapture: p.producer.Dropped(),
		DroppedNetwork: p.networkSub.Dropped(),
	}
	if p.recordSub != nil {
		st.DroppedRecord = p.recordSub.Dropped()
	}
	return st
}

// RecordingSaved reports whether the local recording was finalised cleanly.
func (p *Pipeline) RecordingSaved() bool {
	return p.recorder != nil && p.recorder.Saved()
}
