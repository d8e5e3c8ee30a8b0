// Package encoder accumulates samples into frames and drives a Codec.
//
// One Loop runs per destination. Loops never share a Codec, so the network
// and recording paths produce two independent encodings of the same input.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/glizzus/tau/internal/shutdown"
)

// ErrChannelFull is returned by Run when the downstream chunk channel could
// not take a chunk.
var ErrChannelFull = errors.New("chunk channel full")

type LoopConfig struct {
	Name  string
	Codec Codec
	In    <-chan float32
	// Out receives one chunk per encoded frame. It is closed when Run
	// returns. A nil Out means the codec writes to its own sink.
	Out    chan<- []byte
	Signal *shutdown.Signal
	// FrameSize is the number of interleaved samples per frame.
	FrameSize int
	Logger    *slog.Logger
}

type Loop struct {
	name      string
	codec     Codec
	in        <-chan float32
	out       chan<- []byte
	signal    *shutdown.Signal
	frameSize int
	logger    *slog.Logger

	frames atomic.Uint64
	chunks atomic.Uint64
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		name:      cfg.Name,
		codec:     cfg.Codec,
		in:        cfg.In,
		out:       cfg.Out,
		signal:    cfg.Signal,
		frameSize: cfg.FrameSize,
		logger: cfg.Logger.With(
			slog.String("component", "encoder"),
			slog.String("encoder", cfg.Name),
		),
	}
}

// Frames returns the number of frames submitted to the codec.
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

// Chunks returns the number of chunks forwarded downstream.
func (l *Loop) Chunks() uint64 {
	return l.chunks.Load()
}

// Run encodes until its input closes, the shutdown signal is set, or a
// chunk cannot be forwarded. It panics if the codec rejects a frame length.
func (l *Loop) Run() error {
	if l.out != nil {
		defer close(l.out)
	}

	frame := make([]float32, 0, l.frameSize)
	for {
		select {
		case <-l.signal.Done():
			l.logger.Debug("encoder stopping")
			return nil
		case s, ok := <-l.in:
			if !ok {
				l.logger.Debug("encoder input closed")
				return nil
			}
			frame = append(frame, s)
		}
		if len(frame) < l.frameSize {
			continue
		}

		if err := l.codec.Write(frame); err != nil {
			if errors.Is(err, ErrFrameLength) {
				panic(fmt.Sprintf("encoder %s: %v", l.name, err))
			}
			return fmt.Errorf("encode frame: %w", err)
		}
		frame = frame[:0]
		l.frames.Add(1)

		// Always force a chunk out: latency matters more than page packing.
		chunk, ok := l.codec.FlushChunk(true)
		if !ok || l.out == nil {
			continue
		}
		select {
		case l.out <- chunk:
			l.chunks.Add(1)
		default:
			l.logger.Error("could not forward encoded chunk, stopping encoder",
				slog.Uint64("chunks", l.chunks.Load()),
			)
			return ErrChannelFull
		}
	}
}
