// Package recorder keeps a local copy of the stream.
//
// The recorder runs its own file-sink encoder over its own subscription, so
// nothing it does can reach into the network path. If the file cannot be
// created or written, recording ends and streaming carries on.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/glizzus/tau/internal/encoder"
	"github.com/glizzus/tau/internal/shutdown"
)

// ErrFileExists is returned when the output path is already taken. A
// recording never overwrites an earlier one.
var ErrFileExists = errors.New("recording already exists")

// Source is the sample feed a recorder consumes. broadcast.Subscription
// satisfies it.
type Source interface {
	C() <-chan float32
	Cancel()
}

// Archiver receives the finished recording.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// CheckAvailable returns ErrFileExists if path is already taken.
func CheckAvailable(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("check recording path: %w", err)
	}
}

type Options struct {
	Factory   encoder.Factory
	FrameSize int
	// Create opens the output file. It defaults to an exclusive create.
	Create func(path string) (io.WriteCloser, error)
	Logger *slog.Logger
}

type Recorder struct {
	path      string
	meta      encoder.Metadata
	src       Source
	signal    *shutdown.Signal
	factory   encoder.Factory
	frameSize int
	create    func(path string) (io.WriteCloser, error)
	logger    *slog.Logger

	saved atomic.Bool
}

func New(path string, meta encoder.Metadata, src Source, signal *shutdown.Signal, opts Options) *Recorder {
	if opts.Create == nil {
		opts.Create = createExclusive
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		path:      path,
		meta:      meta,
		src:       src,
		signal:    signal,
		factory:   opts.Factory,
		frameSize: opts.FrameSize,
		create:    opts.Create,
		logger: opts.Logger.With(
			slog.String("component", "recorder"),
			slog.String("path", path),
		),
	}
}

func createExclusive(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Run records until shutdown or until the file can no longer be written.
// Any error ends recording only; the subscription is cancelled so the
// broadcaster stops feeding it.
func (r *Recorder) Run() (err error) {
	defer func() {
		if err != nil {
			r.src.Cancel()
			r.logger.Error("local recording stopped", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create recordings directory: %w", err)
	}

	f, err := r.create(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrFileExists, r.path)
		}
		return fmt.Errorf("create recording: %w", err)
	}

	codec, err := r.factory(encoder.SinkFile, r.meta, f)
	if err != nil {
		return errors.Join(fmt.Errorf("create file encoder: %w", err), f.Close())
	}

	r.logger.Info("recording started")
	loop := encoder.NewLoop(encoder.LoopConfig{
		Name:      "record",
		Codec:     codec,
		In:        r.src.C(),
		Signal:    r.signal,
		FrameSize: r.frameSize,
		Logger:    r.logger,
	})
	runErr := loop.Run()

	if runErr != nil {
		// The file is already broken; closing is best effort.
		_ = codec.Close()
		_ = f.Close()
		return fmt.Errorf("write recording: %w", runErr)
	}
	if err := errors.Join(codec.Close(), f.Close()); err != nil {
		return fmt.Errorf("finalise recording: %w", err)
	}
	r.saved.Store(true)
	r.logger.Info("recording saved", slog.Uint64("frames", loop.Frames()))
	return nil
}

// Saved reports whether Run finished the file cleanly.
func (r *Recorder) Saved() bool {
	return r.saved.Load()
}
