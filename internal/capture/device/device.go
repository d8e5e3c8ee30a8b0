// Package device captures from a sound card through PortAudio.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glizzus/tau/internal/capture"
	"github.com/glizzus/tau/internal/ringbuf"
	"github.com/gordonklaus/portaudio"
)

var ErrNoInputDevice = errors.New("no audio input device available")

type Options struct {
	// Name selects the input device. Matching is case-insensitive and
	// accepts a substring. Empty selects the system default input.
	Name            string
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	Logger          *slog.Logger
}

// PortAudio is a capture.Source reading from one input device.
type PortAudio struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	info   *portaudio.DeviceInfo
}

var _ capture.Source = (*PortAudio)(nil)

func New(opts Options) *PortAudio {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PortAudio{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "capture")),
	}
}

// DeviceName returns the name of the opened device, or "" before Start.
func (p *PortAudio) DeviceName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info == nil {
		return ""
	}
	return p.info.Name
}

func (p *PortAudio) Start(producer *ringbuf.Producer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return capture.ErrStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	info, err := p.pickDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.HighLatencyParameters(info, nil)
	params.Input.Channels = p.opts.Channels
	params.SampleRate = p.opts.SampleRate
	params.FramesPerBuffer = p.opts.FramesPerBuffer

	// The callback runs on the PortAudio thread and must not block.
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		producer.Push(in)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream on %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream on %q: %w", info.Name, err)
	}

	p.stream = stream
	p.info = info
	p.logger.Info("capture started",
		slog.String("device", info.Name),
		slog.Float64("sampleRate", p.opts.SampleRate),
		slog.Int("channels", p.opts.Channels),
	)
	return nil
}

func (p *PortAudio) pickDevice() (*portaudio.DeviceInfo, error) {
	if p.opts.Name == "" {
		return defaultInput()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if info, ok := Match(devices, p.opts.Name, p.opts.Channels); ok {
		return info, nil
	}
	p.logger.Warn("audio interface not found, using the default input",
		slog.String("requested", p.opts.Name),
	)
	return defaultInput()
}

func defaultInput() (*portaudio.DeviceInfo, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInputDevice, err)
	}
	return info, nil
}

// Match returns the first input device whose name contains name and that
// offers at least channels input channels. An exact name match wins over a
// substring match.
func Match(devices []*portaudio.DeviceInfo, name string, channels int) (*portaudio.DeviceInfo, bool) {
	want := strings.ToLower(name)
	var partial *portaudio.DeviceInfo
	for _, d := range devices {
		if d == nil || d.MaxInputChannels < channels {
			continue
		}
		got := strings.ToLower(d.Name)
		if got == want {
			return d, true
		}
		if partial == nil && strings.Contains(got, want) {
			partial = d
		}
	}
	return partial, partial != nil
}

func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	err := errors.Join(p.stream.Stop(), p.stream.Close(), portaudio.Terminate())
	p.stream = nil
	return err
}
