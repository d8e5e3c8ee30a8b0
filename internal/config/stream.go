package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glizzus/tau/internal/transport"
	"github.com/sethvargo/go-envconfig"
)

const (
	TransportWebSocket = "ws"
	TransportUDP       = "udp"
)

type StreamConfig struct {
	Username string `env:"TAU_USERNAME"`
	Password string `env:"TAU_PASSWORD"`
	Host     string `env:"TAU_HOST, default=127.0.0.1"`
	Port     int    `env:"TAU_PORT, default=8000"`
	// BroadcastPort names the listener-side port the stream is published on.
	BroadcastPort int `env:"TAU_BROADCAST_PORT, default=8001"`

	AudioInterface   string `env:"TAU_AUDIO_INTERFACE"`
	OutputDir        string `env:"TAU_OUTPUT_DIR, default=."`
	File             string `env:"TAU_FILE"`
	RecordingEnabled bool   `env:"TAU_RECORDING, default=true"`

	Transport        string        `env:"TAU_TRANSPORT, default=ws"`
	ReconnectBackoff time.Duration `env:"TAU_RECONNECT_BACKOFF, default=50ms"`
}

func NewStreamConfigFromEnv() (*StreamConfig, error) {
	return newStreamConfig(envconfig.OsLookuper())
}

func newStreamConfig(lookuper envconfig.Lookuper) (*StreamConfig, error) {
	var cfg StreamConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewStreamConfigFromMap is NewStreamConfigFromEnv over a fixed set of
// variables.
func NewStreamConfigFromMap(env map[string]string) (*StreamConfig, error) {
	return newStreamConfig(envconfig.MapLookuper(env))
}

func (c *StreamConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.BroadcastPort < 0 || c.BroadcastPort > 65535 {
		errs = append(errs, fmt.Errorf("broadcast port %d is out of range", c.BroadcastPort))
	}
	switch c.Transport {
	case TransportWebSocket:
		if c.Username == "" || c.Password == "" {
			errs = append(errs, errors.New("username and password are required for the websocket transport"))
		}
	case TransportUDP:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.ReconnectBackoff <= 0 {
		errs = append(errs, fmt.Errorf("reconnect backoff must be positive, got %v", c.ReconnectBackoff))
	}
	return errors.Join(errs...)
}

func (c *StreamConfig) Credentials() transport.Credentials {
	return transport.Credentials{
		Username:      c.Username,
		Password:      c.Password,
		BroadcastPort: uint16(c.BroadcastPort),
	}
}

// OutputPath joins the output directory with filename.
func (c *StreamConfig) OutputPath(filename string) string {
	return filepath.Join(c.OutputDir, filename)
}
