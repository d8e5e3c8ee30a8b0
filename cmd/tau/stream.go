package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/glizzus/tau/internal/capture/device"
	"github.com/glizzus/tau/internal/config"
	"github.com/glizzus/tau/internal/datalayer"
	"github.com/glizzus/tau/internal/opus"
	"github.com/glizzus/tau/internal/pipeline"
	"github.com/glizzus/tau/internal/recorder"
	"github.com/glizzus/tau/internal/shutdown"
	"github.com/glizzus/tau/internal/transport"
	"github.com/urfave/cli/v2"
)

const archiveTimeout = 5 * time.Minute

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:   "stream",
		Usage:  "Capture audio and stream it until interrupted",
		Action: runStream,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Usage: "source username sent in the handshake"},
			&cli.StringFlag{Name: "password", Usage: "source password sent in the handshake"},
			&cli.StringFlag{Name: "host", Usage: "listening server host"},
			&cli.IntFlag{Name: "port", Usage: "listening server port"},
			&cli.IntFlag{Name: "broadcast-port", Usage: "port the stream is published on"},
			&cli.StringFlag{Name: "device", Usage: "audio input device name"},
			&cli.StringFlag{Name: "output", Usage: "directory for the local recording"},
			&cli.StringFlag{Name: "file", Usage: "name of the local recording"},
			&cli.BoolFlag{Name: "no-recording", Usage: "do not keep a local recording"},
			&cli.StringFlag{Name: "transport", Usage: "ws or udp"},
		},
	}
}

// streamConfig reads the environment and lets flags override it.
func streamConfig(c *cli.Context) (*config.StreamConfig, error) {
	cfg, err := config.NewStreamConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if c.IsSet("username") {
		cfg.Username = c.String("username")
	}
	if c.IsSet("password") {
		cfg.Password = c.String("password")
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("broadcast-port") {
		cfg.BroadcastPort = c.Int("broadcast-port")
	}
	if c.IsSet("device") {
		cfg.AudioInterface = c.String("device")
	}
	if c.IsSet("output") {
		cfg.OutputDir = c.String("output")
	}
	if c.IsSet("file") {
		cfg.File = c.String("file")
	}
	if c.Bool("no-recording") {
		cfg.RecordingEnabled = false
	}
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	return cfg, cfg.Validate()
}

func dialer(cfg *config.StreamConfig) (transport.Dialer, string) {
	port := uint16(cfg.Port)
	if cfg.Transport == config.TransportUDP {
		return &transport.UDPDialer{Host: cfg.Host, Port: port},
			"udp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	d := transport.NewWebSocketDialer(cfg.Host, port)
	return d, d.URL()
}

func archiver(ctx context.Context) (recorder.Archiver, error) {
	if os.Getenv("MINIO_ENDPOINT") == "" {
		return nil, nil
	}
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load minio config: %w", err)
	}
	storage, err := datalayer.NewMinioStorage(minioConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
	}
	return datalayer.NewRecordingArchiver(storage, minioConfig.Prefix), nil
}

func runStream(c *cli.Context) error {
	cfg, err := streamConfig(c)
	if err != nil {
		return cli.Exit("Invalid configuration: "+err.Error(), 1)
	}

	filename := recorder.FormatFilename(cfg.File, time.Now())
	var recordPath string
	if cfg.RecordingEnabled {
		recordPath = cfg.OutputPath(filename)
		if err := recorder.CheckAvailable(recordPath); err != nil {
			return cli.Exit("Refusing to start: "+err.Error(), 1)
		}
	}
	arch, err := archiver(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	source := device.New(device.Options{
		Name:            cfg.AudioInterface,
		SampleRate:      pipeline.SampleRate,
		Channels:        pipeline.Channels,
		FramesPerBuffer: pipeline.FrameLength,
	})
	d, streamURL := dialer(cfg)

	sig := shutdown.New()
	stop := shutdown.NotifyOnInterrupt(sig)
	defer stop()

	p, err := pipeline.New(pipeline.Config{
		Source:      source,
		Factory:     opus.New,
		Dialer:      d,
		Credentials: cfg.Credentials(),
		Title:       filename,
		Backoff:     cfg.ReconnectBackoff,
		RecordPath:  recordPath,
	}, sig)
	if err != nil {
		return cli.Exit("Failed to build pipeline: "+err.Error(), 1)
	}
	if err := p.Start(); err != nil {
		_ = p.Wait()
		return cli.Exit("Failed to start capture: "+err.Error(), 1)
	}

	fmt.Printf("Capturing from %s\n", source.DeviceName())
	fmt.Printf("Streaming to %s\n", streamURL)
	fmt.Printf("Listen at http://%s/\n", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.BroadcastPort)))
	if recordPath != "" {
		fmt.Printf("Recording to %s\n", recordPath)
	} else {
		fmt.Println("Local recording is disabled")
	}
	fmt.Println("Press Ctrl+C to stop")

	err = p.Wait()
	st := p.Stats()
	slog.Info("Stream ended",
		"frames", st.NetworkFrames,
		"sessions", st.Sender.Sessions,
		"attempts", st.Sender.Attempts,
		"chunksSent", st.Sender.ChunksSent,
		"droppedCapture", st.DroppedCapture,
		"droppedNetwork", st.DroppedNetwork,
		"droppedRecord", st.DroppedRecord,
	)
	if err != nil {
		slog.Warn("Some loops ended with errors", "error", err)
	}

	if arch != nil && p.RecordingSaved() {
		stop()
		archiveRecording(arch, recordPath)
	}
	return nil
}

// archiveRecording uploads the finished file after the pipeline has stopped.
// A second interrupt abandons the upload.
func archiveRecording(arch recorder.Archiver, path string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, archiveTimeout)
	defer cancelTimeout()

	fmt.Printf("Uploading %s (Ctrl+C to skip)\n", path)
	if err := arch.Archive(ctx, path); err != nil {
		slog.Error("Failed to archive recording", "path", path, "error", err)
		return
	}
	slog.Info("Recording archived", "path", path)
}
