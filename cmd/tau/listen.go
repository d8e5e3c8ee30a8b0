package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/glizzus/tau/internal/relay"
	"github.com/glizzus/tau/internal/shutdown"
	"github.com/urfave/cli/v2"
)

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:   "listen",
		Usage:  "Accept a stream and write it to a file",
		Action: runListen,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8000", Usage: "address to listen on"},
			&cli.StringFlag{Name: "username", Usage: "accepted source username", EnvVars: []string{"TAU_USERNAME"}, Required: true},
			&cli.StringFlag{Name: "password", Usage: "accepted source password", EnvVars: []string{"TAU_PASSWORD"}, Required: true},
			&cli.StringFlag{Name: "out", Value: "relay.ogg", Usage: "file the received stream is appended to"},
		},
	}
}

func runListen(c *cli.Context) error {
	out, err := os.OpenFile(c.String("out"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return cli.Exit("Failed to open output: "+err.Error(), 1)
	}
	defer out.Close()

	server := &http.Server{
		Addr:              c.String("addr"),
		Handler:           relay.NewServer(c.String("username"), c.String("password"), relay.NewWriterSink(out), nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signal := shutdown.New()
	stop := shutdown.NotifyOnInterrupt(signal)
	defer stop()

	go func() {
		<-signal.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("Failed to shut down relay cleanly", "error", err)
		}
	}()

	fmt.Printf("Listening on %s, writing to %s\n", server.Addr, c.String("out"))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return cli.Exit("Relay failed: "+err.Error(), 1)
	}
	return nil
}
