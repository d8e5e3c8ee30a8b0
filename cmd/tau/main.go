package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/glizzus/tau/internal/config"
	"github.com/urfave/cli/v2"
)

func loadEnv() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No .env file found, continuing without it")
			return nil
		}
		return err
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:        "tau",
		Usage:       "stream live audio as Ogg/Opus",
		Description: "Captures an audio input, streams it to a listening server and keeps a local recording",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			if err := loadEnv(); err != nil {
				return cli.Exit("Failed to load .env file: "+err.Error(), 1)
			}
			return nil
		},
		Commands: []*cli.Command{
			streamCommand(),
			listenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error running tau: %v", err)
	}
}
