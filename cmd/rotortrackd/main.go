// Rotortrackd is the rotor tracking daemon.
//
// It loads configuration, starts the HTTP/WebSocket server, and runs the
// control loop against a rotctld-compatible rotator, or against a built-in
// simulator when demo mode is on. Shutdown is handled gracefully on SIGINT
// or SIGTERM; the rotor is disengaged before exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/large-farva/rotortrack/internal/app"
	"github.com/large-farva/rotortrack/internal/config"
	"github.com/large-farva/rotortrack/internal/logging"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/rotortrack/rotortrack.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		demo       = pflag.Bool("demo", false, "Run against the built-in simulated rotator")
		rotorName  = pflag.String("rotor", "", "Rotor descriptor to select at startup")
		logLevel   = pflag.String("log-level", "", "Log level (overrides logging.level)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotortrackd: config load failed: %v\n", err)
		os.Exit(1)
	}
	if *demo {
		cfg.Demo.Enabled = true
	}
	if *rotorName != "" {
		cfg.Control.Rotor = *rotorName
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, closer := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer closer.Close()

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("rotortrackd failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
	logger.Info("rotortrackd stopped")
}
