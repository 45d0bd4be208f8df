// Rotsim is a simulated rotctld daemon for bench testing without hardware.
// It speaks the rotctld text protocol on TCP and slews toward each commanded
// position at a fixed rate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/large-farva/rotortrack/internal/demo"
	"github.com/large-farva/rotortrack/internal/logging"
	"github.com/large-farva/rotortrack/internal/rotor"
)

func main() {
	var (
		bind     = pflag.StringP("bind", "b", "127.0.0.1:4533", "TCP address to listen on")
		azType   = pflag.String("az-type", "360", `Azimuth range: "360" or "180"`)
		maxEl    = pflag.Float64("max-el", 180, "Maximum elevation in degrees (90 or 180)")
		rate     = pflag.Float64("rate", 6, "Slew rate in degrees per second")
		logLevel = pflag.String("log-level", "info", "Log level")
		logJSON  = pflag.Bool("log-json", false, "Log as JSON")
	)
	pflag.Parse()

	var t rotor.AzType
	if err := t.UnmarshalText([]byte(*azType)); err != nil {
		fmt.Fprintln(os.Stderr, "rotsim:", err)
		os.Exit(2)
	}
	if *maxEl < 90 || *maxEl > 180 || *rate <= 0 {
		fmt.Fprintln(os.Stderr, "rotsim: max-el must be in [90, 180] and rate positive")
		os.Exit(2)
	}

	format := "text"
	if *logJSON {
		format = "json"
	}
	logger, closer := logging.New(logging.Config{Level: *logLevel, Format: format})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := demo.NewServer(demo.NewRotator(t, *maxEl, *rate), logger)
	if err := srv.ListenAndServe(ctx, *bind); err != nil {
		logger.Error("rotsim failed", "err", err)
		os.Exit(1)
	}
}
