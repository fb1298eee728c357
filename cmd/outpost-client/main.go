package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cwheel/outpost/internal/client"
	"github.com/cwheel/outpost/internal/client/nmea"
	"github.com/cwheel/outpost/internal/config"
	"github.com/cwheel/outpost/internal/keyfile"
	"github.com/cwheel/outpost/internal/obslog"
	"github.com/cwheel/outpost/internal/transport"
)

// flushInterval is the client pipeline's "configured flush interval"
// (SPEC_FULL.md §4.4); it has no config-file knob of its own in §6's
// options table, so it is fixed here the way the teacher fixes
// ReadTimeout/WriteTimeout constants in its own *http.Server wiring.
const flushInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to client config file")
	debug := flag.Bool("debug", false, "sets log level to debug")
	logFile := flag.String("log-file", "", "log file path (ignored when -debug)")
	flag.Parse()

	log, err := obslog.New("outpost-client", obslog.Config{Debug: *debug, LogFile: *logFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "outpost-client: fatal:", err)
		os.Exit(1)
	}

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("fatal startup error")
	}
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	key, err := keyfile.Load(afero.NewOsFs(), cfg.PSKPath)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}

	source, err := nmea.Open(cfg.Device, cfg.Baud, log)
	if err != nil {
		return fmt.Errorf("opening gps device: %w", err)
	}
	defer source.Close()

	tc, err := transport.NewClientContext(cfg.OutpostHost, log)
	if err != nil {
		return fmt.Errorf("connecting to outpost host: %w", err)
	}
	defer tc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := client.New(source, tc, key, cfg.SimilarityThreshold, flushInterval, log)

	log.Info().Str("device", cfg.Device).Str("outpost_host", cfg.OutpostHost).Msg("outpost-client started")

	if err := pipeline.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("running pipeline: %w", err)
	}
	return nil
}
