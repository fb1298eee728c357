package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cwheel/outpost/internal/admin"
	"github.com/cwheel/outpost/internal/config"
	"github.com/cwheel/outpost/internal/keyfile"
	"github.com/cwheel/outpost/internal/obslog"
	"github.com/cwheel/outpost/internal/server"
	"github.com/cwheel/outpost/internal/sink"
	"github.com/cwheel/outpost/internal/sink/logsink"
	"github.com/cwheel/outpost/internal/sink/natssink"
	"github.com/cwheel/outpost/internal/sink/pgsink"
	"github.com/cwheel/outpost/internal/stat"
	"github.com/cwheel/outpost/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to server config file")
	debug := flag.Bool("debug", false, "sets log level to debug")
	logFile := flag.String("log-file", "", "log file path (ignored when -debug)")
	flag.Parse()

	log, err := obslog.New("outpost-server", obslog.Config{Debug: *debug, LogFile: *logFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "outpost-server: fatal:", err)
		os.Exit(1)
	}

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("fatal startup error")
	}
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	key, err := keyfile.Load(afero.NewOsFs(), cfg.PSKPath)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := stat.New()

	dataSink, closeSink, err := openSink(ctx, cfg.SinkDSN, log)
	if err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}
	defer closeSink()

	adminSrv, err := admin.New(cfg.AdminAddr, st, log)
	if err != nil {
		return fmt.Errorf("starting admin surface: %w", err)
	}

	pipeline := server.New(key, dataSink, st, log, server.WithPublisher(adminSrv))

	transportSrv, err := transport.NewServerContext(fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort), log)
	if err != nil {
		return fmt.Errorf("binding transport: %w", err)
	}
	transportSrv.Handle("position", pipeline)

	errCh := make(chan error, 2)
	go func() { errCh <- transportSrv.Serve(ctx) }()
	go func() { errCh <- adminSrv.Run(ctx) }()

	log.Info().
		Str("bind", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)).
		Str("admin", cfg.AdminAddr).
		Msg("outpost-server started")

	select {
	case <-ctx.Done():
		transportSrv.Close()
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	}
}

// openSink dispatches cfg.SinkDSN's scheme to the matching sink.Sink
// backend (SPEC_FULL.md §6's sink_dsn option).
func openSink(ctx context.Context, dsn string, log zerolog.Logger) (sink.Sink, func(), error) {
	switch {
	case dsn == "log://" || dsn == "":
		s := logsink.New(log)
		return s, func() {}, nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		s, err := pgsink.Open(ctx, dsn, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case strings.HasPrefix(dsn, "nats://"):
		s, err := natssink.Open(dsn, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized sink_dsn scheme: %q", dsn)
	}
}
