package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-load-balancer/config"
	"github.com/angeloszaimis/tcp-load-balancer/internal/handler"
	"github.com/angeloszaimis/tcp-load-balancer/internal/httpserver"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
	"github.com/angeloszaimis/tcp-load-balancer/internal/strategy"
	"github.com/angeloszaimis/tcp-load-balancer/internal/tcpserver"
	"github.com/angeloszaimis/tcp-load-balancer/pkg/logger"
)

const (
	algorithm         = "round-robin"
	metricsBufferSize = 1000
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.Logging, cfg.Server.Environment)
	if err != nil {
		slog.Error("failed to open log file", slog.String("file", cfg.Logging.File), slog.Any("err", err))
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	selector, err := createSelector(cfg)
	if err != nil {
		log.Error("Failed to create selector", slog.Any("err", err))
		os.Exit(1)
	}

	metricsCollector := metrics.NewCollector(metricsBufferSize, log)
	metricsCollector.Start(ctx)

	srv, err := newTCPServer(cfg, log, selector, metricsCollector)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	var metricsSrv *httpserver.Server
	if cfg.Metrics.Address != "" {
		metricsSrv, err = httpserver.New(cfg.Metrics.Address, setupRouter(metricsCollector, algorithm))
		if err != nil {
			log.Error("Failed to create metrics server", slog.Any("err", err))
			os.Exit(1)
		}

		go func() {
			if err := metricsSrv.Start(); err != nil {
				log.Error("Metrics server stopped", slog.Any("err", err))
			}
		}()
	}

	log.Info("Starting load balancer",
		slog.String("address", cfg.Server.Address),
		slog.Int("backends", len(selector.Endpoints())),
		slog.String("metrics_address", cfg.Metrics.Address))

	serveErr := srv.Start(ctx)

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(context.Background()); err != nil {
			log.Error("Error during metrics server shutdown", slog.Any("err", err))
		}
	}

	if serveErr != nil {
		log.Error("Listener failed", slog.Any("err", serveErr))
		closeLog()
		os.Exit(1)
	}

	log.Info("Shut down")
}

// newLogger writes to stdout, or appends to cfg.File when it is set.
func newLogger(cfg config.LoggingConfig, environment string) (*slog.Logger, func(), error) {
	if cfg.File == "" {
		return logger.New(cfg.Level, true, environment), func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	return logger.NewWithWriter(f, cfg.Level, true, environment), func() { _ = f.Close() }, nil
}

func createSelector(cfg *config.Config) (strategy.Selector, error) {
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}

	return strategy.NewRoundRobinSelector(endpoints)
}

func newTCPServer(cfg *config.Config, log *slog.Logger, selector strategy.Selector, collector *metrics.Collector) (*tcpserver.Server, error) {
	connHandler := handler.NewConnectionHandler(
		log,
		selector,
		handler.NewTCPDialer(cfg.Relay.DialTimeoutDuration()),
		relay.New(cfg.Relay.BufferSize, cfg.Relay.HalfCloseGraceDuration()),
		collector,
	)

	return tcpserver.New(cfg.Server.Address, connHandler, log,
		tcpserver.WithMaxSessions(cfg.Server.MaxSessions))
}
