// The fan-out service consumes finalized candles from the bus and pushes
// them to WebSocket clients by (symbol, timeframe) subscription.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/leon-cv/Real-Time-Chart/internal/bus"
	"github.com/leon-cv/Real-Time-Chart/internal/config"
	"github.com/leon-cv/Real-Time-Chart/internal/fanout"
	"github.com/leon-cv/Real-Time-Chart/internal/logging"
	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
	"github.com/leon-cv/Real-Time-Chart/internal/stream"
)

func main() {
	cfg, err := config.LoadFanout()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Error().Err(err).Msg("Configuration failed")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Format:  logging.Format(cfg.LogFormat),
		Service: "trade-data-ws",
	})

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Fan-out failed")
		os.Exit(1)
	}
}

func run(cfg *config.Fanout, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, js, err := bus.Connect(cfg.URL, "trade-data-ws", logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := bus.EnsureStream(js, cfg.OHLCStream, []string{cfg.OHLCSubject}); err != nil {
		return err
	}

	// Shared durable: multiple fan-out instances split the candle stream.
	sub, err := bus.PullConsumer(js, cfg.OHLCStream, cfg.OHLCSubject, cfg.OHLCDurable, 0)
	if err != nil {
		return err
	}

	registry := fanout.NewRegistry(logger)
	server := fanout.NewServer(fanout.ServerConfig{
		Addr:             cfg.Addr,
		MaxConnections:   cfg.MaxConnections,
		RateLimitEnabled: cfg.ConnRateLimitEnabled,
		IPBurst:          cfg.ConnRateLimitIPBurst,
		IPRate:           cfg.ConnRateLimitIPRate,
		GlobalBurst:      cfg.ConnRateLimitGlobalBurst,
		GlobalRate:       cfg.ConnRateLimitGlobalRate,
		DrainTimeout:     cfg.DrainTimeout,
	}, registry, logger)

	worker := stream.NewWorker("ohlc", stream.NewNATSSource(sub), func(_ context.Context, data []byte) error {
		return registry.Broadcast(data)
	}, logger)
	worker.Start(ctx)

	go metrics.StartSampler(ctx, logger, cfg.MetricsInterval)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case received := <-sig:
		logger.Info().Str("signal", received.String()).Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown incomplete")
	}

	worker.Stop()
	cancel()
	return nil
}
