// The aggregator service consumes raw trades, folds them into OHLC candles
// across every configured timeframe, and publishes finalized candles to the
// bus and the column store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/leon-cv/Real-Time-Chart/internal/aggregate"
	"github.com/leon-cv/Real-Time-Chart/internal/bus"
	"github.com/leon-cv/Real-Time-Chart/internal/config"
	"github.com/leon-cv/Real-Time-Chart/internal/logging"
	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
	"github.com/leon-cv/Real-Time-Chart/internal/pipeline"
	"github.com/leon-cv/Real-Time-Chart/internal/publish"
	"github.com/leon-cv/Real-Time-Chart/internal/store"
	"github.com/leon-cv/Real-Time-Chart/internal/stream"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

func main() {
	cfg, err := config.LoadAggregator()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Error().Err(err).Msg("Configuration failed")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Format:  logging.Format(cfg.LogFormat),
		Service: "ohlc-aggregator",
	})

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Aggregator failed")
		os.Exit(1)
	}
}

func run(cfg *config.Aggregator, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, js, err := bus.Connect(cfg.URL, "ohlc-aggregator", logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := bus.EnsureStream(js, cfg.TradesStream, []string{cfg.TradesSubject}); err != nil {
		return err
	}
	if err := bus.EnsureStream(js, cfg.OHLCStream, []string{cfg.OHLCSubject}); err != nil {
		return err
	}

	chConn, err := store.Connect(ctx, store.Config{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUsername,
		Password: cfg.ClickHousePassword,
	}, logger)
	if err != nil {
		return err
	}
	defer chConn.Close()

	if err := store.EnsureSchema(ctx, chConn, cfg.ClickHouseDatabase, logger); err != nil {
		return err
	}

	// max-ack-pending 1 keeps trade delivery ordered across redeliveries.
	sub, err := bus.PullConsumer(js, cfg.TradesStream, cfg.TradesSubject, cfg.TradesDurable, 1)
	if err != nil {
		return err
	}

	timeframes := timeframe.Configured()
	aggregator := aggregate.New(timeframes, cfg.SmoothGaps, logger)
	sinks := publish.NewFanOut(
		publish.NewBusPublisher(js, cfg.OHLCSubject, timeframes),
		publish.NewStorePublisher(chConn, cfg.ClickHouseDatabase, timeframes),
	)
	processor := pipeline.NewTradeProcessor(aggregator, sinks, pipeline.CleanupPolicy{
		MaxAge:       cfg.CleanupMaxAge,
		Interval:     cfg.CleanupInterval,
		UseEventTime: cfg.EventTimeEviction,
	}, logger)

	worker := stream.NewWorker("trades", stream.NewNATSSource(sub), processor.Process, logger)
	worker.Start(ctx)

	go metrics.StartSampler(ctx, logger, cfg.MetricsInterval)
	go serveMetrics(cfg.MetricsAddr, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info().Str("signal", received.String()).Msg("Shutting down")

	worker.Stop()
	cancel()
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	logger.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
