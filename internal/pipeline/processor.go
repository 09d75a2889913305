// Package pipeline wires the trade stream into the aggregator and its
// downstream publishers.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/aggregate"
	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/publish"
)

// CleanupPolicy controls periodic eviction of stale aggregation windows.
type CleanupPolicy struct {
	MaxAge   time.Duration
	Interval time.Duration

	// Evict against the newest trade timestamp instead of the wall clock.
	UseEventTime bool
}

// TradeProcessor handles one raw trade message end to end: parse, fold into
// the aggregator, publish every candle that closed. Any error propagates to
// the caller, which nacks the message for redelivery.
//
// The processor runs on the single stream worker goroutine, so cleanup is
// driven inline from Process rather than from a timer goroutine. That keeps
// the aggregator single-writer.
type TradeProcessor struct {
	aggregator *aggregate.Aggregator
	sinks      *publish.FanOut
	cleanup    CleanupPolicy
	logger     zerolog.Logger

	lastCleanup time.Time
}

// NewTradeProcessor builds a processor. A zero cleanup interval disables
// periodic eviction.
func NewTradeProcessor(aggregator *aggregate.Aggregator, sinks *publish.FanOut, cleanup CleanupPolicy, logger zerolog.Logger) *TradeProcessor {
	return &TradeProcessor{
		aggregator:  aggregator,
		sinks:       sinks,
		cleanup:     cleanup,
		logger:      logger.With().Str("component", "processor").Logger(),
		lastCleanup: time.Now().UTC(),
	}
}

// Process consumes one raw trade payload. Malformed payloads, aggregation
// failures, and publish failures all return an error so the message is
// redelivered; replaying a trade is idempotent across the pipeline.
func (p *TradeProcessor) Process(ctx context.Context, data []byte) error {
	trade, err := model.ParseTrade(data)
	if err != nil {
		return fmt.Errorf("parse trade: %w", err)
	}

	closed, err := p.aggregator.AddTrade(trade)
	if err != nil {
		return fmt.Errorf("aggregate trade %s: %w", trade.TradeID, err)
	}

	for _, c := range closed {
		if err := p.sinks.Publish(ctx, trade.Symbol, c.Window, c.OHLC); err != nil {
			return fmt.Errorf("publish candle %s %s: %w", trade.Symbol, c.Window, err)
		}
		metrics.CandlesEmitted.WithLabelValues(string(c.Window.Unit)).Inc()
	}

	p.maybeCleanup()
	return nil
}

func (p *TradeProcessor) maybeCleanup() {
	if p.cleanup.Interval <= 0 {
		return
	}
	now := time.Now().UTC()
	if now.Sub(p.lastCleanup) < p.cleanup.Interval {
		return
	}
	p.lastCleanup = now

	var evicted int
	if p.cleanup.UseEventTime {
		evicted = p.aggregator.CleanupByEventTime(p.cleanup.MaxAge)
	} else {
		evicted = p.aggregator.Cleanup(p.cleanup.MaxAge)
	}
	if evicted > 0 {
		metrics.WindowsEvicted.Add(float64(evicted))
	}
}
