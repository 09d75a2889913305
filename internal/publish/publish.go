// Package publish delivers finalized candles to downstream sinks. Every
// publisher must be idempotent per (symbol, timeframe, window start):
// redelivered trades replay the same candle and the sinks absorb the
// duplicate (last write wins in the column store, consumers dedupe on the
// bus side).
package publish

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// Publisher delivers one finalized candle to a single sink.
type Publisher interface {
	// Publish delivers the candle. Implementations filter on their own
	// timeframe whitelist and treat out-of-scope candles as a no-op.
	Publish(ctx context.Context, symbol string, tf timeframe.Window, ohlc model.OHLC) error

	// Name identifies the publisher in logs and metrics.
	Name() string
}

// FanOut dispatches each candle to every publisher in parallel and joins
// their errors. Any sink failure fails the whole dispatch so the source
// message gets nacked and redelivered.
type FanOut struct {
	publishers []Publisher
}

// NewFanOut builds a FanOut over the given sinks.
func NewFanOut(publishers ...Publisher) *FanOut {
	return &FanOut{publishers: publishers}
}

// Publish delivers the candle to all sinks concurrently. The first error
// encountered is returned; remaining dispatches still run to completion.
func (f *FanOut) Publish(ctx context.Context, symbol string, tf timeframe.Window, ohlc model.OHLC) error {
	var g errgroup.Group
	for _, p := range f.publishers {
		p := p
		g.Go(func() error {
			if err := p.Publish(ctx, symbol, tf, ohlc); err != nil {
				metrics.PublishFailures.WithLabelValues(p.Name()).Inc()
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
