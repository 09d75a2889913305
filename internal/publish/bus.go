package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// BusPublisher publishes finalized candles on the OHLC subject for the
// WebSocket fan-out service to pick up.
type BusPublisher struct {
	js      nats.JetStreamContext
	subject string
	allowed map[timeframe.Window]struct{}
}

// NewBusPublisher builds a publisher restricted to the given timeframes.
func NewBusPublisher(js nats.JetStreamContext, subject string, timeframes []timeframe.Window) *BusPublisher {
	allowed := make(map[timeframe.Window]struct{}, len(timeframes))
	for _, tf := range timeframes {
		allowed[tf] = struct{}{}
	}
	return &BusPublisher{js: js, subject: subject, allowed: allowed}
}

func (p *BusPublisher) Name() string { return "bus" }

// Publish sends the candle as a JSON CandleMessage. Candles outside the
// whitelist are silently skipped.
func (p *BusPublisher) Publish(ctx context.Context, symbol string, tf timeframe.Window, ohlc model.OHLC) error {
	if _, ok := p.allowed[tf]; !ok {
		return nil
	}

	msg := model.CandleMessage{
		Symbol:    symbol,
		Timeframe: tf,
		OHLC:      ohlc,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal candle for %s: %w", symbol, err)
	}

	if _, err := p.js.Publish(p.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish candle for %s %d%s: %w", symbol, tf.Size, tf.Unit, err)
	}
	return nil
}
