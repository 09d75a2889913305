package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leon-cv/Real-Time-Chart/internal/aggregate"
	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/publish"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

type capturingPublisher struct {
	mu     sync.Mutex
	err    error
	tfs    []timeframe.Window
	ohlcs  []model.OHLC
	symbol string
}

func (c *capturingPublisher) Name() string { return "capture" }

func (c *capturingPublisher) Publish(_ context.Context, symbol string, tf timeframe.Window, ohlc model.OHLC) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbol = symbol
	c.tfs = append(c.tfs, tf)
	c.ohlcs = append(c.ohlcs, ohlc)
	return c.err
}

func tradePayload(t *testing.T, symbol string, price float64, ts time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"trade_id":  uuid.NewString(),
		"trader_id": uuid.NewString(),
		"symbol":    symbol,
		"price":     price,
		"quantity":  1.0,
		"volume":    price,
		"timestamp": ts.UnixMilli(),
		"side":      "buy",
	})
	require.NoError(t, err)
	return payload
}

func newProcessor(sink *capturingPublisher, tfs []timeframe.Window) *TradeProcessor {
	agg := aggregate.New(tfs, false, zerolog.Nop())
	return NewTradeProcessor(agg, publish.NewFanOut(sink), CleanupPolicy{}, zerolog.Nop())
}

func TestProcessPublishesClosedCandles(t *testing.T) {
	sink := &capturingPublisher{}
	proc := newProcessor(sink, []timeframe.Window{timeframe.OneSecond})

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 100, base)))
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 110, base.Add(200*time.Millisecond))))
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 95, base.Add(900*time.Millisecond))))

	// Still inside the first window: nothing published yet.
	assert.Empty(t, sink.tfs)

	// Next second closes the window.
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 96, base.Add(time.Second))))

	require.Len(t, sink.ohlcs, 1)
	assert.Equal(t, "BTC-USD", sink.symbol)
	assert.Equal(t, model.OHLC{Time: base.Unix(), Open: 100, High: 110, Low: 95, Close: 95}, sink.ohlcs[0])
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	sink := &capturingPublisher{}
	proc := newProcessor(sink, []timeframe.Window{timeframe.OneSecond})

	err := proc.Process(context.Background(), []byte(`{"symbol":`))
	require.Error(t, err)
	assert.Empty(t, sink.tfs)
}

func TestProcessPropagatesPublishFailure(t *testing.T) {
	sinkErr := errors.New("store down")
	sink := &capturingPublisher{err: sinkErr}
	proc := newProcessor(sink, []timeframe.Window{timeframe.OneSecond})

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 100, base)))

	err := proc.Process(context.Background(), tradePayload(t, "BTC-USD", 101, base.Add(time.Second)))
	require.ErrorIs(t, err, sinkErr)
}

func TestProcessRunsCleanupAtInterval(t *testing.T) {
	sink := &capturingPublisher{}
	agg := aggregate.New([]timeframe.Window{timeframe.OneSecond}, false, zerolog.Nop())
	proc := NewTradeProcessor(agg, publish.NewFanOut(sink), CleanupPolicy{
		MaxAge:   time.Hour,
		Interval: time.Millisecond,
	}, zerolog.Nop())

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "BTC-USD", 100, old)))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, proc.Process(context.Background(), tradePayload(t, "ETH-USD", 50, time.Now().UTC())))

	// The stale BTC-USD window is gone; its next trade starts fresh and
	// emits nothing.
	assert.Empty(t, agg.CurrentState("BTC-USD"))
}
