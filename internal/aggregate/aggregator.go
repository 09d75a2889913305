// Package aggregate folds an unbounded stream of trades into OHLC candles,
// one state machine per (symbol, timeframe) pair.
//
// The aggregator is single-writer: exactly one stream worker calls AddTrade
// and the cleanup methods, so the state maps need no locking. Scaling out
// means sharding by symbol across workers, never sharing the maps.
package aggregate

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// windowState is the open candle for one (symbol, timeframe) pair.
// Zero until the first trade for the pair arrives.
type windowState struct {
	started bool
	start   time.Time
	open    float64
	high    float64
	low     float64
	close   float64
}

// Closed is a finalized candle emitted by AddTrade.
type Closed struct {
	Window timeframe.Window
	OHLC   model.OHLC
}

// Aggregator maintains the open window per (symbol, timeframe) and emits a
// candle every time an incoming trade proves a window complete. Closure is
// event-driven: wall-clock progression alone never closes a window.
type Aggregator struct {
	timeframes []timeframe.Window
	smoothGaps bool
	logger     zerolog.Logger

	windows    map[string]map[timeframe.Window]*windowState
	lastCloses map[string]map[timeframe.Window]float64

	// Newest trade timestamp seen, for event-time eviction.
	latestEvent time.Time
}

// New creates an aggregator over the given timeframes. With smoothGaps set,
// each new window opens at the previous window's close instead of the first
// trade's price; high/low are still seeded from the trade so the true
// trading range is preserved.
func New(timeframes []timeframe.Window, smoothGaps bool, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		timeframes: timeframes,
		smoothGaps: smoothGaps,
		logger:     logger.With().Str("component", "aggregator").Logger(),
		windows:    make(map[string]map[timeframe.Window]*windowState),
		lastCloses: make(map[string]map[timeframe.Window]float64),
	}
}

// AddTrade folds one trade into every configured timeframe and returns the
// candles that closed as a result, in configured-timeframe order.
//
// The very first trade for a pair never emits (there is no prior window).
// On error the trade must be nacked upstream; state for timeframes already
// processed stays as updated, which is safe because reprocessing the same
// trade is idempotent for an in-place update.
func (a *Aggregator) AddTrade(trade model.Trade) ([]Closed, error) {
	var closed []Closed
	symbol := trade.Symbol

	if trade.Timestamp.After(a.latestEvent) {
		a.latestEvent = trade.Timestamp
	}

	for _, tf := range a.timeframes {
		start, err := tf.Start(trade.Timestamp)
		if err != nil {
			return closed, fmt.Errorf("window start for %s: %w", tf, err)
		}

		state := a.state(symbol, tf)

		if state.started && state.start.Equal(start) {
			// Same window: fold the trade in place.
			if trade.Price > state.high {
				state.high = trade.Price
			}
			if trade.Price < state.low {
				state.low = trade.Price
			}
			state.close = trade.Price
			continue
		}

		if state.started {
			complete, err := tf.IsComplete(state.start, trade.Timestamp)
			if err != nil {
				return closed, fmt.Errorf("completeness for %s: %w", tf, err)
			}
			if complete {
				closed = append(closed, Closed{
					Window: tf,
					OHLC: model.OHLC{
						Time:  state.start.Unix(),
						Open:  state.open,
						High:  state.high,
						Low:   state.low,
						Close: state.close,
					},
				})
				a.recordClose(symbol, tf, state.close)
			}
		}

		state.started = true
		state.start = start
		if last, ok := a.lastClose(symbol, tf); a.smoothGaps && ok {
			state.open = last
		} else {
			state.open = trade.Price
		}
		state.high = trade.Price
		state.low = trade.Price
		state.close = trade.Price
	}

	if len(closed) > 0 {
		a.logger.Debug().
			Str("symbol", symbol).
			Int("closed_windows", len(closed)).
			Msg("Trade closed windows")
	}
	return closed, nil
}

// CurrentState returns the open (partial) candle for every timeframe that
// has seen at least one trade for symbol.
func (a *Aggregator) CurrentState(symbol string) map[timeframe.Window]model.OHLC {
	current := make(map[timeframe.Window]model.OHLC)
	for _, tf := range a.timeframes {
		state, ok := a.windows[symbol][tf]
		if !ok || !state.started {
			continue
		}
		current[tf] = model.OHLC{
			Time:  state.start.Unix(),
			Open:  state.open,
			High:  state.high,
			Low:   state.low,
			Close: state.close,
		}
	}
	return current
}

// Cleanup evicts window state whose start is older than now-maxAge on the
// wall clock. It never closes a window (no emission); it only reclaims
// memory for symbols that stopped trading.
func (a *Aggregator) Cleanup(maxAge time.Duration) int {
	return a.evict(time.Now().UTC().Add(-maxAge))
}

// CleanupByEventTime evicts against the newest trade timestamp seen instead
// of the wall clock, so slow-but-active symbols are not dropped when event
// time lags real time.
func (a *Aggregator) CleanupByEventTime(maxAge time.Duration) int {
	if a.latestEvent.IsZero() {
		return 0
	}
	return a.evict(a.latestEvent.Add(-maxAge))
}

func (a *Aggregator) evict(cutoff time.Time) int {
	evicted := 0
	for symbol, byTF := range a.windows {
		for tf, state := range byTF {
			if state.started && state.start.Before(cutoff) {
				delete(byTF, tf)
				evicted++
			}
		}
		if len(byTF) == 0 {
			delete(a.windows, symbol)
		}
	}
	if evicted > 0 {
		a.logger.Info().
			Int("evicted", evicted).
			Time("cutoff", cutoff).
			Msg("Evicted stale windows")
	}
	return evicted
}

func (a *Aggregator) state(symbol string, tf timeframe.Window) *windowState {
	byTF, ok := a.windows[symbol]
	if !ok {
		byTF = make(map[timeframe.Window]*windowState)
		a.windows[symbol] = byTF
	}
	state, ok := byTF[tf]
	if !ok {
		state = &windowState{}
		byTF[tf] = state
	}
	return state
}

func (a *Aggregator) recordClose(symbol string, tf timeframe.Window, close float64) {
	byTF, ok := a.lastCloses[symbol]
	if !ok {
		byTF = make(map[timeframe.Window]float64)
		a.lastCloses[symbol] = byTF
	}
	byTF[tf] = close
}

func (a *Aggregator) lastClose(symbol string, tf timeframe.Window) (float64, bool) {
	last, ok := a.lastCloses[symbol][tf]
	return last, ok
}
