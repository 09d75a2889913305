package model

import (
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// OHLC is one finalized (or in fan-out, possibly partial) candle.
// Time is the unix-second window start. At emission the aggregator
// guarantees low <= open,close <= high.
type OHLC struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// CandleMessage is the ohlc-trades topic payload, produced by the
// aggregator and forwarded verbatim to WebSocket clients.
type CandleMessage struct {
	Symbol    string           `json:"symbol"`
	Timeframe timeframe.Window `json:"timeframe"`
	OHLC      OHLC             `json:"ohlc"`
}
