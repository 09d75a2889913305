// Package model holds the wire-level data types shared by both services:
// trades coming off the bus and the candles derived from them.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBadInput marks a malformed or out-of-range ingress payload. A message
// failing validation is nacked and never reaches the aggregator.
var ErrBadInput = errors.New("bad input")

// Trade is one executed trade from the trades topic. Immutable after
// ParseTrade; the wire timestamp is integer milliseconds since the unix
// epoch and is normalized to a UTC instant.
type Trade struct {
	TradeID   string
	TraderID  uuid.UUID
	Symbol    string
	Price     float64
	Quantity  float64
	Volume    float64
	Timestamp time.Time
	Side      string
}

type tradeWire struct {
	TradeID   string    `json:"trade_id"`
	TraderID  uuid.UUID `json:"trader_id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Volume    float64   `json:"volume"`
	Timestamp *int64    `json:"timestamp"`
	Side      string    `json:"side"`
}

// ParseTrade decodes and validates a trades-topic payload. Any failure is
// ErrBadInput; no partially-validated trade is ever returned.
func ParseTrade(data []byte) (Trade, error) {
	var w tradeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Trade{}, fmt.Errorf("%w: decode trade: %v", ErrBadInput, err)
	}

	if w.Symbol == "" {
		return Trade{}, fmt.Errorf("%w: symbol must be non-empty", ErrBadInput)
	}
	if w.Price <= 0 {
		return Trade{}, fmt.Errorf("%w: price must be > 0, got %g", ErrBadInput, w.Price)
	}
	if w.Quantity <= 0 {
		return Trade{}, fmt.Errorf("%w: quantity must be > 0, got %g", ErrBadInput, w.Quantity)
	}
	if w.Volume <= 0 {
		return Trade{}, fmt.Errorf("%w: volume must be > 0, got %g", ErrBadInput, w.Volume)
	}
	if w.Timestamp == nil {
		return Trade{}, fmt.Errorf("%w: timestamp is required", ErrBadInput)
	}

	return Trade{
		TradeID:   w.TradeID,
		TraderID:  w.TraderID,
		Symbol:    w.Symbol,
		Price:     w.Price,
		Quantity:  w.Quantity,
		Volume:    w.Volume,
		Timestamp: time.UnixMilli(*w.Timestamp).UTC(),
		Side:      w.Side,
	}, nil
}
