// Package fanout implements the WebSocket side of the pipeline: the
// subscription registry, client sessions, and the HTTP server that
// upgrades and admits connections.
package fanout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// ErrInvalidSubscription marks a client message that failed validation.
// The session treats it as a protocol violation and closes the connection.
var ErrInvalidSubscription = errors.New("invalid subscription")

// Subscription is a (symbol, timeframe) interest key. Comparable, used as
// the registry map key.
type Subscription struct {
	Symbol    string
	Timeframe timeframe.Window
}

type subscriptionWire struct {
	Symbol    *string `json:"symbol"`
	Timeframe *struct {
		Size json.Number `json:"size"`
		Unit *string     `json:"unit"`
	} `json:"timeframe"`
}

// ParseSubscription validates a client subscription message. The symbol
// must be a non-blank string and the timeframe an object with an integer
// size and a string unit naming a known calendar unit.
func ParseSubscription(data []byte) (Subscription, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w subscriptionWire
	if err := dec.Decode(&w); err != nil {
		return Subscription{}, fmt.Errorf("%w: decode: %v", ErrInvalidSubscription, err)
	}

	if w.Symbol == nil || strings.TrimSpace(*w.Symbol) == "" {
		return Subscription{}, fmt.Errorf("%w: symbol must be a non-empty string", ErrInvalidSubscription)
	}
	if w.Timeframe == nil || w.Timeframe.Unit == nil || w.Timeframe.Size == "" {
		return Subscription{}, fmt.Errorf("%w: timeframe must be an object with size and unit", ErrInvalidSubscription)
	}

	size, err := strconv.Atoi(w.Timeframe.Size.String())
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: size must be an integer", ErrInvalidSubscription)
	}
	if size < 1 {
		return Subscription{}, fmt.Errorf("%w: size must be >= 1, got %d", ErrInvalidSubscription, size)
	}

	unit, err := timeframe.ParseUnit(*w.Timeframe.Unit)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	return Subscription{
		Symbol:    *w.Symbol,
		Timeframe: timeframe.Window{Size: size, Unit: unit},
	}, nil
}

// RequiresOneSecond reports whether the subscription implies a shadow
// 1-second subscription. Everything coarser than 1 second does: clients
// render the open candle of a coarse timeframe from the 1-second feed.
func (s Subscription) RequiresOneSecond() bool {
	return s.Timeframe != timeframe.OneSecond
}

// AsOneSecond returns the shadow subscription for the same symbol.
func (s Subscription) AsOneSecond() Subscription {
	return Subscription{Symbol: s.Symbol, Timeframe: timeframe.OneSecond}
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s@%s", s.Symbol, s.Timeframe)
}
