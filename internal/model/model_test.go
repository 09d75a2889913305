package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

const validTrade = `{
	"trade_id": "t-1",
	"trader_id": "0b906d84-b0ac-4f4f-a6b7-52c3b818b063",
	"symbol": "BTC",
	"price": 64250.5,
	"quantity": 0.25,
	"volume": 16062.625,
	"timestamp": 1710496805000,
	"side": "buy"
}`

func TestParseTrade(t *testing.T) {
	trade, err := ParseTrade([]byte(validTrade))
	require.NoError(t, err)

	assert.Equal(t, "t-1", trade.TradeID)
	assert.Equal(t, "BTC", trade.Symbol)
	assert.Equal(t, 64250.5, trade.Price)
	assert.Equal(t, "buy", trade.Side)

	// 1710496805000 ms = 2024-03-15T10:00:05Z
	want := time.Date(2024, 3, 15, 10, 0, 5, 0, time.UTC)
	assert.True(t, trade.Timestamp.Equal(want), "got %v", trade.Timestamp)
	assert.Equal(t, time.UTC, trade.Timestamp.Location())
}

func TestParseTradeRejects(t *testing.T) {
	mutate := func(field string, value any) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(validTrade), &m))
		if value == nil {
			delete(m, field)
		} else {
			m[field] = value
		}
		data, err := json.Marshal(m)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("not-json")},
		{"empty symbol", mutate("symbol", "")},
		{"zero price", mutate("price", 0)},
		{"negative price", mutate("price", -1.5)},
		{"zero quantity", mutate("quantity", 0)},
		{"negative volume", mutate("volume", -10)},
		{"missing timestamp", mutate("timestamp", nil)},
		{"bad trader id", mutate("trader_id", "not-a-uuid")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTrade(tt.payload)
			assert.ErrorIs(t, err, ErrBadInput)
		})
	}
}

func TestCandleMessageShape(t *testing.T) {
	msg := CandleMessage{
		Symbol:    "BTC",
		Timeframe: timeframe.Window{Size: 5, Unit: timeframe.Minute},
		OHLC:      OHLC{Time: 1710496800, Open: 100, High: 110, Low: 95, Close: 105},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"symbol": "BTC",
		"timeframe": {"size": 5, "unit": "minute"},
		"ohlc": {"time": 1710496800, "open": 100, "high": 110, "low": 95, "close": 105}
	}`, string(data))
}
