package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

func TestParseSubscription(t *testing.T) {
	sub, err := ParseSubscription([]byte(`{"symbol":"BTC-USD","timeframe":{"size":5,"unit":"minute"}}`))
	require.NoError(t, err)
	assert.Equal(t, Subscription{
		Symbol:    "BTC-USD",
		Timeframe: timeframe.Window{Size: 5, Unit: timeframe.Minute},
	}, sub)
}

func TestParseSubscriptionAcceptsCandlePayload(t *testing.T) {
	// Candle messages carry the same symbol and timeframe fields plus the
	// OHLC body; extra fields must not break key extraction.
	payload := []byte(`{"symbol":"BTC-USD","timeframe":{"size":1,"unit":"second"},"ohlc":{"time":1710496800,"open":100,"high":110,"low":95,"close":95}}`)
	sub, err := ParseSubscription(payload)
	require.NoError(t, err)
	assert.Equal(t, timeframe.OneSecond, sub.Timeframe)
}

func TestParseSubscriptionRejects(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"empty symbol", `{"symbol":"","timeframe":{"size":1,"unit":"second"}}`},
		{"blank symbol", `{"symbol":"   ","timeframe":{"size":1,"unit":"second"}}`},
		{"symbol wrong type", `{"symbol":42,"timeframe":{"size":1,"unit":"second"}}`},
		{"missing symbol", `{"timeframe":{"size":1,"unit":"second"}}`},
		{"missing timeframe", `{"symbol":"BTC-USD"}`},
		{"timeframe not object", `{"symbol":"BTC-USD","timeframe":"1s"}`},
		{"missing size", `{"symbol":"BTC-USD","timeframe":{"unit":"second"}}`},
		{"missing unit", `{"symbol":"BTC-USD","timeframe":{"size":1}}`},
		{"float size", `{"symbol":"BTC-USD","timeframe":{"size":1.5,"unit":"second"}}`},
		{"string size", `{"symbol":"BTC-USD","timeframe":{"size":"1","unit":"second"}}`},
		{"zero size", `{"symbol":"BTC-USD","timeframe":{"size":0,"unit":"second"}}`},
		{"unknown unit", `{"symbol":"BTC-USD","timeframe":{"size":1,"unit":"fortnight"}}`},
		{"not json", `subscribe BTC-USD`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSubscription([]byte(tc.payload))
			require.ErrorIs(t, err, ErrInvalidSubscription)
		})
	}
}

func TestShadowSubscription(t *testing.T) {
	coarse := Subscription{Symbol: "BTC-USD", Timeframe: timeframe.Window{Size: 1, Unit: timeframe.Minute}}
	assert.True(t, coarse.RequiresOneSecond())
	assert.Equal(t, Subscription{Symbol: "BTC-USD", Timeframe: timeframe.OneSecond}, coarse.AsOneSecond())

	fine := Subscription{Symbol: "BTC-USD", Timeframe: timeframe.OneSecond}
	assert.False(t, fine.RequiresOneSecond())
}
