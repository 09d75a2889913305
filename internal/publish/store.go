package publish

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/leon-cv/Real-Time-Chart/internal/model"
	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// StorePublisher writes finalized candles into the ClickHouse base table.
// The materialized views roll the 1-second rows up into the coarser
// timeframe tables.
type StorePublisher struct {
	conn     driver.Conn
	database string
	allowed  map[timeframe.Window]struct{}
}

// NewStorePublisher builds a publisher restricted to the given timeframes.
func NewStorePublisher(conn driver.Conn, database string, timeframes []timeframe.Window) *StorePublisher {
	allowed := make(map[timeframe.Window]struct{}, len(timeframes))
	for _, tf := range timeframes {
		allowed[tf] = struct{}{}
	}
	return &StorePublisher{conn: conn, database: database, allowed: allowed}
}

func (p *StorePublisher) Name() string { return "clickhouse" }

// Publish inserts one row into ohlc_table. Candles outside the whitelist
// are silently skipped.
func (p *StorePublisher) Publish(ctx context.Context, symbol string, tf timeframe.Window, ohlc model.OHLC) error {
	if _, ok := p.allowed[tf]; !ok {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.ohlc_table
			(symbol, timeframe_size, timeframe_unit, time, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, p.database)

	err := p.conn.Exec(ctx, query,
		symbol,
		uint32(tf.Size),
		string(tf.Unit),
		uint64(ohlc.Time),
		ohlc.Open,
		ohlc.High,
		ohlc.Low,
		ohlc.Close,
	)
	if err != nil {
		return fmt.Errorf("insert candle for %s %d%s: %w", symbol, tf.Size, tf.Unit, err)
	}
	return nil
}
