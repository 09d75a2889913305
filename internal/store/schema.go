package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

// EnsureSchema provisions the base candle table plus one rollup table and
// materialized view per configured timeframe. ClickHouse aggregates the
// coarser timeframes server-side from the 1-second rows, so the 1-second
// timeframe gets no rollup of its own. Idempotent, run at startup.
func EnsureSchema(ctx context.Context, conn driver.Conn, database string, logger zerolog.Logger) error {
	baseDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.ohlc_table
		(
			symbol String,
			timeframe_size UInt32,
			timeframe_unit String,
			time UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64
		)
		ENGINE = MergeTree()
		ORDER BY (symbol, time)`, database)
	if err := conn.Exec(ctx, baseDDL); err != nil {
		return fmt.Errorf("create ohlc_table: %w", err)
	}

	for _, tf := range timeframe.Configured() {
		if tf == timeframe.OneSecond {
			continue
		}
		if err := ensureRollup(ctx, conn, database, tf); err != nil {
			return err
		}
		logger.Debug().
			Int("size", tf.Size).
			Str("unit", string(tf.Unit)).
			Msg("Rollup table ready")
	}

	logger.Info().Str("database", database).Msg("ClickHouse schema ready")
	return nil
}

// ensureRollup creates a per-timeframe AggregatingMergeTree-style table and
// the materialized view feeding it from the 1-second rows. Rollup rows
// expire after twice the timeframe span.
func ensureRollup(ctx context.Context, conn driver.Conn, database string, tf timeframe.Window) error {
	table := rollupTableName(tf)
	interval := strings.ToUpper(string(tf.Unit))

	tableDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			symbol String,
			time UInt64,
			open AggregateFunction(argMin, Float64, UInt64),
			high AggregateFunction(max, Float64),
			low AggregateFunction(min, Float64),
			close AggregateFunction(argMax, Float64, UInt64)
		)
		ENGINE = MergeTree()
		ORDER BY (symbol, time)
		TTL fromUnixTimestamp(time) + INTERVAL %d %s`,
		database, table, 2*tf.Size, interval)
	if err := conn.Exec(ctx, tableDDL); err != nil {
		return fmt.Errorf("create rollup table %s: %w", table, err)
	}

	viewDDL := fmt.Sprintf(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS %s.%s_mv
		TO %s.%s
		AS SELECT
			symbol,
			CAST(
				toUnixTimestamp(
					toStartOfInterval(
						fromUnixTimestamp(time),
						INTERVAL %d %s
					)
				) AS UInt64
			) AS time,
			argMinState(open, time) AS open,
			maxState(high) AS high,
			minState(low) AS low,
			argMaxState(close, time) AS close
		FROM %s.ohlc_table
		WHERE timeframe_size = 1
			AND timeframe_unit = 'second'
		GROUP BY symbol, time`,
		database, table, database, table, tf.Size, interval, database)
	if err := conn.Exec(ctx, viewDDL); err != nil {
		return fmt.Errorf("create materialized view %s_mv: %w", table, err)
	}
	return nil
}

func rollupTableName(tf timeframe.Window) string {
	return fmt.Sprintf("ohlc_%d%s", tf.Size, tf.Unit)
}
