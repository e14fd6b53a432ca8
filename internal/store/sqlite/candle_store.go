package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"msrengine/internal/model"
)

// SaveBatch upserts candles keyed by (symbol, timeframe, timestamp) in a
// single transaction: one prepared statement, one commit, regardless of
// batch size.
func (s *Store) SaveBatch(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin candle batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, is_closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, is_closed=excluded.is_closed
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: prepare candle batch: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		isClosed := 0
		if c.IsClosed {
			isClosed = 1
		}
		if _, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.Timestamp.UnixMilli(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(), isClosed); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: exec candle batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit candle batch: %w", err)
	}
	return nil
}

// GetAfter returns closed candles for (symbol, timeframe) strictly after
// afterTS, ascending by timestamp.
func (s *Store) GetAfter(ctx context.Context, symbol string, tf model.Timeframe, afterTS time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, is_closed
		FROM candles WHERE symbol = ? AND timeframe = ? AND ts > ? AND is_closed = 1
		ORDER BY ts ASC
	`, symbol, string(tf), afterTS.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite: get candles after: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetLatestUntil returns up to limit of the most recent closed candles
// for (symbol, timeframe) with timestamp <= untilTS, ascending by
// timestamp.
func (s *Store) GetLatestUntil(ctx context.Context, symbol string, tf model.Timeframe, untilTS time.Time, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, is_closed FROM (
			SELECT symbol, timeframe, ts, open, high, low, close, volume, is_closed
			FROM candles WHERE symbol = ? AND timeframe = ? AND ts <= ? AND is_closed = 1
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, symbol, string(tf), untilTS.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetLastTimestamp returns the most recently stored closed candle's
// timestamp for (symbol, timeframe), or the zero time if none exist.
func (s *Store) GetLastTimestamp(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, error) {
	var ts sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ? AND is_closed = 1
	`, symbol, string(tf))
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("sqlite: get last timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

type rowsScanner interface {
	Next() bool
	Err() error
	rowScanner
}

func scanCandles(rows rowsScanner) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		var (
			c                              model.Candle
			timeframe                      string
			ts                             int64
			open, high, low, close, volume string
			isClosed                       int
		)
		if err := rows.Scan(&c.Symbol, &timeframe, &ts, &open, &high, &low, &close, &volume, &isClosed); err != nil {
			return nil, fmt.Errorf("sqlite: scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(timeframe)
		c.Timestamp = time.UnixMilli(ts).UTC()
		c.Open = mustDecimal(open)
		c.High = mustDecimal(high)
		c.Low = mustDecimal(low)
		c.Close = mustDecimal(close)
		c.Volume = mustDecimal(volume)
		c.IsClosed = isClosed != 0
		out = append(out, c)
	}
	return out, rows.Err()
}
