package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

// Save upserts a signal by ID — idempotent, per the replay service's
// contract that a crashed-and-resumed replay may re-emit the same
// signal ID.
func (s *Store) Save(ctx context.Context, sig model.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, strategy_name, symbol, timeframe, signal_time, direction,
			entry_price, tp_price, sl_price, atr_at_signal, max_atr, streak_at_signal,
			mae_ratio, mfe_ratio, outcome, outcome_time, outcome_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			strategy_name=excluded.strategy_name, symbol=excluded.symbol,
			timeframe=excluded.timeframe, signal_time=excluded.signal_time,
			direction=excluded.direction, entry_price=excluded.entry_price,
			tp_price=excluded.tp_price, sl_price=excluded.sl_price,
			atr_at_signal=excluded.atr_at_signal, max_atr=excluded.max_atr,
			streak_at_signal=excluded.streak_at_signal
	`,
		sig.ID, sig.StrategyName, sig.Symbol, string(sig.Timeframe), sig.SignalTime.UnixMilli(), int(sig.Direction),
		sig.EntryPrice.String(), sig.TPPrice.String(), sig.SLPrice.String(),
		sig.ATRAtSignal.String(), sig.MaxATR.String(), sig.StreakAtSignal,
		sig.MAERatio.String(), sig.MFERatio.String(), string(sig.Outcome),
		nullableMillis(sig.OutcomeTime), nullableDecimal(sig.OutcomePrice, !sig.OutcomeTime.IsZero()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateOutcome persists MAE/MFE/outcome/max_atr for an existing signal.
func (s *Store) UpdateOutcome(ctx context.Context, id string, maeRatio, mfeRatio float64, outcome model.Outcome, outcomeTime time.Time, outcomePrice, maxATR float64) error {
	var outcomeTimeVal sql.NullInt64
	var outcomePriceVal sql.NullString
	if outcome != model.OutcomeActive {
		outcomeTimeVal = sql.NullInt64{Int64: outcomeTime.UnixMilli(), Valid: true}
		outcomePriceVal = sql.NullString{String: decimal.NewFromFloat(outcomePrice).String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE signals SET mae_ratio=?, mfe_ratio=?, outcome=?, outcome_time=?, outcome_price=?, max_atr=?
		WHERE id=?
	`,
		decimal.NewFromFloat(maeRatio).String(), decimal.NewFromFloat(mfeRatio).String(), string(outcome),
		outcomeTimeVal, outcomePriceVal, decimal.NewFromFloat(maxATR).String(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update outcome for %s: %w", id, err)
	}
	return nil
}

// GetActive lists signals with Outcome == OutcomeActive, optionally
// filtered to one symbol.
func (s *Store) GetActive(ctx context.Context, symbol string) ([]model.Signal, error) {
	query := `SELECT id, strategy_name, symbol, timeframe, signal_time, direction,
		entry_price, tp_price, sl_price, atr_at_signal, max_atr, streak_at_signal,
		mae_ratio, mfe_ratio, outcome, outcome_time, outcome_price
		FROM signals WHERE outcome = ?`
	args := []interface{}{string(model.OutcomeActive)}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get active signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Stats returns counts of TP, SL, and active signals.
func (s *Store) Stats(ctx context.Context) (model.SignalStats, error) {
	var stats model.SignalStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN outcome = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'tp' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'sl' THEN 1 ELSE 0 END), 0)
		FROM signals
	`)
	if err := row.Scan(&stats.Active, &stats.TP, &stats.SL); err != nil {
		return model.SignalStats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (model.Signal, error) {
	var (
		sig                                               model.Signal
		timeframe, outcome                                string
		direction                                         int
		signalTimeMs                                      int64
		entryPrice, tpPrice, slPrice, atrAtSignal, maxATR string
		maeRatio, mfeRatio                                string
		outcomeTimeMs                                     sql.NullInt64
		outcomePrice                                      sql.NullString
	)
	if err := row.Scan(&sig.ID, &sig.StrategyName, &sig.Symbol, &timeframe, &signalTimeMs, &direction,
		&entryPrice, &tpPrice, &slPrice, &atrAtSignal, &maxATR, &sig.StreakAtSignal,
		&maeRatio, &mfeRatio, &outcome, &outcomeTimeMs, &outcomePrice); err != nil {
		return model.Signal{}, err
	}

	sig.Timeframe = model.Timeframe(timeframe)
	sig.Direction = model.Direction(direction)
	sig.SignalTime = time.UnixMilli(signalTimeMs).UTC()
	sig.Outcome = model.Outcome(outcome)
	sig.EntryPrice = mustDecimal(entryPrice)
	sig.TPPrice = mustDecimal(tpPrice)
	sig.SLPrice = mustDecimal(slPrice)
	sig.ATRAtSignal = mustDecimal(atrAtSignal)
	sig.MaxATR = mustDecimal(maxATR)
	sig.MAERatio = mustDecimal(maeRatio)
	sig.MFERatio = mustDecimal(mfeRatio)
	if outcomeTimeMs.Valid {
		sig.OutcomeTime = time.UnixMilli(outcomeTimeMs.Int64).UTC()
	}
	if outcomePrice.Valid {
		sig.OutcomePrice = mustDecimal(outcomePrice.String)
	}
	return sig, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullableDecimal(d decimal.Decimal, valid bool) sql.NullString {
	if !valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
