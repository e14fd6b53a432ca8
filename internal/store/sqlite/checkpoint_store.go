package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"msrengine/internal/model"
)

// Get returns the checkpoint for symbol's 1m stream, or nil if none
// exists yet (cold start).
func (s *Store) Get(ctx context.Context, symbol string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, timeframe, system_start_time, last_processed_time, status
		FROM checkpoints WHERE symbol = ? AND timeframe = ?
	`, symbol, string(model.TF1m))

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get checkpoint for %s: %w", symbol, err)
	}
	return &cp, nil
}

// Upsert persists a checkpoint. A prior record for its (symbol,
// timeframe) key gets the new last_processed_time and status; its
// system_start_time keeps the first-written value.
func (s *Store) Upsert(ctx context.Context, c model.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (symbol, timeframe, system_start_time, last_processed_time, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe) DO UPDATE SET
			last_processed_time=excluded.last_processed_time, status=excluded.status
	`, c.Symbol, string(c.Timeframe), c.SystemStartTime.UnixMilli(), c.LastProcessedTime.UnixMilli(), string(c.Status))
	if err != nil {
		return fmt.Errorf("sqlite: upsert checkpoint for %s: %w", c.Symbol, err)
	}
	return nil
}

// ListPending returns every checkpoint left PENDING by a prior crash
// mid-replay.
func (s *Store) ListPending(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, system_start_time, last_processed_time, status
		FROM checkpoints WHERE status = ?
	`, string(model.CheckpointPending))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending checkpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (model.Checkpoint, error) {
	var (
		cp                             model.Checkpoint
		timeframe, status              string
		systemStartMs, lastProcessedMs int64
	)
	if err := row.Scan(&cp.Symbol, &timeframe, &systemStartMs, &lastProcessedMs, &status); err != nil {
		return model.Checkpoint{}, err
	}
	cp.Timeframe = model.Timeframe(timeframe)
	cp.Status = model.CheckpointStatus(status)
	cp.SystemStartTime = time.UnixMilli(systemStartMs).UTC()
	cp.LastProcessedTime = time.UnixMilli(lastProcessedMs).UTC()
	return cp, nil
}
