// Package memstore is a pure in-memory implementation of
// model.SignalStore, model.CheckpointStore, and model.CandleStore, for
// the backtest CLI harness and integration tests: the core's business
// logic runs unchanged against it with no SQLite or Redis in the
// process. One mutex, three maps.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

// Store implements model.SignalStore, model.CheckpointStore, and
// model.CandleStore entirely in memory. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	signals     map[string]model.Signal
	checkpoints map[string]model.Checkpoint
	candles     map[string][]model.Candle // key = symbol:timeframe, ascending timestamp
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		signals:     make(map[string]model.Signal),
		checkpoints: make(map[string]model.Checkpoint),
		candles:     make(map[string][]model.Candle),
	}
}

func candleKey(symbol string, tf model.Timeframe) string { return symbol + ":" + string(tf) }

// Save upserts a signal by ID.
func (s *Store) Save(ctx context.Context, sig model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig
	return nil
}

// UpdateOutcome persists MAE/MFE/outcome/max_atr fields for an existing signal.
func (s *Store) UpdateOutcome(ctx context.Context, id string, maeRatio, mfeRatio float64, outcome model.Outcome, outcomeTime time.Time, outcomePrice, maxATR float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil
	}
	sig.MAERatio = decimalFromFloat(maeRatio)
	sig.MFERatio = decimalFromFloat(mfeRatio)
	sig.MaxATR = decimalFromFloat(maxATR)
	sig.Outcome = outcome
	if outcome != model.OutcomeActive {
		sig.OutcomeTime = outcomeTime
		sig.OutcomePrice = decimalFromFloat(outcomePrice)
	}
	s.signals[id] = sig
	return nil
}

// GetActive lists signals with Outcome == OutcomeActive, optionally
// filtered to one symbol (empty string means all symbols).
func (s *Store) GetActive(ctx context.Context, symbol string) ([]model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Signal
	for _, sig := range s.signals {
		if sig.Outcome != model.OutcomeActive {
			continue
		}
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// Stats returns counts of TP, SL, and active signals.
func (s *Store) Stats(ctx context.Context) (model.SignalStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats model.SignalStats
	for _, sig := range s.signals {
		switch sig.Outcome {
		case model.OutcomeActive:
			stats.Active++
		case model.OutcomeTP:
			stats.TP++
		case model.OutcomeSL:
			stats.SL++
		}
	}
	return stats, nil
}

// Get returns the checkpoint for symbol's 1m stream, or nil if none exists.
func (s *Store) Get(ctx context.Context, symbol string) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[symbol]
	if !ok {
		return nil, nil
	}
	cpCopy := cp
	return &cpCopy, nil
}

// Upsert persists a checkpoint.
func (s *Store) Upsert(ctx context.Context, c model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[c.Symbol] = c
	return nil
}

// ListPending returns every checkpoint left in PENDING status.
func (s *Store) ListPending(ctx context.Context) ([]model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.Status == model.CheckpointPending {
			out = append(out, cp)
		}
	}
	return out, nil
}

// GetAfter returns closed candles for (symbol, timeframe) strictly
// after afterTS, in ascending timestamp order.
func (s *Store) GetAfter(ctx context.Context, symbol string, tf model.Timeframe, afterTS time.Time) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Candle
	for _, c := range s.candles[candleKey(symbol, tf)] {
		if c.IsClosed && c.Timestamp.After(afterTS) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetLatestUntil returns up to limit of the most recent closed candles
// for (symbol, timeframe) with timestamp <= untilTS, in ascending
// timestamp order.
func (s *Store) GetLatestUntil(ctx context.Context, symbol string, tf model.Timeframe, untilTS time.Time, limit int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.candles[candleKey(symbol, tf)]
	var matched []model.Candle
	for _, c := range all {
		if c.IsClosed && !c.Timestamp.After(untilTS) {
			matched = append(matched, c)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// GetLastTimestamp returns the timestamp of the most recently stored
// candle for (symbol, timeframe), or the zero time if none exist.
func (s *Store) GetLastTimestamp(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.candles[candleKey(symbol, tf)]
	if len(all) == 0 {
		return time.Time{}, nil
	}
	return all[len(all)-1].Timestamp, nil
}

// SaveBatch upserts candles keyed by (symbol, timeframe, timestamp),
// keeping each (symbol, timeframe) slice sorted ascending by timestamp.
func (s *Store) SaveBatch(ctx context.Context, candles []model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		key := candleKey(c.Symbol, c.Timeframe)
		list := s.candles[key]
		replaced := false
		for i, existing := range list {
			if existing.Timestamp.Equal(c.Timestamp) {
				list[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, c)
			sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		}
		s.candles[key] = list
	}
	return nil
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
