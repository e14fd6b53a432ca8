package model

import (
	"context"
	"time"
)

// ── External interfaces ──
// These interfaces decouple the strategy/tracker/replay logic from any
// concrete database, cache, transport, or execution product. No direct
// SQL or Redis type appears outside internal/store and the health probes
// in internal/metrics; everything else programs against the shapes below. This is what lets
// the backtest runner reuse the core against purely in-memory fakes.

// SignalStore is the durable home for signals (cold path).
type SignalStore interface {
	// Save upserts a signal by ID. Idempotent: saving the same signal ID
	// twice must not create a duplicate record.
	Save(ctx context.Context, s Signal) error

	// UpdateOutcome persists MAE/MFE/outcome/max_atr fields for an
	// existing signal.
	UpdateOutcome(ctx context.Context, id string, maeRatio, mfeRatio float64, outcome Outcome, outcomeTime time.Time, outcomePrice, maxATR float64) error

	// GetActive lists signals with Outcome == OutcomeActive, optionally
	// filtered to one symbol (empty string means all symbols).
	GetActive(ctx context.Context, symbol string) ([]Signal, error)

	// Stats returns counts of TP, SL, and active signals.
	Stats(ctx context.Context) (SignalStats, error)
}

// SignalStats is the aggregate signal-outcome count returned by
// SignalStore.Stats.
type SignalStats struct {
	Active int
	TP     int
	SL     int
}

// CheckpointStore is the durable home for per-symbol replay checkpoints.
type CheckpointStore interface {
	Get(ctx context.Context, symbol string) (*Checkpoint, error)
	Upsert(ctx context.Context, c Checkpoint) error
	ListPending(ctx context.Context) ([]Checkpoint, error)
}

// CandleStore is the durable home for closed 1m (and derived) candles.
type CandleStore interface {
	// GetAfter returns closed candles for (symbol, timeframe) strictly
	// after afterTS, in ascending timestamp order.
	GetAfter(ctx context.Context, symbol string, tf Timeframe, afterTS time.Time) ([]Candle, error)

	// GetLatestUntil returns up to limit of the most recent closed
	// candles for (symbol, timeframe) with timestamp <= untilTS, in
	// ascending timestamp order.
	GetLatestUntil(ctx context.Context, symbol string, tf Timeframe, untilTS time.Time, limit int) ([]Candle, error)

	// GetLastTimestamp returns the timestamp of the most recently stored
	// candle for (symbol, timeframe), or the zero time if none exist.
	GetLastTimestamp(ctx context.Context, symbol string, tf Timeframe) (time.Time, error)

	// SaveBatch upserts candles keyed by (symbol, timeframe, timestamp).
	SaveBatch(ctx context.Context, candles []Candle) error
}

// SignalCache is the fast-access secondary derivative of SignalStore.
// All operations may fail; callers must treat failures as non-fatal
// (warn and fall back to the store).
type SignalCache interface {
	CacheSignal(ctx context.Context, s FastSignal) error
	UpdateSignal(ctx context.Context, s FastSignal) error
	RemoveSignal(ctx context.Context, id, symbol string) error
	GetAllSignals(ctx context.Context) ([]FastSignal, error)
	GetSignalsBySymbol(ctx context.Context, symbol string) ([]FastSignal, error)
}

// StreakCache is the fast-access secondary derivative of streak state.
type StreakCache interface {
	Save(ctx context.Context, t StreakTracker) error
	LoadAll(ctx context.Context) (map[string]StreakTracker, error)
}

// CandleSource is the abstract push source of candles (a concrete
// exchange WebSocket client lives outside the core). Delivers candles in
// non-strictly-increasing timestamp order per (symbol, timeframe):
// multiple deliveries at the same timestamp with IsClosed=false, then
// exactly one with IsClosed=true, is the nominal case.
type CandleSource interface {
	OnCandle(ctx context.Context, handler func(Candle)) error
}

// TradeSource is the abstract push source of aggregated trades. Delivers
// trades in roughly increasing AggTradeID order per symbol.
type TradeSource interface {
	OnTrade(ctx context.Context, handler func(Trade)) error
}

// ExecutionSink is consumed only by the live trading layer, never by the
// strategy core itself — the core merely emits signals.
type ExecutionSink interface {
	ExecuteSignal(ctx context.Context, s Signal, quantity float64, placeSLTP bool) ([]Order, error)
}

// Order is the minimal external-execution record the ExecutionSink
// returns; its internals are the execution layer's concern, not the
// core's.
type Order struct {
	ID       string
	SignalID string
	Side     Direction
	Quantity float64
	Price    float64
	Status   string
}
