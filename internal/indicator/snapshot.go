package indicator

import (
	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

// Snapshot holds the serialized state of a single stateful indicator
// (EMA or ATR). Fibonacci and VWAP carry no independent state — they are
// recomputed from the candle buffer, which the replay service restores
// separately.
type Snapshot struct {
	Type   string `json:"type"` // "EMA" or "ATR"
	Period int    `json:"period"`

	Current decimal.Decimal `json:"current"`
	Sum     decimal.Decimal `json:"sum,omitempty"`
	Count   int             `json:"count"`

	// ATR-only.
	PrevClose decimal.Decimal `json:"prev_close,omitempty"`
	HasPrev   bool            `json:"has_prev,omitempty"`
}

// KeySnapshot holds the EMA and ATR snapshots for one (symbol,
// timeframe) key.
type KeySnapshot struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	EMA       Snapshot `json:"ema"`
	ATR       Snapshot `json:"atr"`
}

// EngineSnapshot is the full persisted state of an Engine, keyed by
// (symbol, timeframe).
type EngineSnapshot struct {
	Keys []KeySnapshot `json:"keys"`
}

// SnapshotEngine captures every tracked key's EMA/ATR state.
func SnapshotEngine(e *Engine) EngineSnapshot {
	snap := EngineSnapshot{Keys: make([]KeySnapshot, 0, len(e.keys))}
	for k, pk := range e.keys {
		symbol, tf := splitKey(k)
		snap.Keys = append(snap.Keys, KeySnapshot{
			Symbol: symbol, Timeframe: tf,
			EMA: pk.ema.Snapshot(), ATR: pk.atr.Snapshot(),
		})
	}
	return snap
}

// RestoreEngine rebuilds EMA/ATR state onto an already-constructed
// Engine from a snapshot. Keys absent from the snapshot remain cold
// (fresh EMA/ATR). The candle buffer window itself must be separately
// replayed by the caller (the replay service owns that).
func RestoreEngine(e *Engine, snap EngineSnapshot) {
	for _, ks := range snap.Keys {
		pk := e.keyFor(ks.Symbol, model.Timeframe(ks.Timeframe))
		pk.ema.Restore(ks.EMA)
		pk.atr.Restore(ks.ATR)
	}
}

func splitKey(k string) (symbol, tf string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == ':' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
