// Package indicator maintains per-(symbol,timeframe) technical
// indicators over the exact-decimal candle buffer: EMA, ATR, Fibonacci
// retracement, and cumulative VWAP.
//
// EMA and ATR are stateful and updated incrementally, one closed candle
// at a time — recomputing either from a rolling window alone would
// require the full unbounded history (Wilder's RMA is not a function of
// the last N candles). Fibonacci and VWAP are plain functions of the
// candle buffer's current window and carry no independent state.
package indicator

import "github.com/shopspring/decimal"

// Value pairs a decimal indicator reading with its readiness. A value
// is not ready until its warm-up period has elapsed; an unready Value
// must never be mistaken for zero.
type Value struct {
	Decimal decimal.Decimal
	Ready   bool
}

func notReady() Value { return Value{} }

func ready(d decimal.Decimal) Value { return Value{Decimal: d, Ready: true} }
