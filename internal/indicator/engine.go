package indicator

import (
	"github.com/shopspring/decimal"

	"msrengine/internal/candlebuf"
	"msrengine/internal/model"
)

// Config carries the warm-up periods for a tracked (symbol, timeframe)
// key's indicator set.
type Config struct {
	EMAPeriod int
	ATRPeriod int
	FibPeriod int
}

// DefaultConfig returns the stock warm-up periods.
func DefaultConfig() Config {
	return Config{EMAPeriod: 50, ATRPeriod: 9, FibPeriod: 9}
}

// Set is the computed indicator reading for one closed candle,
// returned by ComputeLatest only once every required window holds
// enough samples.
type Set struct {
	EMA    decimal.Decimal
	ATR    decimal.Decimal
	Fib382 decimal.Decimal
	Fib500 decimal.Decimal
	Fib618 decimal.Decimal
	VWAP   decimal.Decimal
}

type perKey struct {
	ema *EMA
	atr *ATR
}

// Engine maintains EMA/ATR state per (symbol, timeframe) and combines it
// with buffer-derived Fibonacci/VWAP readings. Single-owner: not safe
// for concurrent use.
type Engine struct {
	cfg     Config
	buffers *candlebuf.Set
	keys    map[string]*perKey
}

// NewEngine creates an indicator Engine sharing the given candle buffer
// set (the same buffers the strategy reads its tail from).
func NewEngine(cfg Config, buffers *candlebuf.Set) *Engine {
	return &Engine{cfg: cfg, buffers: buffers, keys: make(map[string]*perKey)}
}

func (e *Engine) keyFor(symbol string, tf model.Timeframe) *perKey {
	k := symbol + ":" + string(tf)
	pk, ok := e.keys[k]
	if !ok {
		pk = &perKey{ema: NewEMA(e.cfg.EMAPeriod), atr: NewATR(e.cfg.ATRPeriod)}
		e.keys[k] = pk
	}
	return pk
}

// Update feeds one closed candle through the EMA/ATR state for its
// (symbol, timeframe) key. The candle buffer itself (for Fib/VWAP) is
// expected to already contain this candle — callers update the buffer
// before calling Update, or via ComputeLatest which does both.
func (e *Engine) Update(c model.Candle) {
	pk := e.keyFor(c.Symbol, c.Timeframe)
	pk.ema.Update(c.Close)
	pk.atr.Update(c.High, c.Low, c.Close)
}

// ComputeLatest appends c to the (symbol, timeframe) candle buffer,
// updates EMA/ATR, and returns the combined indicator set for the
// buffer's current state. Returns ok=false if any required window
// (EMA, ATR, or Fibonacci) is not yet warmed up.
func (e *Engine) ComputeLatest(c model.Candle) (Set, bool) {
	buf := e.buffers.Get(c.Symbol, c.Timeframe)
	buf.Add(c)
	e.Update(c)

	pk := e.keyFor(c.Symbol, c.Timeframe)
	emaVal := pk.ema.Value()
	atrVal := pk.atr.Value()
	if !emaVal.Ready || !atrVal.Ready {
		return Set{}, false
	}

	fib, ok := ComputeFib(buf.Highs(), buf.Lows(), e.cfg.FibPeriod)
	if !ok {
		return Set{}, false
	}

	vwap, ok := ComputeVWAP(buf.Highs(), buf.Lows(), buf.Closes(), buf.Volumes())
	if !ok {
		return Set{}, false
	}

	return Set{
		EMA: emaVal.Decimal, ATR: atrVal.Decimal,
		Fib382: fib.Fib382, Fib500: fib.Fib500, Fib618: fib.Fib618,
		VWAP: vwap,
	}, true
}

// CurrentATR returns the most recently computed ATR for (symbol,
// timeframe) without recomputing or mutating any state. Used by the
// pipeline to feed the position tracker's update_max_atr once per closed
// candle, independent of whether that candle produced a signal.
func (e *Engine) CurrentATR(symbol string, tf model.Timeframe) (decimal.Decimal, bool) {
	pk, ok := e.keys[symbol+":"+string(tf)]
	if !ok {
		return decimal.Zero, false
	}
	v := pk.atr.Value()
	return v.Decimal, v.Ready
}
