package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the canonical candle intervals the engine understands.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// TimeframeMinutes maps a derived timeframe to its period length in minutes.
// Only timeframes the aggregator can derive from a 1m stream are listed here.
var TimeframeMinutes = map[Timeframe]int{
	TF3m:  3,
	TF5m:  5,
	TF15m: 15,
	TF30m: 30,
}

// Candle is the cold-path (exact decimal) OHLCV record. It is the shape
// used by every store, every external API, and all backtest analytics.
//
// Invariant: Low <= Open, Close, High and Low <= High. Aggregated candles
// are produced exactly once and always closed; candles from a live source
// may be delivered repeatedly as "open" before exactly one closing delivery.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"` // period-start, UTC, millisecond precision
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	IsClosed  bool            `json:"is_closed"`
}

// Key identifies the (symbol, timeframe) this candle belongs to.
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// FastCandle is the hot-path record: 64-bit floats, epoch-seconds timestamp.
// Used by the position tracker's inner loop, the aggregator, and the
// trade-ingest fast path. Never carries a decimal.Decimal field.
type FastCandle struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp float64 // unix seconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsClosed  bool
}

// Key identifies the (symbol, timeframe) this candle belongs to.
func (c *FastCandle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// IsBullish reports whether the candle closed above its open.
func (c *FastCandle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c *FastCandle) IsBearish() bool { return c.Close < c.Open }

// BodySize is the absolute distance between open and close.
func (c *FastCandle) BodySize() float64 {
	d := c.Close - c.Open
	if d < 0 {
		return -d
	}
	return d
}

// RangeSize is the absolute distance between high and low.
func (c *FastCandle) RangeSize() float64 {
	d := c.High - c.Low
	if d < 0 {
		return -d
	}
	return d
}
