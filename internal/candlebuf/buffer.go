// Package candlebuf holds the per-(symbol,timeframe) rolling candle
// window the indicator engine and strategy read their tail from.
package candlebuf

import (
	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

// DefaultCapacity is the default bound on a single buffer's length.
const DefaultCapacity = 200

// Buffer is an ordered, capacity-bounded sequence of candles for one
// (symbol, timeframe). Timestamps are strictly increasing except that
// Add replaces the last element in place when its timestamp matches —
// the nominal case for a still-forming candle being re-delivered before
// it closes.
//
// Not safe for concurrent use; the owning pipeline serializes access.
type Buffer struct {
	symbol    string
	timeframe model.Timeframe
	capacity  int
	candles   []model.Candle
}

// New creates an empty buffer for (symbol, timeframe) with the given
// capacity. A capacity <= 0 uses DefaultCapacity.
func New(symbol string, tf model.Timeframe, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{symbol: symbol, timeframe: tf, capacity: capacity}
}

// Add appends c, or replaces the last candle if its timestamp matches.
// Evicts the oldest candle when the buffer is over capacity.
func (b *Buffer) Add(c model.Candle) {
	if n := len(b.candles); n > 0 && b.candles[n-1].Timestamp.Equal(c.Timestamp) {
		b.candles[n-1] = c
		return
	}

	b.candles = append(b.candles, c)
	if len(b.candles) > b.capacity {
		b.candles = b.candles[len(b.candles)-b.capacity:]
	}
}

// Len returns the number of candles currently held.
func (b *Buffer) Len() int { return len(b.candles) }

// Last returns the most recently added candle and true, or the zero
// value and false if the buffer is empty.
func (b *Buffer) Last() (model.Candle, bool) {
	if len(b.candles) == 0 {
		return model.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// Prev returns the second-most-recent candle and true, or the zero
// value and false if the buffer holds fewer than two candles.
func (b *Buffer) Prev() (model.Candle, bool) {
	if len(b.candles) < 2 {
		return model.Candle{}, false
	}
	return b.candles[len(b.candles)-2], true
}

// All returns the buffer's candles in ascending timestamp order. The
// returned slice is shared with the buffer's internal storage and must
// not be mutated by the caller.
func (b *Buffer) All() []model.Candle { return b.candles }

// Tail returns the last n candles in ascending timestamp order (fewer if
// the buffer holds less than n).
func (b *Buffer) Tail(n int) []model.Candle {
	if n <= 0 || len(b.candles) == 0 {
		return nil
	}
	if n > len(b.candles) {
		n = len(b.candles)
	}
	return b.candles[len(b.candles)-n:]
}

// Closes returns the Close price of each candle in ascending order.
func (b *Buffer) Closes() []decimal.Decimal {
	return column(b.candles, func(c model.Candle) decimal.Decimal { return c.Close })
}

// Highs returns the High price of each candle in ascending order.
func (b *Buffer) Highs() []decimal.Decimal {
	return column(b.candles, func(c model.Candle) decimal.Decimal { return c.High })
}

// Lows returns the Low price of each candle in ascending order.
func (b *Buffer) Lows() []decimal.Decimal {
	return column(b.candles, func(c model.Candle) decimal.Decimal { return c.Low })
}

// Volumes returns the Volume of each candle in ascending order.
func (b *Buffer) Volumes() []decimal.Decimal {
	return column(b.candles, func(c model.Candle) decimal.Decimal { return c.Volume })
}

func column(candles []model.Candle, pick func(model.Candle) decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = pick(c)
	}
	return out
}

// Set is a registry of Buffers keyed by (symbol, timeframe), owned by a
// single component (indicator engine or strategy).
type Set struct {
	capacity int
	buffers  map[string]*Buffer
}

// NewSet creates an empty buffer set using capacity for every buffer it
// lazily creates.
func NewSet(capacity int) *Set {
	return &Set{capacity: capacity, buffers: make(map[string]*Buffer)}
}

// Get returns the buffer for (symbol, timeframe), creating it if absent.
func (s *Set) Get(symbol string, tf model.Timeframe) *Buffer {
	key := symbol + ":" + string(tf)
	buf, ok := s.buffers[key]
	if !ok {
		buf = New(symbol, tf, s.capacity)
		s.buffers[key] = buf
	}
	return buf
}
