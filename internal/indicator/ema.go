package indicator

import "github.com/shopspring/decimal"

// EMA is an exponential moving average of closes. O(1) per update: no
// window is stored. The first `period` updates seed a simple average;
// EMA proper begins on update `period+1`.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	current    decimal.Decimal
	sum        decimal.Decimal
	count      int
}

// NewEMA creates an EMA with the given period. Smoothing factor is
// 2/(period+1).
func NewEMA(period int) *EMA {
	mult := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	return &EMA{period: period, multiplier: mult}
}

func (e *EMA) Period() int { return e.period }

// Update feeds one more close price.
func (e *EMA) Update(close decimal.Decimal) {
	e.count++

	if e.count <= e.period {
		e.sum = e.sum.Add(close)
		if e.count == e.period {
			e.current = e.sum.Div(decimal.NewFromInt(int64(e.period)))
		}
		return
	}

	// EMA = close*k + prevEMA*(1-k)
	k := e.multiplier
	e.current = close.Mul(k).Add(e.current.Mul(decimal.NewFromInt(1).Sub(k)))
}

// Value returns the current EMA, or not-ready if fewer than `period`
// updates have been fed.
func (e *EMA) Value() Value {
	if e.count < e.period {
		return notReady()
	}
	return ready(e.current)
}

// Snapshot serializes EMA state for checkpointing.
func (e *EMA) Snapshot() Snapshot {
	return Snapshot{
		Type: "EMA", Period: e.period,
		Current: e.current, Sum: e.sum, Count: e.count,
	}
}

// Restore rebuilds EMA state from a checkpoint snapshot.
func (e *EMA) Restore(s Snapshot) {
	e.period = s.Period
	e.multiplier = decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(e.period + 1)))
	e.current = s.Current
	e.sum = s.Sum
	e.count = s.Count
}
