package indicator

import "github.com/shopspring/decimal"

// ATR is the Average True Range using Wilder's RMA smoothing. True Range
// = max(high-low, |high-prevClose|, |low-prevClose|). The first update
// has no previous close, so True Range degenerates to high-low. The
// first `period` updates seed a simple average of True Range; Wilder
// smoothing begins on update `period+1`.
type ATR struct {
	period    int
	prevClose decimal.Decimal
	hasPrev   bool
	sum       decimal.Decimal
	current   decimal.Decimal
	count     int
}

// NewATR creates an ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Period() int { return a.period }

// Update feeds one more closed candle's high/low/close.
func (a *ATR) Update(high, low, close decimal.Decimal) {
	tr := trueRange(high, low, a.prevClose, a.hasPrev)
	a.prevClose = close
	a.hasPrev = true
	a.count++

	if a.count <= a.period {
		a.sum = a.sum.Add(tr)
		if a.count == a.period {
			a.current = a.sum.Div(decimal.NewFromInt(int64(a.period)))
		}
		return
	}

	p := decimal.NewFromInt(int64(a.period))
	a.current = a.current.Mul(p.Sub(decimal.NewFromInt(1))).Add(tr).Div(p)
}

func trueRange(high, low, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	hl := high.Sub(low)
	if !hasPrev {
		return hl
	}
	hc := high.Sub(prevClose).Abs()
	lc := low.Sub(prevClose).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// Value returns the current ATR, or not-ready if fewer than `period`
// updates have been fed.
func (a *ATR) Value() Value {
	if a.count < a.period {
		return notReady()
	}
	return ready(a.current)
}

// Snapshot serializes ATR state for checkpointing.
func (a *ATR) Snapshot() Snapshot {
	return Snapshot{
		Type: "ATR", Period: a.period,
		Current: a.current, Sum: a.sum, Count: a.count,
		PrevClose: a.prevClose, HasPrev: a.hasPrev,
	}
}

// Restore rebuilds ATR state from a checkpoint snapshot.
func (a *ATR) Restore(s Snapshot) {
	a.period = s.Period
	a.current = s.Current
	a.sum = s.Sum
	a.count = s.Count
	a.prevClose = s.PrevClose
	a.hasPrev = s.HasPrev
}
