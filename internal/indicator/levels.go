package indicator

import "github.com/shopspring/decimal"

// Fib holds the three Fibonacci retracement levels computed over a
// recent swing.
type Fib struct {
	Fib382 decimal.Decimal
	Fib500 decimal.Decimal
	Fib618 decimal.Decimal
}

var (
	d382 = decimal.NewFromFloat(0.382)
	d500 = decimal.NewFromFloat(0.5)
	d618 = decimal.NewFromFloat(0.618)
)

// ComputeFib computes retracement levels from the highs and lows of the
// last `period` candles (HH = max(highs), LL = min(lows)). Returns
// not-ready if fewer than period samples are supplied.
func ComputeFib(highs, lows []decimal.Decimal, period int) (Fib, bool) {
	if len(highs) < period || len(lows) < period {
		return Fib{}, false
	}
	highs = highs[len(highs)-period:]
	lows = lows[len(lows)-period:]

	hh := highs[0]
	for _, h := range highs[1:] {
		if h.GreaterThan(hh) {
			hh = h
		}
	}
	ll := lows[0]
	for _, l := range lows[1:] {
		if l.LessThan(ll) {
			ll = l
		}
	}

	span := hh.Sub(ll)
	return Fib{
		Fib382: hh.Sub(span.Mul(d382)),
		Fib500: hh.Sub(span.Mul(d500)),
		Fib618: hh.Sub(span.Mul(d618)),
	}, true
}

// ComputeVWAP computes the volume-weighted average price cumulatively
// over the supplied window: Σ(typical·volume) / Σ(volume), where
// typical = (high+low+close)/3. This is cumulative over whatever
// window the caller hands in (the candle buffer's current contents);
// it is never reset to a session or calendar boundary inside this
// package. Returns not-ready if the window is empty or
// total volume is zero.
func ComputeVWAP(highs, lows, closes, volumes []decimal.Decimal) (decimal.Decimal, bool) {
	if len(highs) == 0 {
		return decimal.Zero, false
	}
	three := decimal.NewFromInt(3)
	var numerator, totalVolume decimal.Decimal
	for i := range highs {
		typical := highs[i].Add(lows[i]).Add(closes[i]).Div(three)
		numerator = numerator.Add(typical.Mul(volumes[i]))
		totalVolume = totalVolume.Add(volumes[i])
	}
	if totalVolume.IsZero() {
		return decimal.Zero, false
	}
	return numerator.Div(totalVolume), true
}
