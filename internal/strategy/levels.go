package strategy

import "github.com/shopspring/decimal"

// classify splits {fib_382, fib_500, fib_618, vwap} into support (<=
// close) and resistance (> close) sets.
func classify(close, fib382, fib500, fib618, vwap decimal.Decimal) (support, resistance []decimal.Decimal) {
	for _, v := range []decimal.Decimal{fib382, fib500, fib618, vwap} {
		if v.LessThanOrEqual(close) {
			support = append(support, v)
		} else {
			resistance = append(resistance, v)
		}
	}
	return support, resistance
}

// nearestSupport returns the greatest support strictly below close.
// "Nearest" is defined relative to close, not to the classification
// boundary: a level exactly at close classifies as support but is never
// the nearest one.
func nearestSupport(close decimal.Decimal, support []decimal.Decimal) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, l := range support {
		if l.GreaterThanOrEqual(close) {
			continue
		}
		if !found || l.GreaterThan(best) {
			best = l
			found = true
		}
	}
	return best, found
}

func nearestResistance(close decimal.Decimal, resistance []decimal.Decimal) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, l := range resistance {
		if l.LessThanOrEqual(close) {
			continue
		}
		if !found || l.LessThan(best) {
			best = l
			found = true
		}
	}
	return best, found
}

// levelScore computes score = sum of 1/(1+|p-l|/p*100) over levels.
// levels must already be classified to one side (classify's output);
// this does not re-filter. Returns the score and level count.
func levelScore(close decimal.Decimal, levels []decimal.Decimal) (decimal.Decimal, int) {
	hundred := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)

	var score decimal.Decimal
	for _, l := range levels {
		dist := l.Sub(close).Abs().Div(close).Mul(hundred)
		score = score.Add(one.Div(one.Add(dist)))
	}
	return score, len(levels)
}
