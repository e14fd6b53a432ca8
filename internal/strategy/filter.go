package strategy

import "github.com/shopspring/decimal"

// QualityFilter gates signal emission for one (symbol, timeframe) key.
// When a filter map is configured, a key absent from it — or present but
// disabled — rejects every signal for that key.
type QualityFilter struct {
	StreakLo        int
	StreakHi        int
	ATRPctThreshold decimal.Decimal // 0 disables the ATR-percentile check
	Enabled         bool
	PositionQty     decimal.Decimal
}

// ATRPercentileTracker maintains an expanding per-(symbol,timeframe)
// history of ATR readings, updated on every closed candle regardless of
// whether a signal fires — a biased sample (signal candles only) would
// skew the percentile.
type ATRPercentileTracker struct {
	minSamples int
	history    map[string][]decimal.Decimal
}

// NewATRPercentileTracker creates a tracker requiring minSamples
// observations before Percentile returns a usable value.
func NewATRPercentileTracker(minSamples int) *ATRPercentileTracker {
	return &ATRPercentileTracker{minSamples: minSamples, history: make(map[string][]decimal.Decimal)}
}

// Update records one more ATR observation for (symbol, timeframe).
func (t *ATRPercentileTracker) Update(key string, atr decimal.Decimal) {
	t.history[key] = append(t.history[key], atr)
}

// Percentile returns the empirical CDF value of atr within the key's
// history: (count of historical samples <= atr) / total. Returns
// ok=false if fewer than minSamples observations have been recorded.
func (t *ATRPercentileTracker) Percentile(key string, atr decimal.Decimal) (float64, bool) {
	hist := t.history[key]
	if len(hist) < t.minSamples {
		return 0, false
	}
	count := 0
	for _, h := range hist {
		if h.LessThanOrEqual(atr) {
			count++
		}
	}
	return float64(count) / float64(len(hist)), true
}
