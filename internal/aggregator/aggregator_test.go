package aggregator

import (
	"testing"

	"msrengine/internal/model"
)

func oneMin(ts, o, h, l, c, v float64) model.FastCandle {
	return model.FastCandle{
		Symbol: "BTCUSDT", Timeframe: model.TF1m, Timestamp: ts,
		Open: o, High: h, Low: l, Close: c, Volume: v, IsClosed: true,
	}
}

// Three 1m candles aggregate into one 3m candle preserving mass:
// open=first, close=last, high=max, low=min, volume=sum, ts=first.
func TestAggregator_3mEmissionPreservesMass(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)

	var emitted []model.FastCandle
	a.OnAggregatedCandle(func(c model.FastCandle) { emitted = append(emitted, c) })

	out := a.Add1m(oneMin(0, 100, 102, 99, 101, 10))
	if len(out) != 0 {
		t.Fatalf("expected no emission after 1 candle, got %d", len(out))
	}
	out = a.Add1m(oneMin(60, 101, 105, 100, 103, 20))
	if len(out) != 0 {
		t.Fatalf("expected no emission after 2 candles, got %d", len(out))
	}
	out = a.Add1m(oneMin(120, 103, 104, 98, 99, 15))
	if len(out) != 1 {
		t.Fatalf("expected emission after 3 candles, got %d", len(out))
	}

	c := out[0]
	if c.Timestamp != 0 || c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 99 || c.Volume != 45 || !c.IsClosed {
		t.Fatalf("unexpected aggregated candle: %+v", c)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected callback to fire once, got %d", len(emitted))
	}
}

func TestAggregator_IgnoresOpenCandles(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)

	forming := oneMin(0, 100, 102, 99, 101, 10)
	forming.IsClosed = false
	out := a.Add1m(forming)
	if out != nil {
		t.Fatalf("expected no emission for open candle, got %v", out)
	}
	cur, ok := a.Current1m("BTCUSDT")
	if !ok || cur.Close != 101 {
		t.Fatalf("expected current 1m snapshot to be updated, got %+v ok=%v", cur, ok)
	}
}

func TestAggregator_PartialDoesNotMutate(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)
	a.Add1m(oneMin(0, 100, 102, 99, 101, 10))

	p1, ok := a.Partial("BTCUSDT", model.TF3m)
	if !ok || p1.IsClosed {
		t.Fatalf("expected partial candle, got %+v ok=%v", p1, ok)
	}
	p2, _ := a.Partial("BTCUSDT", model.TF3m)
	if p1 != p2 {
		t.Fatalf("Partial should be idempotent: %+v != %+v", p1, p2)
	}

	out := a.Add1m(oneMin(60, 101, 105, 100, 103, 20))
	if len(out) != 0 {
		t.Fatalf("expected buffer still incomplete, got %d", len(out))
	}
}

func TestAggregator_ResetClearsBuffer(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)
	a.Add1m(oneMin(0, 100, 102, 99, 101, 10))
	a.Add1m(oneMin(60, 101, 105, 100, 103, 20))

	a.Reset("BTCUSDT")

	// Without reset, the next candle would complete the period (3rd of 3).
	// After reset, two more are needed again.
	out := a.Add1m(oneMin(120, 103, 104, 98, 99, 15))
	if len(out) != 0 {
		t.Fatalf("expected reset buffer to require 3 fresh candles, got emission %v", out)
	}
}

func TestAggregator_PrefillSeedsIncompletePeriod(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)

	history := []model.FastCandle{
		oneMin(0, 100, 101, 99, 100, 1),
		oneMin(60, 100, 102, 99, 101, 1),
		oneMin(120, 101, 103, 100, 102, 1),
		oneMin(180, 102, 104, 101, 103, 1), // belongs to the next 3m period (period_start=180)
	}
	a.Prefill("BTCUSDT", history)

	// Only the 180s candle (current incomplete period) should remain
	// buffered; two more 1m candles complete it.
	out := a.Add1m(oneMin(240, 103, 105, 102, 104, 1))
	if len(out) != 0 {
		t.Fatalf("expected no emission with only 2 candles in period, got %v", out)
	}
	out = a.Add1m(oneMin(300, 104, 106, 103, 105, 1))
	if len(out) != 1 {
		t.Fatalf("expected emission completing the prefilled period, got %d", len(out))
	}
	if out[0].Timestamp != 180 {
		t.Fatalf("expected aggregated candle to start at prefilled period, got ts=%v", out[0].Timestamp)
	}
}

func TestAggregator_CallbackPanicIsRecovered(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m}, nil)
	a.OnAggregatedCandle(func(c model.FastCandle) { panic("boom") })

	a.Add1m(oneMin(0, 100, 102, 99, 101, 10))
	a.Add1m(oneMin(60, 101, 105, 100, 103, 20))

	// Must not panic the test process.
	a.Add1m(oneMin(120, 103, 104, 98, 99, 15))
}
