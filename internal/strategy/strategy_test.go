package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/candlebuf"
	"msrengine/internal/indicator"
	"msrengine/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func mkCandle(symbol string, tf model.Timeframe, ts int64, o, h, l, c, v float64) model.Candle {
	return model.Candle{
		Symbol: symbol, Timeframe: tf, Timestamp: time.Unix(ts, 0).UTC(),
		Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d(v),
		IsClosed: true,
	}
}

func newTestEngine() (*Engine, *indicator.Engine) {
	cfg := DefaultConfig()
	indCfg := indicator.Config{EMAPeriod: 2, ATRPeriod: 2, FibPeriod: 2}
	ind := indicator.NewEngine(indCfg, candlebuf.NewSet(0))
	eng := New(cfg, ind, nil, nil, nil)
	return eng, ind
}

// warmUp feeds enough candles to clear EMA/ATR/Fib warm-up without
// producing a signal (flat, non-triggering candles).
func warmUp(t *testing.T, eng *Engine, symbol string, tf model.Timeframe) {
	t.Helper()
	ts := int64(0)
	for i := 0; i < 2; i++ {
		eng.ProcessCandle(context.Background(), mkCandle(symbol, tf, ts, 100, 101, 99, 100, 10), d(101), d(99))
		ts += 60
	}
}

func TestEngine_CalculateTPSL_Long(t *testing.T) {
	cfg := DefaultConfig()
	tp, sl := calculateTPSL(cfg, model.DirectionLong, d(50000), d(42), d(50050), d(49950))
	// tp_distance = 42*2=84, raw=50084, limit=50050+42=50092 -> min=50084
	if !tp.Equal(d(50084)) {
		t.Fatalf("tp = %v, want 50084", tp)
	}
	// sl_distance = 42*8.84=371.28, sl = 50000-371.28=49628.72
	if !sl.Equal(d(49628.72)) {
		t.Fatalf("sl = %v, want 49628.72", sl)
	}
}

func TestEngine_CalculateTPSL_Short(t *testing.T) {
	cfg := DefaultConfig()
	tp, sl := calculateTPSL(cfg, model.DirectionShort, d(50000), d(42), d(50050), d(49950))
	// tp_distance=84, raw=49916, limit=49950-42=49908 -> max=49916
	if !tp.Equal(d(49916)) {
		t.Fatalf("tp = %v, want 49916", tp)
	}
	if !sl.Equal(d(50371.28)) {
		t.Fatalf("sl = %v, want 50371.28", sl)
	}
}

func TestClassifyAndScore(t *testing.T) {
	close := d(100)
	support, resistance := classify(close, d(95), d(100), d(105), d(98))
	if len(support) != 3 || len(resistance) != 1 {
		t.Fatalf("expected 3 support (<=100) and 1 resistance (>100), got support=%v resistance=%v", support, resistance)
	}
	score, count := levelScore(close, support)
	if count != 3 || score.IsZero() {
		t.Fatalf("expected non-zero score over 3 levels, got score=%v count=%d", score, count)
	}
}

// Position-lock contention: a SHORT signal locks the
// (symbol, timeframe) key; a candle that would satisfy LONG is
// suppressed while the lock holds, and fires once the lock releases.
func TestEngine_PositionLockContention(t *testing.T) {
	eng, ind := newTestEngine()
	symbol, tf := "BTCUSDT", model.TF5m

	// Build an uptrend so close > EMA, then a bullish reversal touching a
	// support level to trigger SHORT.
	ts := int64(0)
	for i := 0; i < 2; i++ {
		eng.ProcessCandle(context.Background(), mkCandle(symbol, tf, ts, 100, 102, 98, 100+float64(i), 10), d(102), d(98))
		ts += 60
	}
	// Directly lock the key to simulate an already-active SHORT without
	// depending on indicator internals producing an exact trigger.
	eng.active[positionKey(symbol, tf)] = true

	c := mkCandle(symbol, tf, ts, 100, 101, 99, 99, 10)
	set, ready := ind.ComputeLatest(c)
	if !ready {
		t.Fatal("expected indicator set ready")
	}
	sig := eng.detectSignal(c, d(101), d(99), set)
	if sig != nil {
		t.Fatalf("expected no signal while position locked, got %+v", sig)
	}

	eng.RecordOutcome(context.Background(), model.OutcomeSL, symbol, tf)
	if eng.active[positionKey(symbol, tf)] {
		t.Fatal("expected lock released after RecordOutcome")
	}
	sig = eng.detectSignal(c, d(101), d(99), set)
	if sig == nil || sig.Direction != model.DirectionLong {
		t.Fatalf("expected LONG once the lock is released, got %+v", sig)
	}
}

// Save failure: save_signal errors on the first call, so
// the engine returns no signal, keeps the lock clear, and calls no
// listener; the second matching candle then succeeds normally.
func TestEngine_SaveFailureDoesNotLock(t *testing.T) {
	eng, _ := newTestEngine()
	symbol, tf := "BTCUSDT", model.TF5m
	warmUp(t, eng, symbol, tf)

	calls := 0
	eng.OnSaveSignal(func(ctx context.Context, s model.Signal) error {
		calls++
		if calls == 1 {
			return errors.New("write failed")
		}
		return nil
	})

	listenerFired := 0
	eng.Subscribe(func(s model.Signal) { listenerFired++ })

	// After the flat warm-up, a bullish candle closing above EMA whose low
	// reaches the nearest support level triggers SHORT.
	trigger := func(ts int64, prevHigh, prevLow float64) *model.Signal {
		c := mkCandle(symbol, tf, ts, 100, 102, 98, 101, 10)
		return eng.ProcessCandle(context.Background(), c, d(prevHigh), d(prevLow))
	}

	if sig := trigger(120, 101, 99); sig != nil {
		t.Fatalf("expected no signal when save_signal fails, got %+v", sig)
	}
	if calls != 1 {
		t.Fatalf("expected the triggering candle to reach save_signal once, got %d calls", calls)
	}
	if eng.active[positionKey(symbol, tf)] {
		t.Fatal("lock must remain clear after a failed save")
	}
	if listenerFired != 0 {
		t.Fatalf("listeners must not fire on save failure, got %d calls", listenerFired)
	}

	sig2 := trigger(180, 102, 98)
	if sig2 == nil || sig2.Direction != model.DirectionShort {
		t.Fatalf("expected the second matching candle to emit SHORT, got %+v", sig2)
	}
	if !eng.active[positionKey(symbol, tf)] {
		t.Fatal("lock must be set after a successful save")
	}
	if listenerFired != 1 {
		t.Fatalf("expected one listener call after a successful save, got %d", listenerFired)
	}
}

func TestATRPercentileTracker_InsufficientHistoryRejects(t *testing.T) {
	tr := NewATRPercentileTracker(3)
	tr.Update("BTCUSDT:5m", d(10))
	tr.Update("BTCUSDT:5m", d(20))
	if _, ok := tr.Percentile("BTCUSDT:5m", d(15)); ok {
		t.Fatal("expected insufficient history to reject")
	}
}

func TestATRPercentileTracker_Percentile(t *testing.T) {
	tr := NewATRPercentileTracker(2)
	tr.Update("k", d(10))
	tr.Update("k", d(20))
	tr.Update("k", d(30))
	pct, ok := tr.Percentile("k", d(20))
	if !ok {
		t.Fatal("expected ready")
	}
	// 2 of 3 historical samples <= 20
	want := 2.0 / 3.0
	if diff := pct - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("percentile = %v, want %v", pct, want)
	}
}
