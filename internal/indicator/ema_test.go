package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEMA_NotReadyBeforePeriod(t *testing.T) {
	e := NewEMA(3)
	e.Update(dec(10))
	e.Update(dec(11))
	if v := e.Value(); v.Ready {
		t.Fatalf("expected not ready with 2/3 updates, got %v", v)
	}
}

func TestEMA_SeedsWithSMA(t *testing.T) {
	e := NewEMA(3)
	e.Update(dec(10))
	e.Update(dec(20))
	e.Update(dec(30))
	v := e.Value()
	if !v.Ready || !v.Decimal.Equal(dec(20)) {
		t.Fatalf("expected seeded SMA=20, got %v", v)
	}
}

func TestEMA_SmoothsAfterSeed(t *testing.T) {
	e := NewEMA(3)
	e.Update(dec(10))
	e.Update(dec(20))
	e.Update(dec(30)) // seed = 20
	e.Update(dec(40)) // k = 2/4 = 0.5 → 40*0.5 + 20*0.5 = 30
	v := e.Value()
	if !v.Ready || !v.Decimal.Equal(dec(30)) {
		t.Fatalf("expected ema=30, got %v", v)
	}
}

func TestATR_FirstUpdateHasNoPrevClose(t *testing.T) {
	a := NewATR(2)
	a.Update(dec(105), dec(95), dec(100)) // TR = high-low = 10
	a.Update(dec(108), dec(98), dec(103)) // TR = max(10, |108-100|=8, |98-100|=2) = 10
	v := a.Value()
	if !v.Ready || !v.Decimal.Equal(dec(10)) {
		t.Fatalf("expected seeded ATR=10, got %v", v)
	}
}

func TestATR_WilderSmoothingAfterSeed(t *testing.T) {
	a := NewATR(2)
	a.Update(dec(105), dec(95), dec(100))  // TR=10
	a.Update(dec(108), dec(98), dec(103))  // TR=10, seed avg = 10
	a.Update(dec(110), dec(100), dec(105)) // TR=max(10, |110-103|=7, |100-103|=3)=10
	v := a.Value()
	// Wilder: (10*(2-1) + 10) / 2 = 10
	if !v.Ready || !v.Decimal.Equal(dec(10)) {
		t.Fatalf("expected atr=10, got %v", v)
	}
}

func TestComputeFib_RequiresFullWindow(t *testing.T) {
	highs := []decimal.Decimal{dec(100), dec(105)}
	lows := []decimal.Decimal{dec(90), dec(95)}
	if _, ok := ComputeFib(highs, lows, 9); ok {
		t.Fatal("expected not ready with fewer than 9 samples")
	}
}

func TestComputeFib_Levels(t *testing.T) {
	highs := make([]decimal.Decimal, 9)
	lows := make([]decimal.Decimal, 9)
	for i := range highs {
		highs[i] = dec(100)
		lows[i] = dec(0)
	}
	highs[4] = dec(200) // HH = 200
	lows[4] = dec(-100) // LL = -100

	fib, ok := ComputeFib(highs, lows, 9)
	if !ok {
		t.Fatal("expected ready with 9 samples")
	}
	hh, ll := dec(200), dec(-100)
	span := hh.Sub(ll)
	want382 := hh.Sub(span.Mul(dec(0.382)))
	if !fib.Fib382.Equal(want382) {
		t.Fatalf("fib_382 = %v, want %v", fib.Fib382, want382)
	}
}

func TestComputeVWAP_TypicalPriceWeightedByVolume(t *testing.T) {
	highs := []decimal.Decimal{dec(110), dec(120)}
	lows := []decimal.Decimal{dec(90), dec(100)}
	closes := []decimal.Decimal{dec(100), dec(110)}
	volumes := []decimal.Decimal{dec(10), dec(30)}

	vwap, ok := ComputeVWAP(highs, lows, closes, volumes)
	if !ok {
		t.Fatal("expected ready with non-zero volume")
	}
	// typical1 = (110+90+100)/3 = 100, typical2 = (120+100+110)/3 = 110
	// vwap = (100*10 + 110*30) / 40 = (1000+3300)/40 = 107.5
	if !vwap.Equal(dec(107.5)) {
		t.Fatalf("vwap = %v, want 107.5", vwap)
	}
}

func TestComputeVWAP_ZeroVolumeNotReady(t *testing.T) {
	highs := []decimal.Decimal{dec(100)}
	lows := []decimal.Decimal{dec(90)}
	closes := []decimal.Decimal{dec(95)}
	volumes := []decimal.Decimal{dec(0)}
	if _, ok := ComputeVWAP(highs, lows, closes, volumes); ok {
		t.Fatal("expected not ready with zero total volume")
	}
}
