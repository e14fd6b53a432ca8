package model

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func relErr(a decimal.Decimal, b float64) float64 {
	af, _ := a.Float64()
	if af == 0 {
		return math.Abs(b)
	}
	return math.Abs(af-b) / math.Abs(af)
}

// cold -> hot -> cold preserves id, symbol, timeframe, direction, and
// outcome exactly; timestamps to millisecond precision; prices to
// within 1e-6 relative error.
func TestSignalRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)
	cold := Signal{
		ID: NewSignalID(), StrategyName: "msr_retest_capture",
		Symbol: "BTCUSDT", Timeframe: TF5m, SignalTime: ts,
		Direction:  DirectionLong,
		EntryPrice: dec(50000.12), TPPrice: dec(50200.5), SLPrice: dec(49116.37),
		ATRAtSignal: dec(42.17), MaxATR: dec(43.01), StreakAtSignal: -2,
		MAERatio: dec(0.22), MFERatio: dec(0.11),
		Outcome: OutcomeActive,
	}

	back := FastToSignal(SignalToFast(cold))

	if back.ID != cold.ID || back.Symbol != cold.Symbol || back.Timeframe != cold.Timeframe {
		t.Fatalf("identity fields changed: %+v", back)
	}
	if back.Direction != cold.Direction || back.Outcome != cold.Outcome || back.StreakAtSignal != cold.StreakAtSignal {
		t.Fatalf("enum fields changed: %+v", back)
	}
	if !back.SignalTime.Equal(cold.SignalTime) {
		t.Fatalf("signal_time %v != %v", back.SignalTime, cold.SignalTime)
	}
	for _, pair := range []struct {
		name      string
		want, got decimal.Decimal
	}{
		{"entry", cold.EntryPrice, back.EntryPrice},
		{"tp", cold.TPPrice, back.TPPrice},
		{"sl", cold.SLPrice, back.SLPrice},
		{"atr", cold.ATRAtSignal, back.ATRAtSignal},
		{"max_atr", cold.MaxATR, back.MaxATR},
		{"mae", cold.MAERatio, back.MAERatio},
		{"mfe", cold.MFERatio, back.MFERatio},
	} {
		got, _ := pair.got.Float64()
		if relErr(pair.want, got) > 1e-6 {
			t.Fatalf("%s drifted beyond 1e-6: %v -> %v", pair.name, pair.want, pair.got)
		}
	}
	if !back.OutcomeTime.IsZero() || !back.OutcomePrice.IsZero() {
		t.Fatalf("active signal must keep outcome fields zero, got %+v", back)
	}
}

func TestSignalRoundTrip_ResolvedKeepsOutcomeFields(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	cold := Signal{
		ID: "sig-1", Symbol: "ETHUSDT", Timeframe: TF15m,
		SignalTime: ts, Direction: DirectionShort,
		EntryPrice: dec(3000), TPPrice: dec(2988), SLPrice: dec(3053),
		Outcome: OutcomeSL, OutcomeTime: ts.Add(7 * time.Minute), OutcomePrice: dec(3053),
	}

	back := FastToSignal(SignalToFast(cold))
	if back.Outcome != OutcomeSL {
		t.Fatalf("outcome changed: %v", back.Outcome)
	}
	if !back.OutcomeTime.Equal(cold.OutcomeTime) {
		t.Fatalf("outcome_time %v != %v", back.OutcomeTime, cold.OutcomeTime)
	}
	got, _ := back.OutcomePrice.Float64()
	if relErr(cold.OutcomePrice, got) > 1e-6 {
		t.Fatalf("outcome_price drifted: %v -> %v", cold.OutcomePrice, back.OutcomePrice)
	}
}

func TestCandleRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 1, 0, 0, time.UTC)
	cold := Candle{
		Symbol: "BTCUSDT", Timeframe: TF1m, Timestamp: ts,
		Open: dec(100.5), High: dec(102.25), Low: dec(99.75), Close: dec(101),
		Volume: dec(12.34), IsClosed: true,
	}
	back := FastToCandle(CandleToFast(cold))
	if back.Symbol != cold.Symbol || back.Timeframe != cold.Timeframe || back.IsClosed != cold.IsClosed {
		t.Fatalf("identity fields changed: %+v", back)
	}
	if !back.Timestamp.Equal(cold.Timestamp) {
		t.Fatalf("timestamp %v != %v", back.Timestamp, cold.Timestamp)
	}
	for _, pair := range []struct {
		name      string
		want, got decimal.Decimal
	}{
		{"open", cold.Open, back.Open}, {"high", cold.High, back.High},
		{"low", cold.Low, back.Low}, {"close", cold.Close, back.Close},
		{"volume", cold.Volume, back.Volume},
	} {
		got, _ := pair.got.Float64()
		if relErr(pair.want, got) > 1e-6 {
			t.Fatalf("%s drifted beyond 1e-6: %v -> %v", pair.name, pair.want, pair.got)
		}
	}
}

func TestFastSignal_UpdateExcursion_Monotonic(t *testing.T) {
	fs := FastSignal{
		Direction: DirectionLong, EntryPrice: 50000, TPPrice: 50200, SLPrice: 49116,
		Outcome: OutcomeActive,
	}

	prices := []float64{49800, 49500, 50000, 50100, 49900}
	var lastMAE, lastMFE float64
	for _, p := range prices {
		fs.UpdateExcursion(p)
		if fs.MAERatio < lastMAE {
			t.Fatalf("mae_ratio decreased at price %v: %v < %v", p, fs.MAERatio, lastMAE)
		}
		if fs.MFERatio < lastMFE {
			t.Fatalf("mfe_ratio decreased at price %v: %v < %v", p, fs.MFERatio, lastMFE)
		}
		lastMAE, lastMFE = fs.MAERatio, fs.MFERatio
	}

	if math.Abs(lastMAE-500.0/884.0) > 1e-9 {
		t.Fatalf("mae_ratio = %v, want 500/884", lastMAE)
	}
	if math.Abs(lastMFE-100.0/884.0) > 1e-9 {
		t.Fatalf("mfe_ratio = %v, want 100/884", lastMFE)
	}
}

func TestFastSignal_CheckOutcomeTick_ExactBoundaries(t *testing.T) {
	long := FastSignal{Direction: DirectionLong, EntryPrice: 100, TPPrice: 110, SLPrice: 90, Outcome: OutcomeActive}
	if !long.CheckOutcomeTick(110, 1) || long.Outcome != OutcomeTP {
		t.Fatalf("LONG at price==tp must resolve TP, got %+v", long)
	}

	long2 := FastSignal{Direction: DirectionLong, EntryPrice: 100, TPPrice: 110, SLPrice: 90, Outcome: OutcomeActive}
	if !long2.CheckOutcomeTick(90, 1) || long2.Outcome != OutcomeSL {
		t.Fatalf("LONG at price==sl must resolve SL, got %+v", long2)
	}
}

func TestFastSignal_CheckOutcomeKline_PessimisticDual(t *testing.T) {
	fs := FastSignal{Direction: DirectionLong, EntryPrice: 100, TPPrice: 110, SLPrice: 90, Outcome: OutcomeActive}
	if !fs.CheckOutcomeKline(120, 80, 1) {
		t.Fatal("expected resolution on a range crossing both levels")
	}
	if fs.Outcome != OutcomeSL {
		t.Fatalf("dual crossing must resolve SL, got %v", fs.Outcome)
	}
	if fs.OutcomePrice != 90 {
		t.Fatalf("expected outcome at sl_price, got %v", fs.OutcomePrice)
	}
}

func TestFastSignal_ResolvedIsFrozen(t *testing.T) {
	fs := FastSignal{Direction: DirectionShort, EntryPrice: 3000, TPPrice: 2988, SLPrice: 3053, Outcome: OutcomeActive}
	fs.CheckOutcomeTick(3053, 5)
	if fs.Outcome != OutcomeSL {
		t.Fatalf("setup: expected SL, got %v", fs.Outcome)
	}
	if fs.CheckOutcomeTick(2988, 6) {
		t.Fatal("a resolved signal must never resolve again")
	}
	if fs.OutcomePrice != 3053 || fs.OutcomeTime != 5 {
		t.Fatalf("resolved fields changed: %+v", fs)
	}
}

func TestStreakTracker_Transitions(t *testing.T) {
	tr := StreakTracker{Symbol: "BTCUSDT", Timeframe: TF5m}

	tr.RecordTP()
	tr.RecordTP()
	if tr.CurrentStreak != 2 || tr.TotalWins != 2 {
		t.Fatalf("after 2 TP: %+v", tr)
	}
	tr.RecordSL()
	if tr.CurrentStreak != -1 || tr.TotalLosses != 1 {
		t.Fatalf("after SL: %+v", tr)
	}
	tr.RecordSL()
	if tr.CurrentStreak != -2 {
		t.Fatalf("after 2nd SL: %+v", tr)
	}
	tr.RecordTP()
	if tr.CurrentStreak != 1 || tr.TotalWins != 3 {
		t.Fatalf("TP after losses must reset streak to 1: %+v", tr)
	}
}
