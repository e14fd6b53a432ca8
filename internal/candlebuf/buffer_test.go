package candlebuf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

func mkCandle(ts int64, close float64) model.Candle {
	return model.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: model.TF1m,
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(close),
		Low:       decimal.NewFromFloat(close),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(1),
		IsClosed:  true,
	}
}

func TestBuffer_AddAppends(t *testing.T) {
	b := New("BTCUSDT", model.TF1m, 0)
	b.Add(mkCandle(0, 100))
	b.Add(mkCandle(60, 110))

	if b.Len() != 2 {
		t.Fatalf("expected len=2, got %d", b.Len())
	}
	last, ok := b.Last()
	if !ok || !last.Close.Equal(decimal.NewFromFloat(110)) {
		t.Fatalf("expected last close=110, got %v ok=%v", last.Close, ok)
	}
}

func TestBuffer_AddReplacesSameTimestamp(t *testing.T) {
	b := New("BTCUSDT", model.TF1m, 0)
	b.Add(mkCandle(0, 100))
	b.Add(mkCandle(0, 105)) // same timestamp — replace in place

	if b.Len() != 1 {
		t.Fatalf("expected len=1 after replace, got %d", b.Len())
	}
	last, _ := b.Last()
	if !last.Close.Equal(decimal.NewFromFloat(105)) {
		t.Fatalf("expected replaced close=105, got %v", last.Close)
	}
}

func TestBuffer_EvictsOldestOverCapacity(t *testing.T) {
	b := New("BTCUSDT", model.TF1m, 3)
	for i := int64(0); i < 5; i++ {
		b.Add(mkCandle(i*60, float64(100+i)))
	}

	if b.Len() != 3 {
		t.Fatalf("expected len=3, got %d", b.Len())
	}
	closes := b.Closes()
	want := []float64{102, 103, 104}
	for i, w := range want {
		if !closes[i].Equal(decimal.NewFromFloat(w)) {
			t.Fatalf("index %d: expected close=%v, got %v", i, w, closes[i])
		}
	}
}

func TestBuffer_PrevRequiresTwo(t *testing.T) {
	b := New("BTCUSDT", model.TF1m, 0)
	if _, ok := b.Prev(); ok {
		t.Fatal("Prev on empty buffer should be false")
	}
	b.Add(mkCandle(0, 100))
	if _, ok := b.Prev(); ok {
		t.Fatal("Prev with one candle should be false")
	}
	b.Add(mkCandle(60, 110))
	prev, ok := b.Prev()
	if !ok || !prev.Close.Equal(decimal.NewFromFloat(100)) {
		t.Fatalf("expected prev close=100, got %v ok=%v", prev.Close, ok)
	}
}
