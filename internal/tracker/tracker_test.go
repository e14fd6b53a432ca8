package tracker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/model"
)

// memStore is a minimal in-memory model.SignalStore for tests.
type memStore struct {
	mu      sync.Mutex
	signals map[string]model.Signal
}

func newMemStore() *memStore { return &memStore{signals: make(map[string]model.Signal)} }

func (m *memStore) Save(ctx context.Context, s model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[s.ID] = s
	return nil
}

func (m *memStore) UpdateOutcome(ctx context.Context, id string, maeRatio, mfeRatio float64, outcome model.Outcome, outcomeTime time.Time, outcomePrice, maxATR float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.signals[id]
	s.MAERatio = decimal.NewFromFloat(maeRatio)
	s.MFERatio = decimal.NewFromFloat(mfeRatio)
	s.Outcome = outcome
	s.OutcomeTime = outcomeTime
	s.OutcomePrice = decimal.NewFromFloat(outcomePrice)
	s.MaxATR = decimal.NewFromFloat(maxATR)
	m.signals[id] = s
	return nil
}

func (m *memStore) GetActive(ctx context.Context, symbol string) ([]model.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Signal
	for _, s := range m.signals {
		if s.Outcome == model.OutcomeActive && (symbol == "" || s.Symbol == symbol) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Stats(ctx context.Context) (model.SignalStats, error) {
	return model.SignalStats{}, nil
}

// memCache is a minimal in-memory model.SignalCache; failNext forces the
// next call to error, for testing non-fatal cache-failure handling.
type memCache struct {
	mu       sync.Mutex
	signals  map[string]model.FastSignal
	failNext bool
}

func newMemCache() *memCache { return &memCache{signals: make(map[string]model.FastSignal)} }

func (c *memCache) maybeFail() error {
	if c.failNext {
		c.failNext = false
		return errors.New("cache unavailable")
	}
	return nil
}

func (c *memCache) CacheSignal(ctx context.Context, s model.FastSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.maybeFail(); err != nil {
		return err
	}
	c.signals[s.ID] = s
	return nil
}

func (c *memCache) UpdateSignal(ctx context.Context, s model.FastSignal) error {
	return c.CacheSignal(ctx, s)
}

func (c *memCache) RemoveSignal(ctx context.Context, id, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, id)
	return nil
}

func (c *memCache) GetAllSignals(ctx context.Context) ([]model.FastSignal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.FastSignal
	for _, s := range c.signals {
		out = append(out, s)
	}
	return out, nil
}

func (c *memCache) GetSignalsBySymbol(ctx context.Context, symbol string) ([]model.FastSignal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.FastSignal
	for _, s := range c.signals {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out, nil
}

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

// A LONG signal's MAE/MFE ratios track adverse and favorable ticks
// until a tick at tp_price resolves it TP.
func TestTracker_LongMAEMFEOnTickStream(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, Config{UpdateInterval: 0}, nil)

	sig := model.Signal{
		ID: "sigA", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(50000),
		TPPrice: decimal.NewFromInt(50200), SLPrice: decimal.NewFromInt(49116),
		Outcome: model.OutcomeActive,
	}
	tr.Add(context.Background(), sig)

	ticks := []float64{49800, 49500, 50000, 50100, 50200}
	var lastMAE, lastMFE float64
	for _, price := range ticks {
		tr.ProcessTrade(context.Background(), model.FastTrade{Symbol: "BTCUSDT", Price: price, Timestamp: 0})
		fs := tr.open["BTCUSDT"]
		if len(fs) > 0 {
			lastMAE, lastMFE = fs[0].MAERatio, fs[0].MFERatio
		}
	}

	if !approxEqual(lastMAE, 0.5656) {
		t.Fatalf("expected mae~0.5656 before resolution, got %v", lastMAE)
	}
	if !approxEqual(lastMFE, 0.1131) {
		t.Fatalf("expected mfe~0.1131 before resolution, got %v", lastMFE)
	}

	stored := store.signals["sigA"]
	if stored.Outcome != model.OutcomeTP {
		t.Fatalf("expected TP outcome, got %v", stored.Outcome)
	}
	if !stored.OutcomePrice.Equal(decimal.NewFromInt(50200)) {
		t.Fatalf("expected outcome_price=50200, got %v", stored.OutcomePrice)
	}
}

// A SHORT signal resolves SL on a tick exactly at sl_price.
func TestTracker_ShortSLOnTickStream(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, Config{UpdateInterval: 0}, nil)

	sig := model.Signal{
		ID: "sigB", Symbol: "ETHUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionShort, EntryPrice: decimal.NewFromInt(3000),
		TPPrice: decimal.NewFromInt(2988), SLPrice: decimal.NewFromInt(3053),
		Outcome: model.OutcomeActive,
	}
	tr.Add(context.Background(), sig)

	tr.ProcessTrade(context.Background(), model.FastTrade{Symbol: "ETHUSDT", Price: 3053, Timestamp: 0})

	stored := store.signals["sigB"]
	if stored.Outcome != model.OutcomeSL {
		t.Fatalf("expected SL outcome, got %v", stored.Outcome)
	}
	if !stored.OutcomePrice.Equal(decimal.NewFromInt(3053)) {
		t.Fatalf("expected outcome_price=3053, got %v", stored.OutcomePrice)
	}
}

func TestTracker_ProcessCandle_PessimisticDualResolution(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, Config{UpdateInterval: 0}, nil)

	sig := model.Signal{
		ID: "sigC", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(100),
		TPPrice: decimal.NewFromInt(110), SLPrice: decimal.NewFromInt(90),
		Outcome: model.OutcomeActive,
	}
	tr.Add(context.Background(), sig)

	// Wide candle range satisfies both TP (high>=110) and SL (low<=90).
	tr.ProcessCandle(context.Background(), "BTCUSDT", 120, 80, 0)

	stored := store.signals["sigC"]
	if stored.Outcome != model.OutcomeSL {
		t.Fatalf("expected pessimistic SL resolution, got %v", stored.Outcome)
	}
}

func TestTracker_LoadActive_CacheHitThenMissFallback(t *testing.T) {
	store := newMemStore()
	store.signals["existing"] = model.Signal{
		ID: "existing", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(100),
		TPPrice: decimal.NewFromInt(110), SLPrice: decimal.NewFromInt(90),
		Outcome: model.OutcomeActive,
	}

	cache := newMemCache()
	tr := New(store, cache, Config{UpdateInterval: 0}, nil)

	if err := tr.LoadActive(context.Background()); err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if tr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active signal loaded from store fallback, got %d", tr.ActiveCount())
	}
	stats := tr.CacheStats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("expected 1 cache miss on empty cache, got %+v", stats)
	}

	// Second load should now hit the cache (synced back by the first load).
	tr2 := New(store, cache, Config{UpdateInterval: 0}, nil)
	if err := tr2.LoadActive(context.Background()); err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	stats2 := tr2.CacheStats()
	if stats2.Hits != 1 {
		t.Fatalf("expected cache hit on second load, got %+v", stats2)
	}
}

func TestTracker_CacheFailureIsNonFatal(t *testing.T) {
	store := newMemStore()
	cache := newMemCache()
	cache.failNext = true
	tr := New(store, cache, Config{UpdateInterval: 0}, nil)

	sig := model.Signal{
		ID: "sigD", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(100),
		TPPrice: decimal.NewFromInt(110), SLPrice: decimal.NewFromInt(90),
		Outcome: model.OutcomeActive,
	}
	// Must not panic despite the forced cache failure.
	tr.Add(context.Background(), sig)

	if tr.ActiveCount() != 1 {
		t.Fatalf("expected signal tracked despite cache failure, got count=%d", tr.ActiveCount())
	}
}

func TestTracker_UpdateMaxATR(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, Config{UpdateInterval: 0}, nil)

	sig := model.Signal{
		ID: "sigE", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(100),
		TPPrice: decimal.NewFromInt(110), SLPrice: decimal.NewFromInt(90),
		ATRAtSignal: decimal.NewFromInt(5), MaxATR: decimal.NewFromInt(5),
		Outcome: model.OutcomeActive,
	}
	tr.Add(context.Background(), sig)

	tr.UpdateMaxATR("BTCUSDT", model.TF5m, 7)
	fs := tr.open["BTCUSDT"][0]
	if fs.MaxATR != 7 {
		t.Fatalf("expected max_atr raised to 7, got %v", fs.MaxATR)
	}

	tr.UpdateMaxATR("BTCUSDT", model.TF5m, 3)
	fs = tr.open["BTCUSDT"][0]
	if fs.MaxATR != 7 {
		t.Fatalf("expected max_atr to stay at 7 (monotonic), got %v", fs.MaxATR)
	}
}

func TestTracker_OutcomeListenerPanicRecovered(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, Config{UpdateInterval: 0}, nil)
	tr.Subscribe(func(s model.Signal, o model.Outcome) { panic("boom") })

	sig := model.Signal{
		ID: "sigF", Symbol: "BTCUSDT", Timeframe: model.TF5m,
		Direction: model.DirectionLong, EntryPrice: decimal.NewFromInt(100),
		TPPrice: decimal.NewFromInt(110), SLPrice: decimal.NewFromInt(90),
		Outcome: model.OutcomeActive,
	}
	tr.Add(context.Background(), sig)

	// Must not panic the test process despite the listener panicking.
	tr.ProcessTrade(context.Background(), model.FastTrade{Symbol: "BTCUSDT", Price: 110, Timestamp: 0})
}
