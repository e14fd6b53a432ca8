// Package tracker owns the live set of open signals, updates their
// MAE/MFE on every trade, detects TP/SL crossings, and surfaces
// outcomes to registered listeners.
//
// All mutations are serialized by a single exclusive lock. I/O (store,
// cache, listener callbacks) is performed outside the lock, operating on
// snapshots taken while the lock was held — listeners may observe an
// outcome before the next trade begins processing, but never during a
// resolution.
package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"msrengine/internal/model"
)

// DefaultUpdateInterval throttles how often an open signal's MAE/MFE is
// written to the store and cache.
const DefaultUpdateInterval = time.Second

// OutcomeListener is notified after a signal resolves (TP or SL), with
// its cold-path record.
type OutcomeListener func(model.Signal, model.Outcome)

// ListenerToken identifies a registered OutcomeListener for Unsubscribe.
type ListenerToken uint64

// Config carries the tracker's tunable parameters.
type Config struct {
	UpdateInterval time.Duration
}

// DefaultConfig returns the stock tracker configuration.
func DefaultConfig() Config { return Config{UpdateInterval: DefaultUpdateInterval} }

// CacheStats reports the cache-then-store fallback's hit accounting.
type CacheStats struct {
	Hits    int
	Misses  int
	HitRate float64
}

// Tracker is the live position tracker. Construct with New; safe for
// concurrent use across goroutines via its internal mutex.
type Tracker struct {
	mu   sync.Mutex
	open map[string][]*model.FastSignal // keyed by symbol
	last map[string]time.Time           // last store/cache sync, keyed by signal ID

	store model.SignalStore
	cache model.SignalCache
	cfg   Config

	listeners map[ListenerToken]OutcomeListener
	nextToken ListenerToken

	cacheHits   int
	cacheMisses int

	log *slog.Logger
}

// New creates a Tracker backed by store (durable) and cache (fast-path,
// may be nil to disable caching entirely).
func New(store model.SignalStore, cache model.SignalCache, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	return &Tracker{
		open:      make(map[string][]*model.FastSignal),
		last:      make(map[string]time.Time),
		store:     store,
		cache:     cache,
		cfg:       cfg,
		listeners: make(map[ListenerToken]OutcomeListener),
		log:       logger,
	}
}

// Subscribe registers an outcome listener and returns a token for
// Unsubscribe. Listener panics are recovered and logged.
func (t *Tracker) Subscribe(fn OutcomeListener) ListenerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextToken++
	tok := t.nextToken
	t.listeners[tok] = fn
	return tok
}

// Unsubscribe removes a previously registered listener.
func (t *Tracker) Unsubscribe(tok ListenerToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, tok)
}

// LoadActive populates the tracker from the signal cache; on an empty
// or failing cache it falls back to the signal store and synchronously
// re-populates the cache so the next startup is fast.
func (t *Tracker) LoadActive(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = make(map[string][]*model.FastSignal)

	if t.cache != nil {
		cached, err := t.cache.GetAllSignals(ctx)
		if err == nil && len(cached) > 0 {
			t.cacheHits++
			for i := range cached {
				fs := cached[i]
				t.open[fs.Symbol] = append(t.open[fs.Symbol], &fs)
			}
			t.log.Info("tracker: loaded active signals from cache", "count", t.activeCountLocked())
			return nil
		}
		t.cacheMisses++
	}

	signals, err := t.store.GetActive(ctx, "")
	if err != nil {
		return err
	}
	for _, s := range signals {
		fs := model.SignalToFast(s)
		t.open[fs.Symbol] = append(t.open[fs.Symbol], &fs)
	}
	t.log.Info("tracker: loaded active signals from store", "count", t.activeCountLocked())

	if t.cache != nil {
		for _, signals := range t.open {
			for _, fs := range signals {
				if err := t.cache.CacheSignal(ctx, *fs); err != nil {
					t.log.Warn("tracker: cache sync-back failed", "signal_id", fs.ID, "error", err)
				}
			}
		}
	}
	return nil
}

func (t *Tracker) activeCountLocked() int {
	n := 0
	for _, s := range t.open {
		n += len(s)
	}
	return n
}

// Add inserts a newly emitted signal and writes it to the cache.
// Cache failure is non-fatal (warn + continue).
func (t *Tracker) Add(ctx context.Context, s model.Signal) {
	fs := model.SignalToFast(s)

	t.mu.Lock()
	t.open[fs.Symbol] = append(t.open[fs.Symbol], &fs)
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.CacheSignal(ctx, fs); err != nil {
			t.log.Warn("tracker: cache_signal failed", "signal_id", fs.ID, "error", err)
		}
	}
}

// syncItem is a signal whose MAE/MFE/max_atr needs a throttled
// store+cache write.
type syncItem struct{ signal model.FastSignal }

// resolved is a signal that just hit TP or SL.
type resolved struct{ signal model.FastSignal }

// ProcessTrade is the live, tick-driven update path: a single price
// observation cannot satisfy both the TP and SL condition, so there is
// no pessimistic tie-break here (see ProcessCandle for the
// kline-driven/backtest path, which can).
func (t *Tracker) ProcessTrade(ctx context.Context, trade model.FastTrade) {
	var toSync []syncItem
	var toResolve []resolved

	t.mu.Lock()
	signals := t.open[trade.Symbol]
	if len(signals) == 0 {
		t.mu.Unlock()
		return
	}

	remaining := signals[:0]
	now := time.Now()
	for _, fs := range signals {
		if fs.CheckOutcomeTick(trade.Price, trade.Timestamp) {
			toResolve = append(toResolve, resolved{signal: *fs})
			delete(t.last, fs.ID)
			continue
		}

		fs.UpdateExcursion(trade.Price)
		remaining = append(remaining, fs)

		if lastUpdate, ok := t.last[fs.ID]; !ok || now.Sub(lastUpdate) >= t.cfg.UpdateInterval {
			toSync = append(toSync, syncItem{signal: *fs})
			t.last[fs.ID] = now
		}
	}
	if len(remaining) == 0 {
		delete(t.open, trade.Symbol)
	} else {
		t.open[trade.Symbol] = remaining
	}
	t.mu.Unlock()

	t.handleResolutions(ctx, toResolve)
	t.handleSyncs(ctx, toSync)
}

// ProcessCandle is the kline-driven/backtest update path. When a
// candle's high/low range would satisfy both TP and SL, the pessimistic
// rule applies: resolve as SL.
func (t *Tracker) ProcessCandle(ctx context.Context, symbol string, high, low, ts float64) {
	var toResolve []resolved

	t.mu.Lock()
	signals := t.open[symbol]
	if len(signals) == 0 {
		t.mu.Unlock()
		return
	}

	remaining := signals[:0]
	for _, fs := range signals {
		if fs.CheckOutcomeKline(high, low, ts) {
			toResolve = append(toResolve, resolved{signal: *fs})
			delete(t.last, fs.ID)
			continue
		}
		remaining = append(remaining, fs)
	}
	if len(remaining) == 0 {
		delete(t.open, symbol)
	} else {
		t.open[symbol] = remaining
	}
	t.mu.Unlock()

	t.handleResolutions(ctx, toResolve)
}

// UpdateMaxATR raises max_atr for every open signal on (symbol,
// timeframe). Called by the replay pipeline once per closed candle.
func (t *Tracker) UpdateMaxATR(symbol string, tf model.Timeframe, atr float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, fs := range t.open[symbol] {
		if fs.Timeframe == tf && fs.IsActive() {
			fs.UpdateMaxATR(atr)
		}
	}
}

func (t *Tracker) handleResolutions(ctx context.Context, items []resolved) {
	for _, r := range items {
		fs := r.signal
		t.log.Info("tracker: outcome", "signal_id", fs.ID, "symbol", fs.Symbol,
			"outcome", fs.Outcome, "entry", fs.EntryPrice, "exit", fs.OutcomePrice)

		if t.cache != nil {
			if err := t.cache.RemoveSignal(ctx, fs.ID, fs.Symbol); err != nil {
				t.log.Warn("tracker: remove_signal failed", "signal_id", fs.ID, "error", err)
			}
		}

		cold := model.FastToSignal(fs)
		if err := t.store.UpdateOutcome(ctx, fs.ID, fs.MAERatio, fs.MFERatio,
			fs.Outcome, cold.OutcomeTime, fs.OutcomePrice, fs.MaxATR); err != nil {
			t.log.Error("tracker: update_outcome failed", "signal_id", fs.ID, "error", err)
		}

		// Tokens increase monotonically, so ascending token order is
		// registration order.
		t.mu.Lock()
		toks := make([]ListenerToken, 0, len(t.listeners))
		for tok := range t.listeners {
			toks = append(toks, tok)
		}
		sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
		listeners := make([]OutcomeListener, 0, len(toks))
		for _, tok := range toks {
			listeners = append(listeners, t.listeners[tok])
		}
		t.mu.Unlock()

		for _, fn := range listeners {
			t.safeNotify(fn, cold, fs.Outcome)
		}
	}
}

func (t *Tracker) safeNotify(fn OutcomeListener, s model.Signal, o model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tracker: outcome listener panic", "recovered", r, "signal_id", s.ID)
		}
	}()
	fn(s, o)
}

func (t *Tracker) handleSyncs(ctx context.Context, items []syncItem) {
	for _, it := range items {
		fs := it.signal
		if err := t.store.UpdateOutcome(ctx, fs.ID, fs.MAERatio, fs.MFERatio,
			fs.Outcome, time.Time{}, fs.OutcomePrice, fs.MaxATR); err != nil {
			t.log.Warn("tracker: MAE/MFE sync to store failed", "signal_id", fs.ID, "error", err)
			continue
		}
		if t.cache != nil {
			if err := t.cache.UpdateSignal(ctx, fs); err != nil {
				t.log.Warn("tracker: MAE/MFE sync to cache failed", "signal_id", fs.ID, "error", err)
			}
		}
	}
}

// CacheStats returns cache hit/miss counters accumulated by LoadActive.
func (t *Tracker) CacheStats() CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.cacheHits + t.cacheMisses
	rate := 0.0
	if total > 0 {
		rate = float64(t.cacheHits) / float64(total)
	}
	return CacheStats{Hits: t.cacheHits, Misses: t.cacheMisses, HitRate: rate}
}

// ActiveCount returns the total number of open signals across all
// symbols.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeCountLocked()
}

// ActiveSignals returns a snapshot copy of open signals, optionally
// filtered to one symbol (empty string means all).
func (t *Tracker) ActiveSignals(symbol string) []model.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fast []model.FastSignal
	if symbol != "" {
		for _, fs := range t.open[symbol] {
			fast = append(fast, *fs)
		}
	} else {
		for _, signals := range t.open {
			for _, fs := range signals {
				fast = append(fast, *fs)
			}
		}
	}

	out := make([]model.Signal, len(fast))
	for i, fs := range fast {
		out[i] = model.FastToSignal(fs)
	}
	return out
}
