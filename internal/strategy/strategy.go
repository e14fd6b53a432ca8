// Package strategy implements the MSR Retest Capture rule: level
// classification against EMA/Fibonacci/VWAP, LONG/SHORT trigger
// detection, TP/SL pricing, streak tracking, per-key position locks,
// and an optional signal quality filter.
//
// This package is pure business logic with no I/O of its own — signal
// persistence and streak persistence are injected callbacks, so the
// same engine drives both live trading and backtests.
package strategy

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"msrengine/internal/indicator"
	"msrengine/internal/model"
)

// minScoreThreshold is the minimum support/resistance score required to
// trigger a signal.
var minScoreThreshold = decimal.NewFromInt(1)

// Config carries the strategy's tunable parameters.
type Config struct {
	EMAPeriod      int
	FibPeriod      int
	ATRPeriod      int
	TPMult         decimal.Decimal
	SLMult         decimal.Decimal
	TouchTolerance decimal.Decimal // unused by the default rule; carried for parity
}

// DefaultConfig returns the strategy's stock parameters. SLMult is the
// literal 8.84, never derived from TPMult*4.42 at runtime: deriving it
// risks rounding drift between call sites.
func DefaultConfig() Config {
	return Config{
		EMAPeriod: 50, FibPeriod: 9, ATRPeriod: 9,
		TPMult: decimal.NewFromFloat(2.0), SLMult: decimal.NewFromFloat(8.84),
		TouchTolerance: decimal.NewFromFloat(0.001),
	}
}

// SaveSignalFunc persists a newly detected signal. A non-nil error
// aborts the emission: no lock, no listener notification.
type SaveSignalFunc func(ctx context.Context, s model.Signal) error

// SaveStreakFunc persists updated streak tracker state.
type SaveStreakFunc func(ctx context.Context, t model.StreakTracker) error

// ListenerToken identifies a registered signal listener for Unsubscribe.
// Closures have no usable identity to dedup registrations by value, so
// registration returns an opaque token instead: one token, one listener.
type ListenerToken uint64

// SignalListener is notified after a signal is saved and locked.
type SignalListener func(model.Signal)

// Engine is the MSR Retest Capture rule engine. Single-owner: not safe
// for concurrent use from multiple goroutines.
type Engine struct {
	cfg Config
	ind *indicator.Engine

	streaks map[string]*model.StreakTracker
	active  map[string]bool // key = symbol:timeframe

	filters    map[string]QualityFilter // nil = no filters configured, all pass
	atrTracker *ATRPercentileTracker

	saveSignal SaveSignalFunc
	saveStreak SaveStreakFunc

	listeners map[ListenerToken]SignalListener
	nextToken ListenerToken

	log *slog.Logger
}

// New creates an Engine. ind supplies EMA/ATR/Fib/VWAP readings per
// closed candle; filters may be nil to disable quality filtering. A nil
// atrTracker rejects every signal whose filter sets an ATR-percentile
// threshold.
func New(cfg Config, ind *indicator.Engine, filters map[string]QualityFilter, atrTracker *ATRPercentileTracker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg: cfg, ind: ind,
		streaks: make(map[string]*model.StreakTracker),
		active:  make(map[string]bool),
		filters: filters, atrTracker: atrTracker,
		listeners: make(map[ListenerToken]SignalListener),
		log:       logger,
	}
}

// OnSaveSignal wires the signal-persistence callback.
func (e *Engine) OnSaveSignal(fn SaveSignalFunc) { e.saveSignal = fn }

// OnSaveStreak wires the streak-persistence callback.
func (e *Engine) OnSaveStreak(fn SaveStreakFunc) { e.saveStreak = fn }

// Subscribe registers a signal listener and returns a token for
// Unsubscribe. Listener panics are recovered and logged, never
// propagated.
func (e *Engine) Subscribe(fn SignalListener) ListenerToken {
	e.nextToken++
	tok := e.nextToken
	e.listeners[tok] = fn
	return tok
}

// Unsubscribe removes a previously registered listener.
func (e *Engine) Unsubscribe(tok ListenerToken) { delete(e.listeners, tok) }

// RestoreActivePositions marks (symbol, timeframe) keys as locked from a
// previously loaded set of active signals — called once at startup
// after load_active_signals.
func (e *Engine) RestoreActivePositions(signals []model.Signal) {
	for _, s := range signals {
		e.active[positionKey(s.Symbol, s.Timeframe)] = true
	}
}

// RestoreStreaks seeds streak tracker state from a previously loaded
// cache — called once at startup after load_streaks.
func (e *Engine) RestoreStreaks(trackers map[string]model.StreakTracker) {
	for k, t := range trackers {
		cp := t
		e.streaks[k] = &cp
	}
}

func positionKey(symbol string, tf model.Timeframe) string { return symbol + ":" + string(tf) }

func (e *Engine) streakFor(symbol string, tf model.Timeframe) *model.StreakTracker {
	key := positionKey(symbol, tf)
	t, ok := e.streaks[key]
	if !ok {
		t = &model.StreakTracker{Symbol: symbol, Timeframe: tf}
		e.streaks[key] = t
	}
	return t
}

// calculateTPSL prices a narrow take profit against a wide stop, with
// min/max capping so TP never exceeds the triggering candle's extreme
// plus one ATR — otherwise a candle whose extreme already passed
// entry±tp_distance would leave TP unreachable.
func calculateTPSL(cfg Config, dir model.Direction, entry, atr, high, low decimal.Decimal) (tp, sl decimal.Decimal) {
	tpDistance := atr.Mul(cfg.TPMult)
	slDistance := atr.Mul(cfg.SLMult)

	if dir == model.DirectionLong {
		tpRaw := entry.Add(tpDistance)
		tpLimit := high.Add(atr)
		tp = decimal.Min(tpRaw, tpLimit)
		sl = entry.Sub(slDistance)
		return tp, sl
	}

	tpRaw := entry.Sub(tpDistance)
	tpLimit := low.Sub(atr)
	tp = decimal.Max(tpRaw, tpLimit)
	sl = entry.Add(slDistance)
	return tp, sl
}

// detectSignal evaluates the MSR LONG/SHORT triggers against a closed
// candle and its computed indicator set. Returns nil if no active
// position lock is free for this (symbol, timeframe) key, or if no
// trigger condition holds.
func (e *Engine) detectSignal(c model.Candle, prevHigh, prevLow decimal.Decimal, set indicator.Set) *model.Signal {
	key := positionKey(c.Symbol, c.Timeframe)
	if e.active[key] {
		return nil
	}

	support, resistance := classify(c.Close, set.Fib382, set.Fib500, set.Fib618, set.VWAP)
	nearSupport, hasSupport := nearestSupport(c.Close, support)
	nearResistance, hasResistance := nearestResistance(c.Close, resistance)
	supportScore, supportCount := levelScore(c.Close, support)
	resistanceScore, resistanceCount := levelScore(c.Close, resistance)

	uptrend := c.Close.GreaterThan(set.EMA)
	downtrend := c.Close.LessThan(set.EMA)
	isBullish := c.Close.GreaterThan(c.Open)
	isBearish := c.Close.LessThan(c.Open)

	// SHORT: uptrend, retest of support from below, bullish reversal candle.
	if uptrend && supportCount >= 1 && supportScore.GreaterThanOrEqual(minScoreThreshold) && hasSupport {
		touched := c.Low.LessThanOrEqual(nearSupport) || prevLow.LessThanOrEqual(nearSupport)
		if touched && isBullish {
			return e.buildSignal(c, model.DirectionShort, set.ATR)
		}
	}

	// LONG: downtrend, retest of resistance from above, bearish reversal candle.
	if downtrend && resistanceCount >= 1 && resistanceScore.GreaterThanOrEqual(minScoreThreshold) && hasResistance {
		touched := c.High.GreaterThanOrEqual(nearResistance) || prevHigh.GreaterThanOrEqual(nearResistance)
		if touched && isBearish {
			return e.buildSignal(c, model.DirectionLong, set.ATR)
		}
	}

	return nil
}

func (e *Engine) buildSignal(c model.Candle, dir model.Direction, atr decimal.Decimal) *model.Signal {
	tp, sl := calculateTPSL(e.cfg, dir, c.Close, atr, c.High, c.Low)
	streak := e.streakFor(c.Symbol, c.Timeframe)
	return &model.Signal{
		ID: model.NewSignalID(), StrategyName: "msr_retest_capture",
		Symbol: c.Symbol, Timeframe: c.Timeframe, SignalTime: c.Timestamp,
		Direction: dir, EntryPrice: c.Close, TPPrice: tp, SLPrice: sl,
		ATRAtSignal: atr, MaxATR: atr, StreakAtSignal: streak.CurrentStreak,
		Outcome: model.OutcomeActive,
	}
}

// passesFilter applies the optional quality filter: reject for safety
// on any missing configuration or insufficient data.
func (e *Engine) passesFilter(s model.Signal, atr decimal.Decimal) bool {
	if e.filters == nil {
		return true
	}
	key := positionKey(s.Symbol, s.Timeframe)
	fc, ok := e.filters[key]
	if !ok || !fc.Enabled {
		return false
	}

	if s.StreakAtSignal < fc.StreakLo || s.StreakAtSignal > fc.StreakHi {
		return false
	}

	if fc.ATRPctThreshold.GreaterThan(decimal.Zero) {
		if e.atrTracker == nil {
			e.log.Warn("strategy: atr_pct_threshold set but no ATR tracker", "key", key)
			return false
		}
		pct, ok := e.atrTracker.Percentile(key, atr)
		if !ok {
			return false
		}
		if decimal.NewFromFloat(pct).LessThanOrEqual(fc.ATRPctThreshold) {
			return false
		}
	}

	return true
}

// ProcessCandle is the main entry point: feed one closed candle
// (already appended to its indicator buffer by the caller's pipeline,
// or fed through ind.ComputeLatest here) and receive the signal it
// produces, if any.
//
// ATR history is updated for every closed candle regardless of outcome,
// so the percentile filter's expanding window reflects the whole
// market, not a biased subset of signal candles.
func (e *Engine) ProcessCandle(ctx context.Context, c model.Candle, prevHigh, prevLow decimal.Decimal) *model.Signal {
	if !c.IsClosed {
		return nil
	}

	set, ready := e.ind.ComputeLatest(c)
	if !ready {
		return nil
	}

	key := positionKey(c.Symbol, c.Timeframe)
	if e.atrTracker != nil {
		e.atrTracker.Update(key, set.ATR)
	}

	sig := e.detectSignal(c, prevHigh, prevLow, set)
	if sig == nil {
		return nil
	}

	if !e.passesFilter(*sig, set.ATR) {
		return nil
	}

	if e.saveSignal != nil {
		if err := e.saveSignal(ctx, *sig); err != nil {
			e.log.Error("strategy: save_signal failed, signal will not be tracked", "id", sig.ID, "error", err)
			return nil
		}
	}

	// Lock only after a successful save.
	e.active[key] = true

	// Tokens increase monotonically, so ascending token order is
	// registration order.
	toks := make([]ListenerToken, 0, len(e.listeners))
	for tok := range e.listeners {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
	for _, tok := range toks {
		e.safeNotify(e.listeners[tok], *sig)
	}

	return sig
}

func (e *Engine) safeNotify(fn SignalListener, s model.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("strategy: signal listener panic", "recovered", r, "signal_id", s.ID)
		}
	}()
	fn(s)
}

// RecordOutcome updates the streak tracker for (symbol, timeframe) and
// releases its position lock. Call after the position tracker resolves
// a signal's outcome.
func (e *Engine) RecordOutcome(ctx context.Context, outcome model.Outcome, symbol string, tf model.Timeframe) {
	streak := e.streakFor(symbol, tf)
	switch outcome {
	case model.OutcomeTP:
		streak.RecordTP()
	case model.OutcomeSL:
		streak.RecordSL()
	}

	if e.saveStreak != nil {
		if err := e.saveStreak(ctx, *streak); err != nil {
			e.log.Error("strategy: save_streak failed", "symbol", symbol, "timeframe", tf, "error", err)
		}
	}

	e.ReleasePosition(symbol, tf)
}

// ReleasePosition clears the (symbol, timeframe) position lock,
// independent of RecordOutcome — used when a position closes through an
// external path (e.g. a position tracker resolving outside the
// strategy's own call chain).
func (e *Engine) ReleasePosition(symbol string, tf model.Timeframe) {
	delete(e.active, positionKey(symbol, tf))
}
