// Package aggregator derives higher-timeframe candles (3m, 5m, 15m,
// 30m) from a canonical 1-minute candle stream.
//
// Draining is count-based: a target timeframe's buffer emits the moment
// it accumulates period_minutes closed 1m candles, not when a
// wall-clock period boundary is crossed. A gap in the 1m stream stalls
// the bucket rather than padding it with synthetic candles, so the
// emitted candle's timestamp reflects the first candle actually seen in
// the bucket, which may drift from a clock-aligned boundary.
package aggregator

import (
	"log/slog"

	"msrengine/internal/model"
)

// targetMinutes is the set of derivable timeframes and their period
// length in minutes.
var targetMinutes = map[model.Timeframe]int{
	model.TF3m:  3,
	model.TF5m:  5,
	model.TF15m: 15,
	model.TF30m: 30,
}

// DefaultTargets is the default fan-out of derived timeframes.
func DefaultTargets() []model.Timeframe {
	return []model.Timeframe{model.TF3m, model.TF5m, model.TF15m, model.TF30m}
}

// buffer accumulates closed 1m candles for one (symbol, target
// timeframe) until it holds exactly periodMinutes of them.
type buffer struct {
	symbol        string
	timeframe     model.Timeframe
	periodMinutes int
	candles       []model.FastCandle
}

func (b *buffer) add(c model.FastCandle) (model.FastCandle, bool) {
	b.candles = append(b.candles, c)
	if len(b.candles) < b.periodMinutes {
		return model.FastCandle{}, false
	}
	return b.drain(), true
}

func (b *buffer) drain() model.FastCandle {
	window := b.candles[:b.periodMinutes]
	out := aggregate(b.symbol, b.timeframe, window)
	b.candles = b.candles[b.periodMinutes:]
	return out
}

func (b *buffer) reset() { b.candles = b.candles[:0] }

func aggregate(symbol string, tf model.Timeframe, window []model.FastCandle) model.FastCandle {
	high := window[0].High
	low := window[0].Low
	var volume float64
	for _, c := range window {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		volume += c.Volume
	}
	return model.FastCandle{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: window[0].Timestamp,
		Open:      window[0].Open,
		High:      high,
		Low:       low,
		Close:     window[len(window)-1].Close,
		Volume:    volume,
		IsClosed:  true,
	}
}

// Aggregator fans a per-symbol 1m candle stream out to the configured
// target timeframes. Single-owner, single-threaded: not safe to call
// Add1m concurrently from multiple goroutines for the same symbol.
type Aggregator struct {
	targets   []model.Timeframe
	buffers   map[string]map[model.Timeframe]*buffer
	current1m map[string]model.FastCandle
	callbacks []func(model.FastCandle)
	log       *slog.Logger
}

// New creates an Aggregator for the given target timeframes. A nil or
// empty targets slice uses DefaultTargets.
func New(targets []model.Timeframe, logger *slog.Logger) *Aggregator {
	if len(targets) == 0 {
		targets = DefaultTargets()
	}
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]model.Timeframe, 0, len(targets))
	for _, tf := range targets {
		if _, ok := targetMinutes[tf]; ok {
			filtered = append(filtered, tf)
		}
	}
	return &Aggregator{
		targets:   filtered,
		buffers:   make(map[string]map[model.Timeframe]*buffer),
		current1m: make(map[string]model.FastCandle),
		log:       logger,
	}
}

// OnAggregatedCandle registers a callback invoked after each emission.
// Panics inside cb are recovered and logged, never propagated.
func (a *Aggregator) OnAggregatedCandle(cb func(model.FastCandle)) {
	a.callbacks = append(a.callbacks, cb)
}

func (a *Aggregator) ensureBuffers(symbol string) map[model.Timeframe]*buffer {
	bufs, ok := a.buffers[symbol]
	if !ok {
		bufs = make(map[model.Timeframe]*buffer)
		a.buffers[symbol] = bufs
	}
	for _, tf := range a.targets {
		if _, ok := bufs[tf]; !ok {
			bufs[tf] = &buffer{symbol: symbol, timeframe: tf, periodMinutes: targetMinutes[tf]}
		}
	}
	return bufs
}

// Add1m feeds one 1-minute candle through the aggregator. If the candle
// is not closed, it only updates the "current 1m" snapshot and returns
// nil. If closed, it is appended to every target timeframe's buffer;
// each buffer that reaches its period emits one aggregated candle.
// Registered callbacks fire once per emission, after all buffers for
// this input have been updated.
func (a *Aggregator) Add1m(c model.FastCandle) []model.FastCandle {
	if c.Timeframe != model.TF1m {
		a.log.Warn("aggregator: ignoring non-1m candle", "timeframe", c.Timeframe)
		return nil
	}

	bufs := a.ensureBuffers(c.Symbol)
	a.current1m[c.Symbol] = c

	if !c.IsClosed {
		return nil
	}

	var emitted []model.FastCandle
	for _, tf := range a.targets {
		if out, ok := bufs[tf].add(c); ok {
			emitted = append(emitted, out)
		}
	}

	for _, out := range emitted {
		a.dispatch(out)
	}
	return emitted
}

func (a *Aggregator) dispatch(c model.FastCandle) {
	for _, cb := range a.callbacks {
		a.safeInvoke(cb, c)
	}
}

func (a *Aggregator) safeInvoke(cb func(model.FastCandle), c model.FastCandle) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("aggregator: callback panic", "recovered", r, "symbol", c.Symbol, "timeframe", c.Timeframe)
		}
	}()
	cb(c)
}

// Current1m returns the most recent 1m candle seen for symbol (closed or
// still forming), and whether one exists.
func (a *Aggregator) Current1m(symbol string) (model.FastCandle, bool) {
	c, ok := a.current1m[symbol]
	return c, ok
}

// Partial builds the open (incomplete) candle a target timeframe's
// buffer currently represents, without mutating any state. Returns
// false if nothing has accumulated yet.
func (a *Aggregator) Partial(symbol string, tf model.Timeframe) (model.FastCandle, bool) {
	bufs, ok := a.buffers[symbol]
	if !ok {
		return model.FastCandle{}, false
	}
	b, ok := bufs[tf]
	if !ok || len(b.candles) == 0 {
		return model.FastCandle{}, false
	}
	out := aggregate(symbol, tf, b.candles)
	out.IsClosed = false
	return out, true
}

// Reset clears aggregation buffers for symbol, or for every symbol if
// symbol is empty.
func (a *Aggregator) Reset(symbol string) {
	if symbol == "" {
		for _, bufs := range a.buffers {
			for _, b := range bufs {
				b.reset()
			}
		}
		a.current1m = make(map[string]model.FastCandle)
		return
	}
	if bufs, ok := a.buffers[symbol]; ok {
		for _, b := range bufs {
			b.reset()
		}
	}
	delete(a.current1m, symbol)
}

// Prefill seeds a symbol's aggregation buffers from historical 1m
// candles so the next live 1m candle cleanly completes the right
// aggregate. klines1m must be closed and sorted ascending by timestamp.
// For each target timeframe, only the candles belonging to the
// currently-incomplete period (relative to the last history candle) are
// kept.
func (a *Aggregator) Prefill(symbol string, klines1m []model.FastCandle) {
	bufs := a.ensureBuffers(symbol)
	if len(klines1m) == 0 {
		return
	}
	last := klines1m[len(klines1m)-1]

	for _, tf := range a.targets {
		b := bufs[tf]
		b.reset()

		periodSeconds := float64(targetMinutes[tf] * 60)
		periodStart := float64(int64(last.Timestamp/periodSeconds)) * periodSeconds

		for _, c := range klines1m {
			if c.Timestamp >= periodStart {
				b.candles = append(b.candles, c)
			}
		}
	}
}
