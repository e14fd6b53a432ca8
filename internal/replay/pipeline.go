// Package replay wires the Aggregator, indicator Engine, strategy
// Engine, and position Tracker into the single pipeline the core runs
// both live and during startup recovery, and drives the checkpointed
// recovery procedure itself.
package replay

import (
	"context"

	"github.com/shopspring/decimal"

	"msrengine/internal/aggregator"
	"msrengine/internal/indicator"
	"msrengine/internal/model"
	"msrengine/internal/strategy"
	"msrengine/internal/tracker"
)

// Pipeline is the same candle path the live system and the replay
// service both drive: Aggregator derives higher timeframes from a 1m
// stream, each timeframe's closed candle runs through the indicator
// engine and the MSR strategy, and any emitted signal is handed to the
// position tracker. Single-owner, not safe for concurrent use.
type Pipeline struct {
	agg   *aggregator.Aggregator
	ind   *indicator.Engine
	strat *strategy.Engine
	trk   *tracker.Tracker

	last map[string]model.Candle // key = symbol:timeframe, previous closed candle
}

// NewPipeline wires an already-constructed aggregator, indicator engine,
// strategy engine, and tracker into one pipeline. The indicator and
// strategy engines must be the same instances, since strat already holds
// a reference to ind.
func NewPipeline(agg *aggregator.Aggregator, ind *indicator.Engine, strat *strategy.Engine, trk *tracker.Tracker) *Pipeline {
	return &Pipeline{agg: agg, ind: ind, strat: strat, trk: trk, last: make(map[string]model.Candle)}
}

func pipelineKey(symbol string, tf model.Timeframe) string { return symbol + ":" + string(tf) }

// Warmup feeds an already-processed historical candle through indicator
// state only: no trigger detection, no signal persistence, no position
// lock. Used to rebuild buffer/EMA/ATR state from persisted history
// before live or replay processing resumes at the first new candle.
func (p *Pipeline) Warmup(c model.Candle) {
	p.ind.ComputeLatest(c)
	p.last[pipelineKey(c.Symbol, c.Timeframe)] = c
}

// ObserveOpen1m forwards a still-forming 1m candle to the aggregator's
// current-candle snapshot. No strategy evaluation happens until the
// candle closes.
func (p *Pipeline) ObserveOpen1m(c model.Candle) {
	p.agg.Add1m(model.CandleToFast(c))
}

// ProcessClosed1m feeds one closed 1-minute candle through the live
// pipeline: the 1m timeframe's own strategy evaluation, then every
// derived timeframe the aggregator completes as a result, each run
// through strategy evaluation in turn. Returns every signal emitted
// across all timeframes, in the order produced.
func (p *Pipeline) ProcessClosed1m(ctx context.Context, c model.Candle) []model.Signal {
	var out []model.Signal

	if sig := p.processOne(ctx, c); sig != nil {
		out = append(out, *sig)
	}

	fast := model.CandleToFast(c)
	for _, fc := range p.agg.Add1m(fast) {
		derived := model.FastToCandle(fc)
		if sig := p.processOne(ctx, derived); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

func (p *Pipeline) processOne(ctx context.Context, c model.Candle) *model.Signal {
	k := pipelineKey(c.Symbol, c.Timeframe)
	prev, ok := p.last[k]
	var prevHigh, prevLow decimal.Decimal
	if ok {
		prevHigh, prevLow = prev.High, prev.Low
	}

	sig := p.strat.ProcessCandle(ctx, c, prevHigh, prevLow)
	p.last[k] = c
	if sig != nil {
		p.trk.Add(ctx, *sig)
	}

	// max_atr is raised on every open signal for this key once per
	// closed candle, independent of whether this candle itself
	// triggered a new signal.
	if atr, ready := p.ind.CurrentATR(c.Symbol, c.Timeframe); ready {
		p.trk.UpdateMaxATR(c.Symbol, c.Timeframe, atrToFloat(atr))
	}

	return sig
}

func atrToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
