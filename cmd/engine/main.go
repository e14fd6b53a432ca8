// cmd/engine is the long-lived signal engine: it recovers state from
// the last checkpoint, then consumes the live candle and trade feeds,
// emitting signals into the SQLite store and Redis cache and tracking
// them to TP/SL. Prometheus metrics and a /healthz endpoint are served
// on METRICS_ADDR.
//
// Usage:
//
//	CANDLE_WS_URL=ws://... TRADE_WS_URL=ws://... go run ./cmd/engine
//
// Exit codes: 0 success, 1 operational error, 2 configuration error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msrengine/config"
	"msrengine/internal/aggregator"
	"msrengine/internal/candlebuf"
	"msrengine/internal/feed"
	"msrengine/internal/indicator"
	"msrengine/internal/logger"
	"msrengine/internal/metrics"
	"msrengine/internal/model"
	"msrengine/internal/replay"
	"msrengine/internal/store/rediscache"
	"msrengine/internal/store/sqlite"
	"msrengine/internal/strategy"
	"msrengine/internal/tracker"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.Init("engine", slog.LevelInfo)
	cfg := config.Load()

	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		fmt.Fprintln(os.Stderr, "[engine] MSR_SYMBOLS and MSR_TIMEFRAMES must each name at least one value")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("engine: open sqlite failed", "error", err)
		return 1
	}
	defer store.Close()

	// sigCache stays a nil interface when Redis is down: handing the
	// tracker a typed-nil *rediscache.Cache would defeat its cache==nil
	// checks.
	var sigCache model.SignalCache
	cache, err := rediscache.New(rediscache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass}, log)
	if err != nil {
		log.Warn("engine: redis cache unavailable, continuing store-only", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		sigCache = cache
	}

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)
	health.SetRedisConnected(cache != nil)
	srv := metrics.NewServer(cfg.MetricsAddr, health)
	srv.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		srv.Stop(stopCtx)
		stopCancel()
	}()

	if cache != nil {
		health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 15*time.Second)
		go watchCircuit(ctx, cache, m)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 15*time.Second)
	}

	buffers := candlebuf.NewSet(candlebuf.DefaultCapacity)
	indEngine := indicator.NewEngine(indicator.Config{
		EMAPeriod: cfg.Strategy.EMAPeriod, ATRPeriod: cfg.Strategy.ATRPeriod, FibPeriod: cfg.Strategy.FibPeriod,
	}, buffers)
	agg := aggregator.New(aggregator.DefaultTargets(), log)
	atrTracker := strategy.NewATRPercentileTracker(cfg.ATRMinSamples)
	strat := strategy.New(cfg.Strategy, indEngine, cfg.Filters, atrTracker, log)
	trk := tracker.New(store, sigCache, tracker.Config{UpdateInterval: cfg.TrackerUpdateInterval}, log)

	strat.OnSaveSignal(func(ctx context.Context, s model.Signal) error {
		start := time.Now()
		err := store.Save(ctx, s)
		m.StoreWriteDur.Observe(time.Since(start).Seconds())
		if err != nil {
			m.SignalsRejectedTotal.WithLabelValues("save_failed").Inc()
		}
		return err
	})
	if cache != nil {
		strat.OnSaveStreak(func(ctx context.Context, t model.StreakTracker) error {
			start := time.Now()
			err := cache.Save(ctx, t)
			m.CacheWriteDur.Observe(time.Since(start).Seconds())
			return err
		})
	}
	strat.Subscribe(func(s model.Signal) {
		m.SignalsEmittedTotal.WithLabelValues(s.Symbol, string(s.Timeframe), s.Direction.String()).Inc()
		m.ActiveSignals.Inc()
		log.Info("engine: signal emitted", "id", s.ID, "symbol", s.Symbol,
			"timeframe", s.Timeframe, "direction", s.Direction.String(),
			"entry", s.EntryPrice, "tp", s.TPPrice, "sl", s.SLPrice)
	})

	// events serializes everything that touches the strategy engine's
	// state (candle processing, outcome recording) onto one goroutine.
	// The trade path stays off it: the tracker is internally locked.
	events := make(chan func(), 1024)
	enqueue := func(fn func()) {
		select {
		case events <- fn:
		case <-ctx.Done():
		}
	}

	trk.Subscribe(func(s model.Signal, outcome model.Outcome) {
		m.OutcomesTotal.WithLabelValues(s.Symbol, string(s.Timeframe), string(outcome)).Inc()
		m.ActiveSignals.Dec()
		enqueue(func() {
			strat.RecordOutcome(ctx, outcome, s.Symbol, s.Timeframe)
		})
	})

	agg.OnAggregatedCandle(func(fc model.FastCandle) {
		m.AggregationEmitted.WithLabelValues(fc.Symbol, string(fc.Timeframe)).Inc()
		cold := model.FastToCandle(fc)
		if err := store.SaveBatch(ctx, []model.Candle{cold}); err != nil {
			log.Warn("engine: persist aggregated candle failed",
				"symbol", fc.Symbol, "timeframe", fc.Timeframe, "error", err)
		}
	})

	pipeline := replay.NewPipeline(agg, indEngine, strat, trk)
	svc := replay.NewService(store, store, pipeline, cfg.Timeframes,
		replay.Config{CheckpointInterval: cfg.ReplayCheckpointInterval, BufferCapacity: candlebuf.DefaultCapacity}, log)

	if err := trk.LoadActive(ctx); err != nil {
		log.Error("engine: load active signals failed", "error", err)
		return 1
	}
	stats := trk.CacheStats()
	m.TrackerCacheHitsTotal.Add(float64(stats.Hits))
	m.TrackerCacheMissesTotal.Add(float64(stats.Misses))
	m.ActiveSignals.Set(float64(trk.ActiveCount()))
	strat.RestoreActivePositions(trk.ActiveSignals(""))
	if cache != nil {
		if streaks, err := cache.LoadAll(ctx); err == nil {
			strat.RestoreStreaks(streaks)
		} else {
			log.Warn("engine: streak cache load failed, starting streaks cold", "error", err)
		}
	}

	if err := svc.RecoverPending(ctx); err != nil {
		log.Error("engine: recover pending checkpoints failed", "error", err)
		return 1
	}
	for _, symbol := range cfg.Symbols {
		if err := svc.Recover(ctx, symbol); err != nil {
			log.Error("engine: recovery failed", "symbol", symbol, "error", err)
			return 1
		}
	}
	health.SetReplayDone(true)

	checkpoints, err := loadCheckpoints(ctx, store, cfg.Symbols)
	if err != nil {
		log.Error("engine: load checkpoints failed", "error", err)
		return 1
	}
	for _, cp := range checkpoints {
		m.ReplayLagSeconds.Set(time.Since(cp.cp.LastProcessedTime).Seconds())
	}

	candleFeed := feed.NewCandleFeed(feed.Config{URL: cfg.CandleWSURL}, log)
	tradeFeed := feed.NewTradeFeed(feed.Config{URL: cfg.TradeWSURL}, log)

	go func() {
		if err := candleFeed.OnCandle(ctx, func(c model.Candle) {
			enqueue(func() {
				handleCandle(ctx, c, pipeline, store, checkpoints, cfg.ReplayCheckpointInterval, m, log)
			})
		}); err != nil {
			log.Error("engine: candle feed terminated", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := tradeFeed.OnTrade(ctx, func(t model.Trade) {
			m.TradesIngestedTotal.WithLabelValues(t.Symbol).Inc()
			trk.ProcessTrade(ctx, t.ToFast())
		}); err != nil {
			log.Error("engine: trade feed terminated", "error", err)
			cancel()
		}
	}()

	log.Info("engine: live", "symbols", cfg.Symbols, "timeframes", cfg.Timeframes)

	for {
		select {
		case <-ctx.Done():
			log.Info("engine: shutting down")
			flushCheckpoints(store, checkpoints, m, log)
			return 0
		case fn := <-events:
			fn()
		}
	}
}

// liveCheckpoint tracks one symbol's checkpoint between persists.
type liveCheckpoint struct {
	cp    model.Checkpoint
	since int // closed 1m candles applied since the last persist
}

func loadCheckpoints(ctx context.Context, store *sqlite.Store, symbols []string) (map[string]*liveCheckpoint, error) {
	out := make(map[string]*liveCheckpoint, len(symbols))
	for _, symbol := range symbols {
		cp, err := store.Get(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if cp == nil {
			continue // no history yet; seeded on the first closed candle
		}
		out[symbol] = &liveCheckpoint{cp: *cp}
	}
	return out, nil
}

func handleCandle(ctx context.Context, c model.Candle, pipeline *replay.Pipeline, store *sqlite.Store,
	checkpoints map[string]*liveCheckpoint, interval int, m *metrics.Metrics, log *slog.Logger) {

	if c.Timeframe != model.TF1m {
		log.Warn("engine: ignoring non-1m candle from feed", "symbol", c.Symbol, "timeframe", c.Timeframe)
		return
	}
	if c.Low.GreaterThan(c.High) {
		log.Warn("engine: impossible candle (low>high), skipping", "symbol", c.Symbol, "ts", c.Timestamp)
		return
	}

	m.CandlesIngestedTotal.WithLabelValues(c.Symbol, string(c.Timeframe)).Inc()

	if !c.IsClosed {
		// Only refresh the aggregator's current-1m snapshot; signal
		// evaluation waits for the close.
		pipeline.ObserveOpen1m(c)
		return
	}

	if err := store.SaveBatch(ctx, []model.Candle{c}); err != nil {
		log.Error("engine: persist 1m candle failed", "symbol", c.Symbol, "ts", c.Timestamp, "error", err)
	}

	pipeline.ProcessClosed1m(ctx, c)

	lc := checkpoints[c.Symbol]
	if lc == nil {
		lc = &liveCheckpoint{cp: model.Checkpoint{
			Symbol: c.Symbol, Timeframe: model.TF1m,
			SystemStartTime: c.Timestamp, Status: model.CheckpointConfirmed,
		}}
		checkpoints[c.Symbol] = lc
	}
	lc.cp.LastProcessedTime = c.Timestamp
	lc.cp.Status = model.CheckpointConfirmed
	lc.since++

	if lc.since >= interval {
		if err := store.Upsert(ctx, lc.cp); err != nil {
			log.Warn("engine: checkpoint persist failed", "symbol", c.Symbol, "error", err)
			return
		}
		m.CheckpointPersists.WithLabelValues(string(lc.cp.Status)).Inc()
		lc.since = 0
	}
}

// flushCheckpoints persists every symbol's current position once on
// shutdown so the next boot replays as little as possible.
func flushCheckpoints(store *sqlite.Store, checkpoints map[string]*liveCheckpoint, m *metrics.Metrics, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for symbol, lc := range checkpoints {
		if lc.since == 0 || lc.cp.LastProcessedTime.IsZero() {
			continue
		}
		if err := store.Upsert(ctx, lc.cp); err != nil {
			log.Warn("engine: final checkpoint persist failed", "symbol", symbol, "error", err)
			continue
		}
		m.CheckpointPersists.WithLabelValues(string(lc.cp.Status)).Inc()
	}
}

func watchCircuit(ctx context.Context, cache *rediscache.Cache, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	var prev rediscache.State
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := cache.CircuitState()
			m.SignalCacheCircuitState.Set(float64(state))
			if state == rediscache.StateOpen && prev != rediscache.StateOpen {
				m.SignalCacheCircuitTrips.Inc()
			}
			prev = state
		}
	}
}
