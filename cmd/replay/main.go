// cmd/replay drives the Replay & Checkpoint Service against the SQLite
// candle/signal/checkpoint store and the Redis signal/streak cache,
// catching every configured symbol up to the present from its last
// persisted checkpoint (or from --from, if no checkpoint exists yet).
//
// Usage:
//
//	go run ./cmd/replay --from 1700000000
//
// Exit codes: 0 success, 1 operational error, 2 configuration error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msrengine/config"
	"msrengine/internal/aggregator"
	"msrengine/internal/candlebuf"
	"msrengine/internal/indicator"
	"msrengine/internal/logger"
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
	fromTS := flag.Int64("from", 0, "unix seconds to seed a fresh checkpoint from, when none is persisted yet (0 = earliest stored candle)")
	flag.Parse()

	log := logger.Init("replay", slog.LevelInfo)
	cfg := config.Load()

	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		fmt.Fprintln(os.Stderr, "[replay] MSR_SYMBOLS and MSR_TIMEFRAMES must each name at least one value")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("replay: open sqlite failed", "error", err)
		return 1
	}
	defer store.Close()

	// sigCache stays a nil interface when Redis is down: handing the
	// tracker a typed-nil *rediscache.Cache would defeat its cache==nil
	// checks.
	var sigCache model.SignalCache
	cache, err := rediscache.New(rediscache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass}, log)
	if err != nil {
		log.Warn("replay: redis cache unavailable, continuing store-only", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		sigCache = cache
	}

	buffers := candlebuf.NewSet(candlebuf.DefaultCapacity)
	indEngine := indicator.NewEngine(indicator.Config{
		EMAPeriod: cfg.Strategy.EMAPeriod, ATRPeriod: cfg.Strategy.ATRPeriod, FibPeriod: cfg.Strategy.FibPeriod,
	}, buffers)
	agg := aggregator.New(aggregator.DefaultTargets(), log)
	atrTracker := strategy.NewATRPercentileTracker(cfg.ATRMinSamples)
	strat := strategy.New(cfg.Strategy, indEngine, cfg.Filters, atrTracker, log)
	trk := tracker.New(store, sigCache, tracker.Config{UpdateInterval: cfg.TrackerUpdateInterval}, log)

	strat.OnSaveSignal(func(ctx context.Context, s model.Signal) error { return store.Save(ctx, s) })
	if cache != nil {
		strat.OnSaveStreak(func(ctx context.Context, t model.StreakTracker) error { return cache.Save(ctx, t) })
	}
	trk.Subscribe(func(s model.Signal, outcome model.Outcome) {
		strat.RecordOutcome(context.Background(), outcome, s.Symbol, s.Timeframe)
	})

	pipeline := replay.NewPipeline(agg, indEngine, strat, trk)
	svc := replay.NewService(store, store, pipeline, cfg.Timeframes,
		replay.Config{CheckpointInterval: cfg.ReplayCheckpointInterval, BufferCapacity: candlebuf.DefaultCapacity}, log)

	if err := trk.LoadActive(ctx); err != nil {
		log.Error("replay: load active signals failed", "error", err)
		return 1
	}
	strat.RestoreActivePositions(trk.ActiveSignals(""))
	if cache != nil {
		if streaks, err := cache.LoadAll(ctx); err == nil {
			strat.RestoreStreaks(streaks)
		}
	}

	if err := svc.RecoverPending(ctx); err != nil {
		log.Error("replay: recover pending checkpoints failed", "error", err)
		return 1
	}

	for _, symbol := range cfg.Symbols {
		if *fromTS > 0 {
			seedCheckpointIfAbsent(ctx, store, symbol, *fromTS, log)
		}
		if err := svc.Recover(ctx, symbol); err != nil {
			log.Error("replay: recovery failed", "symbol", symbol, "error", err)
			return 1
		}
	}

	log.Info("replay: caught up, exiting")
	return 0
}

// seedCheckpointIfAbsent persists an initial CONFIRMED checkpoint at
// fromTS when the symbol has never been checkpointed, overriding the
// service's own default of starting from the earliest stored candle.
func seedCheckpointIfAbsent(ctx context.Context, store *sqlite.Store, symbol string, fromTS int64, log *slog.Logger) {
	existing, err := store.Get(ctx, symbol)
	if err != nil {
		log.Warn("replay: checkpoint lookup failed, skipping --from seed", "symbol", symbol, "error", err)
		return
	}
	if existing != nil {
		return
	}
	seedTime := time.Unix(fromTS, 0).UTC()
	cp := model.Checkpoint{
		Symbol: symbol, Timeframe: model.TF1m,
		SystemStartTime: seedTime, LastProcessedTime: seedTime,
		Status: model.CheckpointConfirmed,
	}
	if err := store.Upsert(ctx, cp); err != nil {
		log.Warn("replay: --from checkpoint seed failed", "symbol", symbol, "error", err)
	}
}
