package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"msrengine/internal/candlebuf"
	"msrengine/internal/model"
)

// DefaultCheckpointInterval is how many replayed candles pass between
// PENDING checkpoint persists during a replay batch.
const DefaultCheckpointInterval = 100

// Config carries the replay service's tunable parameters.
type Config struct {
	CheckpointInterval int
	BufferCapacity     int
}

// DefaultConfig returns the stock replay configuration.
func DefaultConfig() Config {
	return Config{CheckpointInterval: DefaultCheckpointInterval, BufferCapacity: candlebuf.DefaultCapacity}
}

// Service drives startup recovery: for each configured symbol it reads
// the persisted checkpoint, rebuilds candle-buffer and indicator state
// from history, then replays any closed 1-minute candles persisted after
// the checkpoint through the live pipeline so the first genuinely live
// candle produces the same result as if the system had never stopped.
type Service struct {
	checkpoints model.CheckpointStore
	candles     model.CandleStore
	pipeline    *Pipeline
	timeframes  []model.Timeframe // every timeframe to warm up; must include model.TF1m
	cfg         Config
	log         *slog.Logger
}

// NewService creates a Service. timeframes must include model.TF1m.
func NewService(checkpoints model.CheckpointStore, candles model.CandleStore, pipeline *Pipeline, timeframes []model.Timeframe, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = candlebuf.DefaultCapacity
	}
	return &Service{
		checkpoints: checkpoints, candles: candles, pipeline: pipeline,
		timeframes: timeframes, cfg: cfg, log: logger,
	}
}

// Recover runs the startup recovery procedure for one symbol:
// load or initialize the checkpoint, warm up buffer and
// indicator state from persisted history, mark the checkpoint PENDING,
// replay any candles after the checkpoint through the live pipeline with
// periodic PENDING persists, then mark the checkpoint CONFIRMED.
//
// A crash mid-replay leaves the checkpoint PENDING; calling Recover
// again for the same symbol safely re-runs from the last persisted
// last_processed_time, because replay is a pure function of history.
func (s *Service) Recover(ctx context.Context, symbol string) error {
	cp, err := s.checkpoints.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("replay: get checkpoint for %s: %w", symbol, err)
	}

	if cp == nil {
		earliest, err := s.earliestCandle(ctx, symbol)
		if err != nil {
			return fmt.Errorf("replay: find earliest candle for %s: %w", symbol, err)
		}
		if earliest == nil {
			s.log.Info("replay: no candle history yet, nothing to recover", "symbol", symbol)
			return nil
		}
		cp = &model.Checkpoint{
			Symbol: symbol, Timeframe: model.TF1m,
			SystemStartTime: earliest.Timestamp, LastProcessedTime: earliest.Timestamp,
			Status: model.CheckpointConfirmed,
		}
	}

	if cp.Status == model.CheckpointPending {
		s.log.Warn("replay: checkpoint left PENDING by a prior crash, resuming",
			"symbol", symbol, "from", cp.LastProcessedTime)
	}

	if err := s.warmup(ctx, symbol, cp.LastProcessedTime); err != nil {
		return err
	}

	cp.Status = model.CheckpointPending
	if err := s.checkpoints.Upsert(ctx, *cp); err != nil {
		return fmt.Errorf("replay: persist pending checkpoint for %s: %w", symbol, err)
	}

	toReplay, err := s.candles.GetAfter(ctx, symbol, model.TF1m, cp.LastProcessedTime)
	if err != nil {
		return fmt.Errorf("replay: load replay candles for %s: %w", symbol, err)
	}

	count := 0
	for _, c := range toReplay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.pipeline.ProcessClosed1m(ctx, c)
		cp.LastProcessedTime = c.Timestamp
		count++

		if count%s.cfg.CheckpointInterval == 0 {
			if err := s.checkpoints.Upsert(ctx, *cp); err != nil {
				s.log.Warn("replay: mid-batch checkpoint persist failed", "symbol", symbol, "error", err)
			}
		}
	}

	cp.Status = model.CheckpointConfirmed
	if err := s.checkpoints.Upsert(ctx, *cp); err != nil {
		return fmt.Errorf("replay: persist confirmed checkpoint for %s: %w", symbol, err)
	}

	s.log.Info("replay: recovery complete", "symbol", symbol, "replayed", count)
	return nil
}

// warmup loads up to BufferCapacity candles up to and including
// lastProcessed for every configured timeframe and feeds them through
// the pipeline's indicator-only warmup path, then prefills the
// aggregator's 1m history so the next live 1m candle completes the
// right bucket.
func (s *Service) warmup(ctx context.Context, symbol string, lastProcessed time.Time) error {
	for _, tf := range s.timeframes {
		hist, err := s.candles.GetLatestUntil(ctx, symbol, tf, lastProcessed, s.cfg.BufferCapacity)
		if err != nil {
			return fmt.Errorf("replay: load buffer for %s/%s: %w", symbol, tf, err)
		}
		for _, c := range hist {
			s.pipeline.Warmup(c)
		}

		if tf == model.TF1m {
			fast := make([]model.FastCandle, len(hist))
			for i, c := range hist {
				fast[i] = model.CandleToFast(c)
			}
			s.pipeline.agg.Prefill(symbol, fast)
		}
	}
	return nil
}

func (s *Service) earliestCandle(ctx context.Context, symbol string) (*model.Candle, error) {
	all, err := s.candles.GetAfter(ctx, symbol, model.TF1m, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	first := all[0]
	return &first, nil
}

// RecoverPending re-executes replay for every checkpoint left PENDING by
// a prior crash mid-replay. Safe to call unconditionally on every
// startup alongside Recover for each configured symbol.
func (s *Service) RecoverPending(ctx context.Context) error {
	pending, err := s.checkpoints.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("replay: list pending checkpoints: %w", err)
	}
	for _, cp := range pending {
		s.log.Warn("replay: resuming pending checkpoint from prior crash",
			"symbol", cp.Symbol, "from", cp.LastProcessedTime)
		if err := s.Recover(ctx, cp.Symbol); err != nil {
			return err
		}
	}
	return nil
}
