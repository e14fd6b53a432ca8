// Package rediscache is the fast-access secondary derivative of the
// durable signal and streak stores: model.SignalCache and
// model.StreakCache backed by Redis, guarded by a circuit breaker so a
// Redis outage degrades to store-only operation instead of blocking the
// hot path.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"msrengine/internal/model"
)

const (
	allSignalsKey = "msr:signals:all"
	signalKeyTTL  = 24 * time.Hour
	allStreaksKey = "msr:streaks:all"
)

func signalKey(id string) string            { return "msr:signal:" + id }
func symbolSignalsKey(symbol string) string { return "msr:signals:symbol:" + symbol }
func streakKey(symbol, tf string) string    { return "msr:streak:" + symbol + ":" + tf }

// Config configures the Redis cache.
type Config struct {
	Addr         string
	Password     string
	DB           int
	MaxFailures  int           // consecutive failures before the breaker opens (default 5)
	ResetTimeout time.Duration // cooldown before a half-open probe (default 10s)
}

// Cache implements model.SignalCache and model.StreakCache over Redis,
// wrapping every call in a CircuitBreaker so a degraded Redis never
// blocks the caller — only returns an error for the caller to log and
// fall back to the durable store.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *slog.Logger
}

// New creates a Cache and pings Redis once to fail fast on misconfiguration.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	cb := NewCircuitBreaker(maxFailures, resetTimeout)
	cb.OnStateChange = func(from, to State) {
		logger.Warn("rediscache: circuit breaker state change", "from", from, "to", to)
	}

	return &Cache{client: client, cb: cb, log: logger}, nil
}

// CircuitState reports the breaker's current state for health/metrics.
func (c *Cache) CircuitState() State { return c.cb.CurrentState() }

// Client exposes the underlying Redis client for health probes.
func (c *Cache) Client() *goredis.Client { return c.client }

// Close closes the underlying Redis client.
func (c *Cache) Close() error { return c.client.Close() }

// CacheSignal stores a signal keyed by ID and indexes it by symbol.
func (c *Cache) CacheSignal(ctx context.Context, s model.FastSignal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("rediscache: marshal signal %s: %w", s.ID, err)
	}
	return c.cb.Execute(func() error {
		pipe := c.client.Pipeline()
		pipe.Set(ctx, signalKey(s.ID), data, signalKeyTTL)
		pipe.SAdd(ctx, allSignalsKey, s.ID)
		pipe.SAdd(ctx, symbolSignalsKey(s.Symbol), s.ID)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// UpdateSignal overwrites the cached copy of a signal — identical to
// CacheSignal since both are full-record upserts.
func (c *Cache) UpdateSignal(ctx context.Context, s model.FastSignal) error {
	return c.CacheSignal(ctx, s)
}

// RemoveSignal evicts a resolved signal from the active-signal cache.
func (c *Cache) RemoveSignal(ctx context.Context, id, symbol string) error {
	return c.cb.Execute(func() error {
		pipe := c.client.Pipeline()
		pipe.Del(ctx, signalKey(id))
		pipe.SRem(ctx, allSignalsKey, id)
		pipe.SRem(ctx, symbolSignalsKey(symbol), id)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// GetAllSignals returns every cached active signal.
func (c *Cache) GetAllSignals(ctx context.Context) ([]model.FastSignal, error) {
	var out []model.FastSignal
	err := c.cb.Execute(func() error {
		ids, err := c.client.SMembers(ctx, allSignalsKey).Result()
		if err != nil {
			return err
		}
		out, err = c.fetchSignals(ctx, ids)
		return err
	})
	return out, err
}

// GetSignalsBySymbol returns the cached active signals for one symbol.
func (c *Cache) GetSignalsBySymbol(ctx context.Context, symbol string) ([]model.FastSignal, error) {
	var out []model.FastSignal
	err := c.cb.Execute(func() error {
		ids, err := c.client.SMembers(ctx, symbolSignalsKey(symbol)).Result()
		if err != nil {
			return err
		}
		out, err = c.fetchSignals(ctx, ids)
		return err
	})
	return out, err
}

func (c *Cache) fetchSignals(ctx context.Context, ids []string) ([]model.FastSignal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = signalKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.FastSignal, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SMEMBERS and MGET, or evicted
		}
		var sig model.FastSignal
		if err := json.Unmarshal([]byte(s), &sig); err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// Save stores a streak tracker keyed by (symbol, timeframe).
func (c *Cache) Save(ctx context.Context, t model.StreakTracker) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("rediscache: marshal streak %s: %w", t.Key(), err)
	}
	return c.cb.Execute(func() error {
		pipe := c.client.Pipeline()
		pipe.Set(ctx, streakKey(t.Symbol, string(t.Timeframe)), data, 0)
		pipe.SAdd(ctx, allStreaksKey, t.Key())
		_, err := pipe.Exec(ctx)
		return err
	})
}

// LoadAll returns every cached streak tracker, keyed by StreakTracker.Key().
func (c *Cache) LoadAll(ctx context.Context) (map[string]model.StreakTracker, error) {
	out := map[string]model.StreakTracker{}
	err := c.cb.Execute(func() error {
		keys, err := c.client.SMembers(ctx, allStreaksKey).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			symbol, tf, ok := splitStreakKey(k)
			if !ok {
				continue
			}
			data, err := c.client.Get(ctx, streakKey(symbol, tf)).Result()
			if err == goredis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			var t model.StreakTracker
			if err := json.Unmarshal([]byte(data), &t); err != nil {
				continue
			}
			out[t.Key()] = t
		}
		return nil
	})
	return out, err
}

func splitStreakKey(key string) (symbol, tf string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
