// Package config loads the engine's strategy configuration and infra
// settings from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"msrengine/internal/model"
	"msrengine/internal/strategy"
)

// Config holds every tunable the engine needs: the strategy parameters,
// per-(symbol,timeframe) quality filters, and the infra settings
// (store/cache/metrics addresses) that are not part of the core's
// business logic.
type Config struct {
	Strategy strategy.Config

	Symbols    []string
	Timeframes []model.Timeframe

	// Filters is keyed by "symbol:timeframe", matching strategy's
	// positionKey format. nil means no quality filtering: a non-nil map
	// rejects every key not present and enabled in it.
	Filters map[string]strategy.QualityFilter

	// ATRMinSamples is the expanding-window observation count required
	// before the ATR-percentile filter produces a usable value.
	ATRMinSamples int

	SQLitePath  string
	RedisAddr   string
	RedisPass   string
	MetricsAddr string

	CandleWSURL string
	TradeWSURL  string

	ReplayCheckpointInterval int
	TrackerUpdateInterval    time.Duration
}

// Load reads Config from environment variables, falling back to stock
// defaults for anything unset.
func Load() *Config {
	cfg := &Config{
		Strategy: strategy.Config{
			EMAPeriod:      getEnvInt("MSR_EMA_PERIOD", 50),
			FibPeriod:      getEnvInt("MSR_FIB_PERIOD", 9),
			ATRPeriod:      getEnvInt("MSR_ATR_PERIOD", 9),
			TPMult:         getEnvDecimal("MSR_TP_ATR_MULT", "2.0"),
			SLMult:         getEnvDecimal("MSR_SL_ATR_MULT", "8.84"),
			TouchTolerance: getEnvDecimal("MSR_TOUCH_TOLERANCE", "0.001"),
		},
		Symbols:       ParseSymbols(getEnv("MSR_SYMBOLS", "BTCUSDT")),
		Timeframes:    ParseTimeframes(getEnv("MSR_TIMEFRAMES", "1m,3m,5m,15m,30m")),
		Filters:       ParseFilters(os.Getenv("MSR_FILTERS")),
		ATRMinSamples: getEnvInt("MSR_ATR_MIN_SAMPLES", 30),

		SQLitePath:  getEnv("SQLITE_PATH", "data/msrengine.db"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		CandleWSURL: getEnv("CANDLE_WS_URL", "ws://localhost:9001/candles"),
		TradeWSURL:  getEnv("TRADE_WS_URL", "ws://localhost:9001/trades"),

		ReplayCheckpointInterval: getEnvInt("MSR_CHECKPOINT_INTERVAL", 100),
		TrackerUpdateInterval:    getEnvDuration("MSR_TRACKER_UPDATE_INTERVAL", time.Second),
	}
	return cfg
}

// ParseSymbols splits a comma-separated symbol list, trimming whitespace
// and dropping empty entries.
func ParseSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ParseTimeframes splits a comma-separated timeframe list into
// model.Timeframe values, skipping and logging anything unrecognized.
func ParseTimeframes(raw string) []model.Timeframe {
	parts := strings.Split(raw, ",")
	out := make([]model.Timeframe, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf := model.Timeframe(p)
		switch tf {
		case model.TF1m, model.TF3m, model.TF5m, model.TF15m, model.TF30m, model.TF1h, model.TF4h, model.TF1d:
			out = append(out, tf)
		default:
			log.Printf("[config] skipping unrecognized timeframe: %q", p)
		}
	}
	return out
}

// ParseFilters decodes the optional per-(symbol,timeframe) quality
// filter table from a JSON object keyed by "symbol:timeframe", e.g.
//
//	{"BTCUSDT:5m": {"streak_lo": -3, "streak_hi": 5, "atr_pct_threshold": "0.4", "enabled": true, "position_qty": "0.01"}}
//
// Returns nil when raw is empty or unparseable: nil disables filtering
// entirely, whereas a non-nil table rejects every key it does not name.
func ParseFilters(raw string) map[string]strategy.QualityFilter {
	if raw == "" {
		return nil
	}
	var entries map[string]struct {
		StreakLo        int             `json:"streak_lo"`
		StreakHi        int             `json:"streak_hi"`
		ATRPctThreshold decimal.Decimal `json:"atr_pct_threshold"`
		Enabled         bool            `json:"enabled"`
		PositionQty     decimal.Decimal `json:"position_qty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("[config] invalid MSR_FILTERS json, filtering disabled: %v", err)
		return nil
	}
	out := make(map[string]strategy.QualityFilter, len(entries))
	for key, e := range entries {
		out[key] = strategy.QualityFilter{
			StreakLo:        e.StreakLo,
			StreakHi:        e.StreakHi,
			ATRPctThreshold: e.ATRPctThreshold,
			Enabled:         e.Enabled,
			PositionQty:     e.PositionQty,
		}
	}
	return out
}

// FilterKey builds the "symbol:timeframe" key a per-key quality filter
// is registered under, matching strategy's internal position-lock key
// format.
func FilterKey(symbol string, tf model.Timeframe) string {
	return fmt.Sprintf("%s:%s", symbol, tf)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Printf("[config] invalid decimal for %s=%q, using default %s", key, v, fallback)
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
