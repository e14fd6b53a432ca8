// Package metrics exposes the engine's Prometheus metrics and a
// /healthz liveness endpoint: one struct of named metrics registered by
// NewMetrics, a mutex-guarded HealthStatus, and a combined
// /metrics+/healthz Server.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the engine publishes.
type Metrics struct {
	SignalsEmittedTotal  *prometheus.CounterVec // labels: symbol, timeframe, direction
	SignalsRejectedTotal *prometheus.CounterVec // labels: reason (save_failed)
	OutcomesTotal        *prometheus.CounterVec // labels: symbol, timeframe, outcome (tp|sl)

	ActiveSignals prometheus.Gauge

	TrackerCacheHitsTotal   prometheus.Counter
	TrackerCacheMissesTotal prometheus.Counter

	CandlesIngestedTotal *prometheus.CounterVec // labels: symbol, timeframe
	TradesIngestedTotal  *prometheus.CounterVec // labels: symbol
	AggregationEmitted   *prometheus.CounterVec // labels: symbol, timeframe

	ReplayLagSeconds   prometheus.Gauge
	ReplayCandlesTotal prometheus.Counter
	CheckpointPersists *prometheus.CounterVec // labels: status (PENDING|CONFIRMED)

	SignalCacheCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	SignalCacheCircuitTrips prometheus.Counter

	StoreWriteDur prometheus.Histogram
	CacheWriteDur prometheus.Histogram
}

// NewMetrics constructs and registers every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		SignalsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_signals_emitted_total",
			Help: "Signals emitted by the MSR strategy",
		}, []string{"symbol", "timeframe", "direction"}),
		SignalsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_signals_rejected_total",
			Help: "Candidate signals rejected before emission",
		}, []string{"reason"}),
		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_outcomes_total",
			Help: "Signal outcomes resolved by the position tracker",
		}, []string{"symbol", "timeframe", "outcome"}),

		ActiveSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msr_active_signals",
			Help: "Currently open signals across all symbols",
		}),

		TrackerCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msr_tracker_cache_hits_total",
			Help: "LoadActive calls served from the signal cache",
		}),
		TrackerCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msr_tracker_cache_misses_total",
			Help: "LoadActive calls that fell back to the signal store",
		}),

		CandlesIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_candles_ingested_total",
			Help: "1m feed candles accepted after validation, open and closed",
		}, []string{"symbol", "timeframe"}),
		TradesIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_trades_ingested_total",
			Help: "Aggregated trades processed by the position tracker",
		}, []string{"symbol"}),
		AggregationEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_aggregation_emitted_total",
			Help: "Higher-timeframe candles emitted by the aggregator",
		}, []string{"symbol", "timeframe"}),

		ReplayLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msr_replay_lag_seconds",
			Help: "Seconds between the last replayed candle's timestamp and now",
		}),
		ReplayCandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msr_replay_candles_total",
			Help: "Candles replayed during startup recovery",
		}),
		CheckpointPersists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msr_checkpoint_persists_total",
			Help: "Checkpoint upserts by resulting status",
		}, []string{"status"}),

		SignalCacheCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msr_signal_cache_circuit_state",
			Help: "Signal cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		SignalCacheCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msr_signal_cache_circuit_trips_total",
			Help: "Times the signal cache circuit breaker tripped open",
		}),

		StoreWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "msr_store_write_duration_seconds",
			Help:    "SQLite signal save latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "msr_cache_write_duration_seconds",
			Help:    "Redis streak cache save latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.SignalsEmittedTotal,
		m.SignalsRejectedTotal,
		m.OutcomesTotal,
		m.ActiveSignals,
		m.TrackerCacheHitsTotal,
		m.TrackerCacheMissesTotal,
		m.CandlesIngestedTotal,
		m.TradesIngestedTotal,
		m.AggregationEmitted,
		m.ReplayLagSeconds,
		m.ReplayCandlesTotal,
		m.CheckpointPersists,
		m.SignalCacheCircuitState,
		m.SignalCacheCircuitTrips,
		m.StoreWriteDur,
		m.CacheWriteDur,
	)

	return m
}

// HealthStatus reports the liveness of the engine's dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`
	ReplayDone     bool `json:"replay_done"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a fresh HealthStatus stamped with the current time.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetReplayDone(v bool) {
	h.mu.Lock()
	h.ReplayDone = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		ReplayDone      bool    `json:"replay_done"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		ReplayDone:      h.ReplayDone,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
