// Package metrics exposes Prometheus instrumentation and the /healthz probe
// for the analysis service.
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

// Metrics holds all Prometheus collectors for the analysis pipeline.
type Metrics struct {
	// Pipeline
	StageDuration *prometheus.HistogramVec // labels: stage=fetch|indicators|trend|signal|consensus
	RequestsTotal *prometheus.CounterVec   // labels: op
	ErrorsTotal   *prometheus.CounterVec   // labels: op, kind
	SignalsTotal  *prometheus.CounterVec   // labels: signal

	// Cache
	CacheLookups *prometheus.CounterVec // labels: result=hit|miss

	// Redis circuit breaker
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter

	// Bar store
	BarsPersisted prometheus.Counter

	// WebSocket push
	WSClients       prometheus.Gauge
	WSBroadcasts    prometheus.Counter
	WSDeliveryDrops prometheus.Counter
	BroadcastErrors prometheus.Counter

	// Cache warmer
	WarmerRuns *prometheus.CounterVec // labels: status=ok|error
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketscope_stage_duration_seconds",
			Help:    "Pipeline stage latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscope_requests_total",
			Help: "Analysis requests by operation",
		}, []string{"op"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscope_errors_total",
			Help: "Failed analysis requests by operation and error kind",
		}, []string{"op", "kind"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscope_signals_total",
			Help: "Trading signals produced, by call",
		}, []string{"signal"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscope_cache_lookups_total",
			Help: "Result cache lookups by outcome",
		}, []string{"result"}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketscope_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketscope_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		BarsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketscope_bars_persisted_total",
			Help: "Bars written to the SQLite bar store",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketscope_ws_clients",
			Help: "Connected WebSocket subscribers",
		}),
		WSBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketscope_ws_broadcasts_total",
			Help: "market_update messages fanned out",
		}),
		WSDeliveryDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketscope_ws_delivery_drops_total",
			Help: "Messages dropped because a subscriber's send buffer was full",
		}),
		BroadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketscope_ws_broadcast_errors_total",
			Help: "Broadcaster ticks that failed to build an update",
		}),

		WarmerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscope_warmer_runs_total",
			Help: "Cache warmer job runs per symbol/timeframe by outcome",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.StageDuration,
		m.RequestsTotal,
		m.ErrorsTotal,
		m.SignalsTotal,
		m.CacheLookups,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.BarsPersisted,
		m.WSClients,
		m.WSBroadcasts,
		m.WSDeliveryDrops,
		m.BroadcastErrors,
		m.WarmerRuns,
	)
	return m
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// HealthStatus tracks dependency health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	UpstreamOK     bool      `json:"upstream_ok"`
	LastUpstreamAt time.Time `json:"last_upstream_at"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status that assumes the upstream is
// reachable until a fetch says otherwise.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{UpstreamOK: true, StartedAt: time.Now()}
}

// RecordUpstream notes the outcome of a bar or quote fetch.
func (h *HealthStatus) RecordUpstream(err error) {
	h.mu.Lock()
	h.UpstreamOK = err == nil
	if err == nil {
		h.LastUpstreamAt = time.Now()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the bar store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency may be nil.
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

// Snapshot reports the overall status: "healthy", "degraded" when an
// optional store is down, or "unhealthy" when the upstream is failing.
func (h *HealthStatus) Snapshot() (status string, code int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case !h.UpstreamOK:
		return "unhealthy", http.StatusServiceUnavailable
	case h.RedisEnabled && !h.RedisConnected, h.SQLiteEnabled && !h.SQLiteOK:
		return "degraded", http.StatusOK
	default:
		return "healthy", http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, code := h.Snapshot()

	h.mu.RLock()
	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		UpstreamOK      bool    `json:"upstream_ok"`
		LastUpstreamAt  string  `json:"last_upstream_at"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		UpstreamOK:      h.UpstreamOK,
		LastUpstreamAt:  h.LastUpstreamAt.Format(time.RFC3339),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
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
