package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"papertrader/internal/breaker"
	"papertrader/internal/model"
)

// Metrics holds all Prometheus metrics for the paper-trading engine.
type Metrics struct {
	registry *prometheus.Registry

	Evaluations   prometheus.Counter
	Signals       *prometheus.CounterVec // labels: action
	TradesOpened  prometheus.Counter
	TradesClosed  *prometheus.CounterVec // labels: reason
	TicksSkipped  prometheus.Counter
	TickFailures  prometheus.Counter
	TickDuration  prometheus.Histogram
	LastHeartbeat prometheus.Gauge
	LastPrice     prometheus.Gauge

	// Circuit breakers (binance, redis)
	BreakerState *prometheus.GaugeVec   // 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name

	WSClients prometheus.Gauge

	health *HealthStatus
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_evaluations_total",
			Help: "Completed strategy evaluations",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_signals_total",
			Help: "Non-HOLD decisions by action",
		}, []string{"action"}),
		TradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_trades_opened_total",
			Help: "Paper trades opened by the scheduler",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_trades_closed_total",
			Help: "Paper trades closed by exit monitoring, by reason",
		}, []string{"reason"}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_ticks_skipped_total",
			Help: "Timer fires dropped because a tick was still running",
		}),
		TickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_tick_failures_total",
			Help: "Ticks that ended with an error",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "papertrader_tick_duration_seconds",
			Help:    "Wall time of one evaluation tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		LastHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_last_heartbeat_timestamp_seconds",
			Help: "Unix time of the last completed evaluation",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_last_price",
			Help: "Last price observed for the configured symbol",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "papertrader_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		m.Evaluations,
		m.Signals,
		m.TradesOpened,
		m.TradesClosed,
		m.TicksSkipped,
		m.TickFailures,
		m.TickDuration,
		m.LastHeartbeat,
		m.LastPrice,
		m.BreakerState,
		m.BreakerTrips,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the registry for handlers and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AttachHealth makes every evaluation refresh h's heartbeat.
func (m *Metrics) AttachHealth(h *HealthStatus) { m.health = h }

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(d time.Duration, err error) {
	m.TickDuration.Observe(d.Seconds())
	if err != nil {
		m.TickFailures.Inc()
	}
}

// TickSkipped records a dropped timer fire.
func (m *Metrics) TickSkipped() { m.TicksSkipped.Inc() }

// Evaluated records a completed evaluation and its action.
func (m *Metrics) Evaluated(action model.Action, price float64, at time.Time) {
	m.Evaluations.Inc()
	m.LastHeartbeat.Set(float64(at.UnixMilli()) / 1000)
	m.LastPrice.Set(price)
	if m.health != nil {
		m.health.SetLastHeartbeat(at)
	}
	if action.IsSide() {
		m.Signals.WithLabelValues(string(action)).Inc()
	}
}

// TradeOpened records a scheduler-opened trade.
func (m *Metrics) TradeOpened() { m.TradesOpened.Inc() }

// TradeClosed records an exit.
func (m *Metrics) TradeClosed(reason model.CloseReason) {
	m.TradesClosed.WithLabelValues(string(reason)).Inc()
}

// SetWSClients updates the connected-client gauge.
func (m *Metrics) SetWSClients(n int) { m.WSClients.Set(float64(n)) }

// WatchBreaker mirrors b's transitions into the breaker gauges.
// It replaces any existing OnStateChange callback and logs transitions itself.
func (m *Metrics) WatchBreaker(b *breaker.Breaker) {
	b.OnStateChange = func(name string, from, to breaker.State) {
		log.Printf("[metrics] breaker %s: %s -> %s", name, from, to)
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
}

// Pinger is anything that can report its own liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	EngineRunning   bool      `json:"engine_running"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	RedisConfigured bool      `json:"redis_configured"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetEngineRunning(v bool) {
	h.mu.Lock()
	h.EngineRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastHeartbeat(t time.Time) {
	h.mu.Lock()
	h.LastHeartbeat = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConfigured = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckStore pings the trade store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, store Pinger) {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs dependency checks immediately and then every interval.
// rdb may be nil when Redis is not configured.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, store Pinger, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if store != nil {
			h.CheckStore(probeCtx, store)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
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

	redisOK := !h.RedisConfigured || h.RedisConnected
	if !h.EngineRunning || !h.SQLiteOK || !redisOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.EngineRunning {
		overallStatus = "unhealthy"
	}

	heartbeatAge := ""
	if !h.LastHeartbeat.IsZero() {
		heartbeatAge = time.Since(h.LastHeartbeat).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		EngineRunning   bool    `json:"engine_running"`
		LastHeartbeat   string  `json:"last_heartbeat"`
		HeartbeatAge    string  `json:"heartbeat_age"`
		RedisConfigured bool    `json:"redis_configured"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		EngineRunning:   h.EngineRunning,
		LastHeartbeat:   h.LastHeartbeat.Format(time.RFC3339),
		HeartbeatAge:    heartbeatAge,
		RedisConfigured: h.RedisConfigured,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
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
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
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
