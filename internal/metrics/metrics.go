package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Raziel0714/daisyStockAnalysis/internal/breaker"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// Metrics holds all Prometheus metrics for the analysis service.
type Metrics struct {
	reg *prometheus.Registry

	// Stream fanout
	UpstreamsOpen  prometheus.Gauge
	UpstreamOpens  *prometheus.CounterVec // labels: interval
	UpstreamErrors *prometheus.CounterVec // labels: ticker
	Subscribers    prometheus.Gauge
	FanoutDrops    *prometheus.CounterVec // labels: ticker

	// Circuit breaker per ticker
	BreakerState *prometheus.GaugeVec   // 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: ticker

	// Analysis
	AnalyzeDur    *prometheus.HistogramVec // labels: strategy
	AnalyzeErrors *prometheus.CounterVec   // labels: strategy
	SignalsTotal  *prometheus.CounterVec   // labels: strategy, action
	SessionsOpen  prometheus.Gauge

	// Watcher
	AlertsTotal *prometheus.CounterVec // labels: strategy, action
	MarketState prometheus.Gauge       // 0=closed, 1=open
}

// New creates the metrics and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,

		UpstreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daisy_fanout_upstreams_open",
			Help: "Live upstream streams currently open",
		}),
		UpstreamOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_fanout_upstream_opens_total",
			Help: "Upstream streams opened (by interval)",
		}, []string{"interval"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_fanout_upstream_errors_total",
			Help: "Upstream streams that ended with an error",
		}, []string{"ticker"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daisy_fanout_subscribers",
			Help: "Consumers currently subscribed",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_fanout_drops_total",
			Help: "Bars dropped because a consumer queue was full",
		}, []string{"ticker"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "daisy_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"ticker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_upstream_breaker_trips_total",
			Help: "Times the upstream circuit breaker tripped open",
		}, []string{"ticker"}),

		AnalyzeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "daisy_analyze_duration_seconds",
			Help:    "Historical analysis latency including the data fetch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"strategy"}),
		AnalyzeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_analyze_errors_total",
			Help: "Historical analyses that failed",
		}, []string{"strategy"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_signals_total",
			Help: "Signals produced by live sessions",
		}, []string{"strategy", "action"}),
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daisy_sessions_open",
			Help: "Live analysis sessions currently open",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daisy_alerts_total",
			Help: "Alerts delivered by the watcher",
		}, []string{"strategy", "action"}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daisy_market_state",
			Help: "US market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.UpstreamsOpen,
		m.UpstreamOpens,
		m.UpstreamErrors,
		m.Subscribers,
		m.FanoutDrops,
		m.BreakerState,
		m.BreakerTrips,
		m.AnalyzeDur,
		m.AnalyzeErrors,
		m.SignalsTotal,
		m.SessionsOpen,
		m.AlertsTotal,
		m.MarketState,
	)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// FanoutHooks returns hooks that feed the fanout collectors.
func (m *Metrics) FanoutHooks() fanout.Hooks {
	return fanout.Hooks{
		OnOpen: func(_ string, interval model.Interval) {
			m.UpstreamsOpen.Inc()
			m.UpstreamOpens.WithLabelValues(interval.String()).Inc()
		},
		OnClose: func(string) { m.UpstreamsOpen.Dec() },
		OnError: func(ticker string, _ error) {
			m.UpstreamErrors.WithLabelValues(ticker).Inc()
		},
		OnDrop: func(ticker, _ string) {
			m.FanoutDrops.WithLabelValues(ticker).Inc()
		},
		OnSubscribers: func(delta int) { m.Subscribers.Add(float64(delta)) },
		OnBreaker: func(ticker string, state breaker.State) {
			m.BreakerState.WithLabelValues(ticker).Set(float64(state))
			if state == breaker.StateOpen {
				m.BreakerTrips.WithLabelValues(ticker).Inc()
			}
		},
	}
}

// SignalHooks returns hooks that feed the analysis collectors.
func (m *Metrics) SignalHooks() signals.Hooks {
	return signals.Hooks{
		OnAnalyze: func(strat string, took time.Duration, err error) {
			m.AnalyzeDur.WithLabelValues(strat).Observe(took.Seconds())
			if err != nil {
				m.AnalyzeErrors.WithLabelValues(strat).Inc()
			}
		},
		OnSignal: func(sig strategy.Signal) {
			m.SignalsTotal.WithLabelValues(sig.Strategy, string(sig.Action)).Inc()
		},
		OnSession: func(delta int) { m.SessionsOpen.Add(float64(delta)) },
	}
}

// ObserveAlert counts one delivered alert.
func (m *Metrics) ObserveAlert(sig strategy.Signal) {
	m.AlertsTotal.WithLabelValues(sig.Strategy, string(sig.Action)).Inc()
}

// SetMarketOpen records the market session state.
func (m *Metrics) SetMarketOpen(open bool) {
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}

// HealthStatus tracks the state of optional dependencies. A dependency
// that was never attached does not affect the overall status.
type HealthStatus struct {
	mu sync.RWMutex

	rdb *goredis.Client
	db  *sql.DB

	RedisConnected  bool
	RedisLatencyMs  float64
	SQLiteOK        bool
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a health status for the given dependencies.
// Either may be nil.
func NewHealthStatus(rdb *goredis.Client, db *sql.DB) *HealthStatus {
	return &HealthStatus{rdb: rdb, db: db, StartedAt: time.Now()}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	start := time.Now()
	err := h.rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context) {
	if h.db == nil {
		return
	}
	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Check probes every attached dependency once.
func (h *HealthStatus) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	h.CheckRedis(probeCtx)
	h.CheckSQLite(probeCtx)
}

// StartLivenessChecker probes immediately and then every interval until
// ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		h.Check(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisConnected  *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	rep := healthReport{
		Status: "healthy",
		Uptime: time.Since(h.StartedAt).Round(time.Second).String(),
	}
	failing, attached := 0, 0
	if h.rdb != nil {
		attached++
		ok := h.RedisConnected
		rep.RedisConnected = &ok
		rep.RedisLatencyMs = h.RedisLatencyMs
		if !ok {
			failing++
		}
	}
	if h.db != nil {
		attached++
		ok := h.SQLiteOK
		rep.SQLiteOK = &ok
		rep.SQLiteLatencyMs = h.SQLiteLatencyMs
		if !ok {
			failing++
		}
	}
	if !h.LastCheckAt.IsZero() {
		rep.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	h.mu.RUnlock()

	httpCode := http.StatusOK
	switch {
	case failing > 0 && failing == attached:
		rep.Status = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case failing > 0:
		rep.Status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log.With("component", "metrics"),
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
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
