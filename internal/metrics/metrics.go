// Package metrics exposes Prometheus metrics and a health endpoint for the
// strategy runtime.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the strategy runtime.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	SkippedCycles prometheus.Counter
	TradesTotal   *prometheus.CounterVec // labels: side
	StopLossTotal prometheus.Counter
	DecisionDur   prometheus.Histogram

	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	PositionOpen  prometheus.Gauge // 0=flat, 1=long
	FeedCandles   prometheus.Counter
	FeedReconnect prometheus.Counter
	PlotDrops     prometheus.Counter // plots skipped while the sink breaker is open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_cycles_total",
			Help: "Total decision cycles executed",
		}),
		SkippedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_cycles_skipped_total",
			Help: "Cycles skipped due to insufficient data (EMA warm-up)",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strategy_trades_total",
			Help: "Total trade records produced (by side)",
		}, []string{"side"}),
		StopLossTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_stop_loss_total",
			Help: "Positions closed by the simulated stop-loss",
		}),
		DecisionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strategy_decision_duration_seconds",
			Help:    "Decision cycle compute latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_equity",
			Help: "Portfolio equity (cash + marked position)",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_cash",
			Help: "Free cash available for new entries",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_position_open",
			Help: "Whether a position is open (0=flat, 1=long)",
		}),
		FeedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_candles_total",
			Help: "Closed candles received from the live feed",
		}),
		FeedReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Live feed reconnection attempts",
		}),
		PlotDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plot_drops_total",
			Help: "Indicator plots dropped while the sink circuit breaker was open",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.SkippedCycles,
		m.TradesTotal,
		m.StopLossTotal,
		m.DecisionDur,
		m.Equity,
		m.Cash,
		m.PositionOpen,
		m.FeedCandles,
		m.FeedReconnect,
		m.PlotDrops,
	)

	return m
}

// HealthStatus represents runtime health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
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

func (h *HealthStatus) SetLastCycleAt(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.SQLiteOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	status := struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		FeedConnected  bool   `json:"feed_connected"`
		RedisConnected bool   `json:"redis_connected"`
		SQLiteOK       bool   `json:"sqlite_ok"`
		LastCycleAt    string `json:"last_cycle_at"`
	}{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		RedisConnected: h.RedisConnected,
		SQLiteOK:       h.SQLiteOK,
		LastCycleAt:    h.LastCycleAt.Format(time.RFC3339),
	}

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
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
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
