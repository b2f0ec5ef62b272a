package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	// Feed / queue
	EventsTotal        *prometheus.CounterVec // labels: kind
	DroppedEvents      prometheus.Counter
	StaleQuotes        prometheus.Counter
	FeedReconnects     prometheus.Counter
	QueueSaturationPct prometheus.Gauge

	// Live pipeline
	RecomputesTotal     prometheus.Counter
	IndicatorComputeDur prometheus.Histogram
	LevelChanges        *prometheus.CounterVec // labels: level
	PipelineErrors      *prometheus.CounterVec // labels: stage

	// Cache / store latency
	CacheWriteDur  prometheus.Histogram
	StoreCommitDur prometheus.Histogram

	// Cache circuit breaker
	CacheCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CacheCircuitBreakerTrips prometheus.Counter
	CacheBufferedWrites      prometheus.Counter

	// Reconciliation
	ReconcileRuns   *prometheus.CounterVec   // labels: market, result
	ReconcileDur    *prometheus.HistogramVec // labels: market
	BarsUpserted    prometheus.Counter
	NamesFilled     prometheus.Counter
	MarketOpenState *prometheus.GaugeVec // labels: market; 0=closed, 1=open

	// HTTP query surface
	APIRequests *prometheus.CounterVec   // labels: route, code
	APILatency  *prometheus.HistogramVec // labels: route
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	fast := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_feed_events_total",
			Help: "Feed events consumed by the pipeline (by kind)",
		}, []string{"kind"}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_feed_dropped_events_total",
			Help: "Events evicted from the full feed queue (drop-oldest)",
		}),
		StaleQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_stale_quotes_total",
			Help: "Quotes dropped because a newer quote was already processed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_feed_reconnects_total",
			Help: "Feed stream reconnection attempts",
		}),
		QueueSaturationPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_feed_queue_saturation_pct",
			Help: "Feed queue fill percentage (len/cap * 100)",
		}),

		RecomputesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_recomputes_total",
			Help: "Indicator recomputations on the live path",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per event",
			Buckets: fast,
		}),
		LevelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_level_changes_total",
			Help: "Recommendation level transitions (by new level)",
		}, []string{"level"}),
		PipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_pipeline_errors_total",
			Help: "Live pipeline failures (by stage)",
		}, []string{"stage"}),

		CacheWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_cache_write_duration_seconds",
			Help:    "State cache write latency",
			Buckets: prometheus.DefBuckets,
		}),
		StoreCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_store_commit_duration_seconds",
			Help:    "Time-series store batch upsert latency",
			Buckets: prometheus.DefBuckets,
		}),

		CacheCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_cache_circuit_breaker_state",
			Help: "Cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CacheCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_cache_circuit_breaker_trips_total",
			Help: "Times the cache circuit breaker tripped open",
		}),
		CacheBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_cache_buffered_writes_total",
			Help: "Writes buffered locally while the cache circuit breaker was open",
		}),

		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_reconcile_runs_total",
			Help: "Reconciliation runs (by market and result)",
		}, []string{"market", "result"}),
		ReconcileDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_reconcile_duration_seconds",
			Help:    "Reconciliation run duration",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"market"}),
		BarsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_bars_upserted_total",
			Help: "Bars written to the time-series store",
		}),
		NamesFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_names_filled_total",
			Help: "Security display names filled from the feed",
		}),
		MarketOpenState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analyzer_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}, []string{"market"}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_api_requests_total",
			Help: "HTTP API requests (by route and status code)",
		}, []string{"route", "code"}),
		APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.DroppedEvents,
		m.StaleQuotes,
		m.FeedReconnects,
		m.QueueSaturationPct,
		m.RecomputesTotal,
		m.IndicatorComputeDur,
		m.LevelChanges,
		m.PipelineErrors,
		m.CacheWriteDur,
		m.StoreCommitDur,
		m.CacheCircuitBreakerState,
		m.CacheCircuitBreakerTrips,
		m.CacheBufferedWrites,
		m.ReconcileRuns,
		m.ReconcileDur,
		m.BarsUpserted,
		m.NamesFilled,
		m.MarketOpenState,
		m.APIRequests,
		m.APILatency,
	)
	return m
}

// Pinger is a dependency that can be pinged for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastEventTime  time.Time
	CacheConnected bool
	StoreOK        bool
	CacheLatencyMs float64
	StoreLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time

	lastReconcile map[string]time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		lastReconcile: make(map[string]time.Time),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

// SetReconciled records a successful reconciliation of market at t.
func (h *HealthStatus) SetReconciled(market string, t time.Time) {
	h.mu.Lock()
	h.lastReconcile[market] = t
	h.mu.Unlock()
}

// CheckCache pings the cache and records latency and connectivity.
func (h *HealthStatus) CheckCache(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.CacheConnected = err == nil
	h.CacheLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckStore pings the time-series store and records latency and health.
func (h *HealthStatus) CheckStore(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either pinger may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, cache, store Pinger, interval time.Duration) {
	checkAll := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if cache != nil {
			h.CheckCache(checkCtx, cache)
		}
		if store != nil {
			h.CheckStore(checkCtx, store)
		}
	}
	go func() {
		checkAll()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkAll()
			}
		}
	}()
}

type healthReport struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	FeedConnected  bool              `json:"feed_connected"`
	LastEventTime  string            `json:"last_event_time"`
	EventAge       string            `json:"event_age"`
	CacheConnected bool              `json:"cache_connected"`
	CacheLatencyMs float64           `json:"cache_latency_ms"`
	StoreOK        bool              `json:"store_ok"`
	StoreLatencyMs float64           `json:"store_latency_ms"`
	LastReconcile  map[string]string `json:"last_reconcile"`
	LastCheckAt    string            `json:"last_check_at"`
}

// Report returns the overall status and its HTTP code.
// "degraded" when any dependency is down, "unhealthy" when cache and store both are.
func (h *HealthStatus) Report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.CacheConnected || !h.StoreOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.CacheConnected && !h.StoreOK {
		overall = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	markets := make([]string, 0, len(h.lastReconcile))
	for m := range h.lastReconcile {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	rec := make(map[string]string, len(markets))
	for _, m := range markets {
		rec[m] = h.lastReconcile[m].Format(time.RFC3339)
	}

	return healthReport{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		LastEventTime:  h.LastEventTime.Format(time.RFC3339),
		EventAge:       eventAge,
		CacheConnected: h.CacheConnected,
		CacheLatencyMs: h.CacheLatencyMs,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		LastReconcile:  rec,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
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
