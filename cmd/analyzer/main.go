package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stock-analyzerv1/config"
	"stock-analyzerv1/internal/analysis"
	"stock-analyzerv1/internal/api"
	"stock-analyzerv1/internal/feed"
	"stock-analyzerv1/internal/feed/rest"
	"stock-analyzerv1/internal/feed/ws"
	"stock-analyzerv1/internal/logger"
	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/metrics"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/notification"
	"stock-analyzerv1/internal/pipeline"
	"stock-analyzerv1/internal/ranking"
	"stock-analyzerv1/internal/reconcile"
	"stock-analyzerv1/internal/store/memory"
	"stock-analyzerv1/internal/store/postgres"
	redisstore "stock-analyzerv1/internal/store/redis"
	"stock-analyzerv1/internal/store/sqlite"
)

var streamKinds = []model.EventKind{model.EventQuote, model.EventCandle}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[analyzer] starting...")

	// ---- Load config from env ----
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[analyzer] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[analyzer] config: %v", err)
	}
	slogger := logger.Init("analyzer", logger.ParseLevel(cfg.LogLevel))

	// ---- Market sessions ----
	sessionList := make([]*markethours.Session, 0, len(cfg.Markets))
	sessions := make(map[string]*markethours.Session, len(cfg.Markets))
	for _, m := range cfg.Markets {
		s, err := m.Session()
		if err != nil {
			log.Fatalf("[analyzer] market %s: %v", m.Code, err)
		}
		sessionList = append(sessionList, s)
		sessions[s.Market] = s
	}
	log.Printf("[analyzer] %d markets configured", len(sessionList))

	watchlist := config.LoadWatchlist(cfg.WatchlistFile, cfg.SeedCodes())
	log.Printf("[analyzer] tracking %d securities", len(watchlist.Codes()))

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Setup metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	// ---- Time-series store ----
	store, err := openStore(ctx, cfg, slogger)
	if err != nil {
		log.Fatalf("[analyzer] store init failed: %v", err)
	}
	defer store.Close()
	log.Printf("[analyzer] %s store ready", cfg.StoreDriver)

	// ---- State cache ----
	hub := api.NewHub()
	cache, redisCache := openCache(cfg, prom, hub)
	if redisCache != nil {
		defer redisCache.Close()
		go hub.RunRedis(ctx, redisCache.Client())
	}

	// ---- Periodic liveness checks ----
	var cachePinger metrics.Pinger
	if p, ok := cache.(metrics.Pinger); ok {
		cachePinger = p
	}
	health.StartLivenessChecker(ctx, cachePinger, store, 10*time.Second)

	// ---- Feed gateway ----
	gateway := rest.New(rest.Config{
		BaseURL:    cfg.FeedBaseURL,
		APIKey:     cfg.FeedAPIKey,
		ClientCode: cfg.FeedClientCode,
		Password:   cfg.FeedPassword,
		TOTPSecret: cfg.FeedTOTPSecret,
	})
	if err := gateway.Connect(ctx); err != nil {
		log.Printf("[analyzer] WARNING: feed login failed: %v (reconcile will retry)", err)
	}

	queue := feed.NewQueue(cfg.QueueSize)
	queue.OnDrop = func(model.Event) { prom.DroppedEvents.Inc() }

	stream, err := ws.New(ws.Config{URL: cfg.FeedStreamURL, TokenSource: gateway.Token}, queue)
	if err != nil {
		log.Fatalf("[analyzer] stream init failed: %v", err)
	}
	stream.OnReconnect = func() { prom.FeedReconnects.Inc() }
	stream.OnConnected = health.SetFeedConnected
	if err := stream.Subscribe(watchlist.Codes(), streamKinds); err != nil {
		log.Printf("[analyzer] WARNING: subscribe failed: %v", err)
	}
	go func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[analyzer] stream stopped: %v", err)
		}
	}()

	// ---- Live pipeline ----
	notifier := notification.FromConfig(slogger, cfg.TelegramBotToken, cfg.TelegramChatID, cfg.WebhookURL)

	pipe := pipeline.New(pipeline.Config{
		Workers:    cfg.PipelineWorkers,
		WindowSize: cfg.WindowSize,
		Sessions:   sessions,
	}, pipeline.Deps{
		Queue:    queue,
		Store:    store,
		Cache:    cache,
		Metrics:  prom,
		Health:   health,
		Notifier: notifier,
	})
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[analyzer] pipeline stopped: %v", err)
		}
	}()

	// ---- Reconciliation ----
	job := reconcile.NewJob(reconcile.Config{
		Sessions:       sessions,
		NameBatchSize:  cfg.NameBatchSize,
		NameBatchDelay: cfg.NameBatchDelay,
	}, reconcile.Deps{
		Feed:      gateway,
		Store:     store,
		Tracked:   watchlist,
		Refresher: pipe,
		Metrics:   prom,
		Health:    health,
		Notifier:  notifier,
	})

	go func() {
		res, err := job.Initialize(ctx, cfg.InitialHistoryDays)
		if err != nil {
			log.Printf("[analyzer] WARNING: initial history load failed: %v", err)
			return
		}
		log.Printf("[analyzer] initial history: %d securities, %d bars, %d failed",
			res.Securities, res.Bars, len(res.Failed))
	}()

	sched := reconcile.NewScheduler(ctx, job)
	for _, m := range cfg.Markets {
		spec, err := m.CronSpec()
		if err != nil {
			log.Fatalf("[analyzer] market %s: %v", m.Code, err)
		}
		if err := sched.RegisterMarket(m.Code, spec); err != nil {
			log.Fatalf("[analyzer] schedule %s: %v", m.Code, err)
		}
	}
	if err := sched.RegisterNames(cfg.NamesCron); err != nil {
		log.Fatalf("[analyzer] schedule names: %v", err)
	}
	sched.Start()

	// watchlist edits resubscribe the stream and backfill new codes
	watchlist.OnChange(func(added, removed []string) {
		if len(removed) > 0 {
			if err := stream.Unsubscribe(removed, streamKinds); err != nil {
				log.Printf("[analyzer] unsubscribe %v: %v", removed, err)
			}
		}
		if len(added) == 0 {
			return
		}
		if err := stream.Subscribe(added, streamKinds); err != nil {
			log.Printf("[analyzer] subscribe %v: %v", added, err)
		}
		go func() {
			if _, err := job.LoadHistory(ctx, added, cfg.InitialHistoryDays); err != nil {
				log.Printf("[analyzer] history for %v: %v", added, err)
			}
		}()
	})

	// ---- Market open gauges ----
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			now := time.Now()
			for _, s := range sessionList {
				open := 0.0
				if s.IsOpen(now) {
					open = 1
				}
				prom.MarketOpenState.WithLabelValues(s.Market).Set(open)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// ---- HTTP API ----
	ranker := ranking.New(cache, store)
	ranker.Tracked = watchlist
	svc := analysis.New(store, cache, ranker, watchlist, gateway)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Query:    svc,
			Hub:      hub,
			Health:   health,
			Metrics:  prom,
			Sessions: sessionList,
			APIKey:   cfg.APIKey,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[analyzer] HTTP API on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[analyzer] http server: %v", err)
		}
	}()

	log.Println("[analyzer] running. Press Ctrl+C to stop.")
	<-sigCh
	log.Println("[analyzer] shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	sched.Stop()
	cancel()
	<-pipeDone
	metricsSrv.Stop(shutdownCtx)

	log.Println("[analyzer] stopped")
}

func openStore(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (model.Store, error) {
	if cfg.StoreDriver == "postgres" {
		pg, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Timeout: cfg.StoreTimeout}, slogger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Timeout: cfg.StoreTimeout})
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// openCache returns the configured state cache. A Redis cache that cannot
// be reached falls back to the in-memory cache; the second result is nil
// unless Redis is in use.
func openCache(cfg *config.Config, prom *metrics.Metrics, hub *api.Hub) (model.StateCache, *redisstore.Cache) {
	if cfg.CacheDriver == "redis" {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.CacheCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.CacheCircuitBreakerTrips.Inc()
			}
			log.Printf("[analyzer] cache breaker %v -> %v", from, to)
		}
		rc, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.CacheTimeout,
		}, cb)
		if err == nil {
			rc.OnWrite = func(d time.Duration) { prom.CacheWriteDur.Observe(d.Seconds()) }
			bc := redisstore.NewBufferedCache(rc, 0)
			bc.OnBuffer = func() { prom.CacheBufferedWrites.Inc() }
			bc.OnFlush = func(n int) { log.Printf("[analyzer] cache recovered, replayed %d writes", n) }
			return bc, rc
		}
		log.Printf("[analyzer] WARNING: redis init failed: %v (continuing with in-memory cache)", err)
	}

	mc := memory.NewCache()
	mc.OnUpdate = func(st model.RealtimeState) {
		data, err := json.Marshal(st)
		if err != nil {
			return
		}
		hub.Broadcast(st.SecurityID, data)
	}
	return mc, nil
}
