// cmd/backfill loads daily history and reference data into the configured
// store without starting the live pipeline or the API.
//
// Usage:
//
//	go run ./cmd/backfill --days=90
//	go run ./cmd/backfill --market=US
//	go run ./cmd/backfill --codes=US.AAPL,HK.00700 --days=365 --names=false
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stock-analyzerv1/config"
	"stock-analyzerv1/internal/feed/rest"
	"stock-analyzerv1/internal/logger"
	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/reconcile"
	"stock-analyzerv1/internal/store/postgres"
	"stock-analyzerv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	days := flag.Int("days", 0, "Days of history to load (0=INITIAL_HISTORY_DAYS)")
	market := flag.String("market", "", "Run one market's reconciliation instead of the full initial load")
	codes := flag.String("codes", "", "Comma-separated codes to load instead of the watchlist")
	names := flag.Bool("names", true, "Fill missing display names afterwards")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backfill] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backfill] config: %v", err)
	}
	slogger := logger.Init("backfill", logger.ParseLevel(cfg.LogLevel))
	if *days <= 0 {
		*days = cfg.InitialHistoryDays
	}

	sessions := make(map[string]*markethours.Session, len(cfg.Markets))
	for _, m := range cfg.Markets {
		s, err := m.Session()
		if err != nil {
			log.Fatalf("[backfill] market %s: %v", m.Code, err)
		}
		sessions[s.Market] = s
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backfill] interrupted")
		cancel()
	}()

	var store model.Store
	if cfg.StoreDriver == "postgres" {
		pg, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Timeout: cfg.StoreTimeout}, slogger)
		if err != nil {
			log.Fatalf("[backfill] postgres open failed: %v", err)
		}
		store = pg
	} else {
		lite, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Timeout: cfg.StoreTimeout})
		if err != nil {
			log.Fatalf("[backfill] sqlite open failed: %v", err)
		}
		store = lite
	}
	defer store.Close()

	gateway := rest.New(rest.Config{
		BaseURL:    cfg.FeedBaseURL,
		APIKey:     cfg.FeedAPIKey,
		ClientCode: cfg.FeedClientCode,
		Password:   cfg.FeedPassword,
		TOTPSecret: cfg.FeedTOTPSecret,
	})

	job := reconcile.NewJob(reconcile.Config{
		Sessions:       sessions,
		NameBatchSize:  cfg.NameBatchSize,
		NameBatchDelay: cfg.NameBatchDelay,
	}, reconcile.Deps{
		Feed:    gateway,
		Store:   store,
		Tracked: config.LoadWatchlist(cfg.WatchlistFile, cfg.SeedCodes()),
	})

	var res reconcile.Result
	switch {
	case *market != "":
		res, err = job.RunMarket(ctx, strings.ToUpper(*market))
	case *codes != "":
		var ids []string
		for _, c := range strings.Split(*codes, ",") {
			if c = strings.TrimSpace(c); c != "" {
				ids = append(ids, strings.ToUpper(c))
			}
		}
		res, err = job.LoadHistory(ctx, ids, *days)
	default:
		res, err = job.Initialize(ctx, *days)
	}
	if err != nil {
		log.Fatalf("[backfill] %v", err)
	}
	if res.Skipped {
		fmt.Printf("run %s: %s is not a trading day, nothing to do\n", res.RunID, res.Market)
	} else {
		fmt.Printf("run %s: %d securities, %d bars, %d failed\n",
			res.RunID, res.Securities, res.Bars, len(res.Failed))
	}
	for _, id := range res.Failed {
		fmt.Printf("  failed: %s\n", id)
	}

	if *names {
		n, err := job.FillMissingNames(ctx)
		if err != nil {
			log.Fatalf("[backfill] names: %v", err)
		}
		fmt.Printf("filled %d names\n", n)
	}
}
