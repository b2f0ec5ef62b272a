// cmd/feedsim runs a simulated market-data gateway so the analyzer can be
// staged without gateway credentials. Point FEED_BASE_URL at
// http://localhost:11111 and FEED_STREAM_URL at ws://localhost:11111/api/v1/stream.
//
// Config (env vars):
//
//	SIM_ADDR          listen address (default ":11111")
//	SIM_INSTRUMENTS   comma-separated CODE:PRICE[:NAME] (default: a few US and HK stocks)
//	SIM_INTERVAL_MS   quote interval in milliseconds (default "500")
//	SIM_CANDLE_EVERY  push the forming daily candle every N quote rounds (default "10")
//	SIM_PASSWORD      when set, required at login
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stock-analyzerv1/internal/feed/sim"
)

const defaultInstruments = "US.AAPL:190:Apple Inc.,US.MSFT:410:Microsoft Corp.,US.NVDA:120:NVIDIA Corp.,HK.00700:380:Tencent Holdings,HK.09988:85:Alibaba Group"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting simulated gateway...")

	addr := envOrDefault("SIM_ADDR", ":11111")
	interval := time.Duration(envIntOrDefault("SIM_INTERVAL_MS", 500)) * time.Millisecond
	candleEvery := envIntOrDefault("SIM_CANDLE_EVERY", 10)

	instruments := parseInstruments(envOrDefault("SIM_INSTRUMENTS", defaultInstruments))
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no instruments configured via SIM_INSTRUMENTS")
	}
	log.Printf("[feedsim] %d instruments, quote interval %s", len(instruments), interval)

	g := sim.New(instruments, time.Now().UnixNano())
	g.Password = os.Getenv("SIM_PASSWORD")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx, interval, candleEvery)

	srv := &http.Server{Addr: addr, Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("[feedsim] listening on %s (stream: ws://localhost%s/api/v1/stream)", addr, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[feedsim] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[feedsim] shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func parseInstruments(s string) []sim.Instrument {
	var result []sim.Instrument
	for _, part := range strings.Split(s, ",") {
		seg := strings.SplitN(strings.TrimSpace(part), ":", 3)
		if len(seg) < 2 {
			log.Printf("[feedsim] skipping invalid instrument spec: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[feedsim] skipping instrument with bad price: %q", part)
			continue
		}
		in := sim.Instrument{Code: strings.TrimSpace(seg[0]), Price: price}
		if len(seg) == 3 {
			in.Name = strings.TrimSpace(seg[2])
		}
		result = append(result, in)
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
