package pipeline

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"time"

	"stock-analyzerv1/internal/indicator"
	"stock-analyzerv1/internal/logger"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/notification"
)

const notifyTimeout = 10 * time.Second

// secState is the live state of one security, owned by a single worker.
type secState struct {
	window    *indicator.Window
	seeded    bool
	lastPrice float64
	lastQuote time.Time
	level     int
}

type worker struct {
	id  int
	svc *Service
	sec map[string]*secState
}

func newWorker(id int, svc *Service) *worker {
	return &worker{id: id, svc: svc, sec: make(map[string]*secState)}
}

func (w *worker) run(ctx context.Context, ch <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ch:
			if t.refresh != "" {
				t.done <- w.refresh(ctx, t.refresh)
				continue
			}
			w.handle(ctx, t.ev)
		}
	}
}

// state returns the security's state, seeding its window from the store the
// first time it is seen.
func (w *worker) state(ctx context.Context, securityID string) *secState {
	st, ok := w.sec[securityID]
	if !ok {
		st = &secState{window: indicator.NewWindow(w.svc.cfg.WindowSize)}
		w.sec[securityID] = st
		if err := w.svc.deps.Store.EnsureSecurity(ctx, securityID); err != nil {
			w.fail(ctx, "ensure", securityID, err)
		}
	}
	if !st.seeded {
		if err := w.seed(ctx, securityID, st); err != nil {
			w.fail(ctx, "seed", securityID, err)
		}
	}
	return st
}

// seed loads the newest bars from the store, then re-applies the last live
// price so a reload never loses the provisional bar.
func (w *worker) seed(ctx context.Context, securityID string, st *secState) error {
	bars, err := w.svc.deps.Store.LatestBars(ctx, securityID, w.svc.cfg.WindowSize)
	if err != nil {
		return err
	}
	st.window.Seed(bars)
	st.seeded = true
	if !st.lastQuote.IsZero() {
		st.window.ApplyQuote(securityID, st.lastPrice, w.svc.bucket(securityID, st.lastQuote))
	}
	return nil
}

func (w *worker) handle(ctx context.Context, ev model.Event) {
	if !model.ValidSecurityID(ev.SecurityID) {
		w.svc.deps.Metrics.PipelineErrors.WithLabelValues("decode").Inc()
		return
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(ev.SecurityID, ev.Time()))
	st := w.state(ctx, ev.SecurityID)

	switch ev.Kind {
	case model.EventQuote:
		w.onQuote(ctx, ev, st)
	case model.EventCandle:
		w.onCandle(ctx, ev, st)
	}
}

func (w *worker) onQuote(ctx context.Context, ev model.Event, st *secState) {
	m := w.svc.deps.Metrics
	if !st.lastQuote.IsZero() && ev.TS.Before(st.lastQuote) {
		m.StaleQuotes.Inc()
		return
	}
	if !st.window.ApplyQuote(ev.SecurityID, ev.Price, w.svc.bucket(ev.SecurityID, ev.TS)) {
		m.StaleQuotes.Inc()
		return
	}
	st.lastPrice, st.lastQuote = ev.Price, ev.TS

	cache := w.svc.deps.Cache
	start := time.Now()
	if err := cache.SetRealtimePrice(ctx, ev.SecurityID, ev.Price, ev.TS); err != nil {
		w.fail(ctx, "cache_price", ev.SecurityID, err)
		return
	}
	m.CacheWriteDur.Observe(time.Since(start).Seconds())

	w.recompute(ctx, ev.SecurityID, st)
}

// onCandle folds a pushed bar into the window. The level is recomputed
// against the last live price, or the candle close when no quote was seen.
func (w *worker) onCandle(ctx context.Context, ev model.Event, st *secState) {
	bar := ev.Bar
	bar.SecurityID = ev.SecurityID
	if !st.window.Upsert(bar) {
		w.svc.deps.Metrics.StaleQuotes.Inc()
		return
	}
	if st.lastQuote.IsZero() {
		if err := w.svc.deps.Cache.SetRealtimePrice(ctx, ev.SecurityID, bar.Close, bar.TS); err != nil {
			w.fail(ctx, "cache_price", ev.SecurityID, err)
			return
		}
		st.lastPrice = bar.Close
	}
	w.recompute(ctx, ev.SecurityID, st)
}

func (w *worker) refresh(ctx context.Context, securityID string) error {
	st, ok := w.sec[securityID]
	if !ok {
		st = &secState{window: indicator.NewWindow(w.svc.cfg.WindowSize)}
		w.sec[securityID] = st
	}
	if err := w.seed(ctx, securityID, st); err != nil {
		return fmt.Errorf("refresh %s: %w", securityID, err)
	}
	if st.window.Len() == 0 {
		return nil
	}
	if st.lastPrice == 0 {
		last, _ := st.window.Last()
		st.lastPrice = last.Close
	}
	return w.recompute(ctx, securityID, st)
}

// recompute derives the indicator set from the window and writes it, then
// the level. The price write always precedes both.
func (w *worker) recompute(ctx context.Context, securityID string, st *secState) error {
	m := w.svc.deps.Metrics
	cache := w.svc.deps.Cache

	start := time.Now()
	a, err := indicator.Compute(st.window.Bars())
	if err != nil {
		return nil // empty window
	}
	m.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	m.RecomputesTotal.Inc()

	ma := a.MASet()
	if err := cache.SetMovingAverages(ctx, ma); err != nil {
		w.fail(ctx, "cache_ma", securityID, err)
		return err
	}
	if err := cache.SetSnapshot(ctx, a.Snapshot()); err != nil {
		w.fail(ctx, "cache_snapshot", securityID, err)
		return err
	}

	level := indicator.Level(st.lastPrice, ma)
	if err := cache.SetRecommendationLevel(ctx, securityID, level); err != nil {
		w.fail(ctx, "cache_level", securityID, err)
		return err
	}
	if level != st.level {
		m.LevelChanges.WithLabelValues(strconv.Itoa(level)).Inc()
		if level == 1 {
			w.notifyStrongBuy(securityID, st.lastPrice, ma)
		}
		st.level = level
	}
	return nil
}

func (w *worker) notifyStrongBuy(securityID string, price float64, ma model.MASet) {
	n := w.svc.deps.Notifier
	if n == nil {
		return
	}
	alert := notification.Alert{
		Level:      notification.AlertInfo,
		Title:      fmt.Sprintf("%s entered level 1", securityID),
		Message:    fmt.Sprintf("price %.2f is below MA60 %s (%s)", price, ma.MA60, indicator.LevelText(1)),
		SecurityID: securityID,
		Market:     model.Market(securityID),
		At:         time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[pipeline] notify %s: %v", securityID, err)
		}
	}()
}

func (w *worker) fail(ctx context.Context, stage, securityID string, err error) {
	w.svc.deps.Metrics.PipelineErrors.WithLabelValues(stage).Inc()
	slog.WarnContext(ctx, "pipeline stage failed", logger.LogWith(ctx,
		"worker", w.id, "stage", stage, "code", securityID, "error", err)...)
}
