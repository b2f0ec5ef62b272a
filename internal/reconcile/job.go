// Package reconcile backfills authoritative bars after each market's session
// closes, fills in missing security names and performs the initial history
// load. Runs are serialized; a feed outage aborts the current run only.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"stock-analyzerv1/internal/logger"
	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/metrics"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/notification"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Tracked lists the securities to reconcile.
type Tracked interface {
	Codes() []string
	ForMarket(market string) []string
}

// Refresher reloads a security's live window after new bars were written.
type Refresher interface {
	Refresh(ctx context.Context, securityID string) error
}

// Config tunes the job.
type Config struct {
	Sessions       map[string]*markethours.Session
	NameBatchSize  int           // default 50
	NameBatchDelay time.Duration // pause between name batches
}

// Deps are the collaborators of the job. Refresher, Metrics, Health and
// Notifier are optional.
type Deps struct {
	Feed      model.HistoryFeed
	Store     model.Store
	Tracked   Tracked
	Refresher Refresher
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Notifier  notification.Notifier
}

// Result summarizes one run.
type Result struct {
	RunID      string
	Market     string
	Securities int
	Bars       int
	Failed     []string
	Skipped    bool // not a trading day
}

// Job runs reconciliation work.
type Job struct {
	cfg  Config
	deps Deps
	mu   sync.Mutex // one run at a time
	now  func() time.Time
}

// NewJob creates a job.
func NewJob(cfg Config, deps Deps) *Job {
	if cfg.NameBatchSize <= 0 {
		cfg.NameBatchSize = 50
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	return &Job{cfg: cfg, deps: deps, now: time.Now}
}

// begin tags ctx with a fresh run id.
func begin(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return logger.WithTraceID(ctx, id), id
}

// RunMarket fetches the elapsed session's bars for every tracked security of
// market and upserts them. Per-security failures are logged and skipped;
// ErrFeedUnavailable aborts the run and is returned.
func (j *Job) RunMarket(ctx context.Context, market string) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, runID := begin(ctx)
	res := Result{RunID: runID, Market: market}

	sess, ok := j.cfg.Sessions[market]
	if !ok {
		return res, fmt.Errorf("reconcile: unknown market %q", market)
	}
	now := j.now()
	if !sess.IsTradingDay(now) {
		res.Skipped = true
		slog.InfoContext(ctx, "reconcile skipped: not a trading day", logger.LogWith(ctx, "market", market)...)
		return res, nil
	}

	start := time.Now()
	ids := j.deps.Tracked.ForMarket(market)
	res.Securities = len(ids)
	from, to := sess.ElapsedRange(now)
	slog.InfoContext(ctx, "reconcile started", logger.LogWith(ctx,
		"market", market, "securities", len(ids), "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))...)

	if err := j.deps.Feed.Connect(ctx); err != nil {
		return res, j.abort(ctx, market, start, err)
	}

	for _, id := range ids {
		n, err := j.syncSecurity(ctx, id, from, to)
		if errors.Is(err, model.ErrFeedUnavailable) {
			return res, j.abort(ctx, market, start, err)
		}
		if err != nil {
			res.Failed = append(res.Failed, id)
			slog.WarnContext(ctx, "reconcile security failed", logger.LogWith(ctx, "code", id, "error", err)...)
			continue
		}
		res.Bars += n
	}

	result := "ok"
	if len(res.Failed) > 0 {
		result = "partial"
	}
	j.deps.Metrics.ReconcileRuns.WithLabelValues(market, result).Inc()
	j.deps.Metrics.ReconcileDur.WithLabelValues(market).Observe(time.Since(start).Seconds())
	if j.deps.Health != nil {
		j.deps.Health.SetReconciled(market, now)
	}
	slog.InfoContext(ctx, "reconcile finished", logger.LogWith(ctx,
		"market", market, "bars", res.Bars, "failed", len(res.Failed), "took", time.Since(start).String())...)
	return res, nil
}

// syncSecurity fetches [from, to] for one security, upserts it and refreshes
// the live window.
func (j *Job) syncSecurity(ctx context.Context, id string, from, to time.Time) (int, error) {
	bars, err := j.deps.Feed.RequestHistory(ctx, id, from, to)
	if err != nil {
		return 0, err
	}
	if err := j.deps.Store.EnsureSecurity(ctx, id); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := j.deps.Store.UpsertBars(ctx, id, bars)
	if err != nil {
		return 0, err
	}
	j.deps.Metrics.StoreCommitDur.Observe(time.Since(start).Seconds())
	j.deps.Metrics.BarsUpserted.Add(float64(n))

	if j.deps.Refresher != nil && n > 0 {
		if err := j.deps.Refresher.Refresh(ctx, id); err != nil {
			slog.WarnContext(ctx, "live refresh failed", logger.LogWith(ctx, "code", id, "error", err)...)
		}
	}
	return n, nil
}

func (j *Job) abort(ctx context.Context, market string, start time.Time, err error) error {
	j.deps.Metrics.ReconcileRuns.WithLabelValues(market, "aborted").Inc()
	j.deps.Metrics.ReconcileDur.WithLabelValues(market).Observe(time.Since(start).Seconds())
	slog.ErrorContext(ctx, "reconcile aborted", logger.LogWith(ctx, "market", market, "error", err)...)

	if n := j.deps.Notifier; n != nil {
		alert := notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("%s reconciliation aborted", market),
			Message: fmt.Sprintf("run %s: %v; retrying at the next scheduled close", logger.TraceID(ctx), err),
			Market:  market,
			At:      time.Now().UTC(),
		}
		if serr := n.Send(ctx, alert); serr != nil {
			log.Printf("[reconcile] notify: %v", serr)
		}
	}
	return fmt.Errorf("reconcile %s: %w", market, err)
}

// FillMissingNames looks up display names for every security stored without
// one, in batches with a pause between batches. Returns the number filled.
func (j *Job) FillMissingNames(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ctx, _ = begin(ctx)

	ids, err := j.deps.Store.SecuritiesMissingName(ctx)
	if err != nil {
		return 0, fmt.Errorf("names: list: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := j.deps.Feed.Connect(ctx); err != nil {
		return 0, fmt.Errorf("names: %w", err)
	}
	slog.InfoContext(ctx, "filling missing names", logger.LogWith(ctx, "securities", len(ids))...)

	filled := 0
	for i := 0; i < len(ids); i += j.cfg.NameBatchSize {
		if i > 0 && j.cfg.NameBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return filled, ctx.Err()
			case <-time.After(j.cfg.NameBatchDelay):
			}
		}
		batch := ids[i:min(i+j.cfg.NameBatchSize, len(ids))]

		names, err := j.deps.Feed.Names(ctx, batch)
		if errors.Is(err, model.ErrFeedUnavailable) {
			return filled, fmt.Errorf("names: %w", err)
		}
		if err != nil {
			slog.WarnContext(ctx, "names batch failed", logger.LogWith(ctx, "offset", i, "error", err)...)
			continue
		}
		for _, id := range batch {
			name := names[id]
			if name == "" {
				continue
			}
			if err := j.setName(ctx, id, name); err != nil {
				slog.WarnContext(ctx, "store name failed", logger.LogWith(ctx, "code", id, "error", err)...)
				continue
			}
			filled++
		}
	}
	j.deps.Metrics.NamesFilled.Add(float64(filled))
	slog.InfoContext(ctx, "names filled", logger.LogWith(ctx, "filled", filled, "missing", len(ids))...)
	return filled, nil
}

// setName updates only the display name, preserving other reference fields.
func (j *Job) setName(ctx context.Context, id, name string) error {
	info, err := j.deps.Store.GetSecurityInfo(ctx, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	info.SecurityID = id
	info.DisplayName = name
	info.LastUpdated = j.now()
	return j.deps.Store.UpsertSecurityInfo(ctx, info)
}

// Initialize imports reference info for every configured market, then loads
// days of history for every tracked security.
func (j *Job) Initialize(ctx context.Context, days int) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, runID := begin(ctx)
	res := Result{RunID: runID}
	if err := j.deps.Feed.Connect(ctx); err != nil {
		return res, fmt.Errorf("initialize: %w", err)
	}

	for market := range j.cfg.Sessions {
		infos, err := j.deps.Feed.ReferenceInfo(ctx, market)
		if errors.Is(err, model.ErrFeedUnavailable) {
			return res, fmt.Errorf("initialize: %w", err)
		}
		if err != nil {
			slog.WarnContext(ctx, "reference info failed", logger.LogWith(ctx, "market", market, "error", err)...)
			continue
		}
		stored := 0
		for _, info := range infos {
			if err := j.deps.Store.UpsertSecurityInfo(ctx, info); err != nil {
				slog.WarnContext(ctx, "store reference info failed", logger.LogWith(ctx, "code", info.SecurityID, "error", err)...)
				continue
			}
			stored++
		}
		slog.InfoContext(ctx, "reference info imported", logger.LogWith(ctx, "market", market, "securities", stored)...)
	}

	ids := j.deps.Tracked.Codes()
	res.Securities = len(ids)
	var err error
	res.Bars, res.Failed, err = j.loadHistory(ctx, ids, days)
	return res, err
}

// LoadHistory loads days of history for ids, typically codes just added to
// the watchlist.
func (j *Job) LoadHistory(ctx context.Context, ids []string, days int) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, runID := begin(ctx)
	res := Result{RunID: runID, Securities: len(ids)}
	if err := j.deps.Feed.Connect(ctx); err != nil {
		return res, fmt.Errorf("load history: %w", err)
	}
	var err error
	res.Bars, res.Failed, err = j.loadHistory(ctx, ids, days)
	return res, err
}

func (j *Job) loadHistory(ctx context.Context, ids []string, days int) (int, []string, error) {
	if days <= 0 {
		days = 30
	}
	now := j.now()
	from := now.AddDate(0, 0, -days)

	total := 0
	var failed []string
	for _, id := range ids {
		n, err := j.syncSecurity(ctx, id, from, now)
		if errors.Is(err, model.ErrFeedUnavailable) {
			return total, failed, fmt.Errorf("load history: %w", err)
		}
		if err != nil {
			failed = append(failed, id)
			slog.WarnContext(ctx, "history load failed", logger.LogWith(ctx, "code", id, "error", err)...)
			continue
		}
		total += n
	}
	slog.InfoContext(ctx, "history loaded", logger.LogWith(ctx,
		"securities", len(ids), "bars", total, "failed", len(failed), "days", days)...)
	return total, failed, nil
}
