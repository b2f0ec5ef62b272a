// Package analysis is the read-only query surface behind the HTTP API:
// historical analysis from the time-series store, realtime analysis and the
// ranked list from the fast state cache, and the tracked-list operations.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"stock-analyzerv1/internal/indicator"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/ranking"
)

const defaultDays = 30

// Watchlist is the mutable tracked list.
type Watchlist interface {
	Codes() []string
	Update(codes []string) (bool, string)
}

// Namer resolves display names, e.g. the feed gateway.
type Namer interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Report is the analysis of a bar range and its batch recommendation.
type Report struct {
	Analysis       indicator.Analysis   `json:"analysis"`
	Recommendation model.Recommendation `json:"recommendations"`
	Timestamp      time.Time            `json:"timestamp"`
}

// BarsResult is a bar range with its report.
type BarsResult struct {
	Code     string           `json:"code"`
	Bars     []model.PriceBar `json:"data"`
	Analysis Report           `json:"analysis"`
}

// LatestData is the newest stored bar with its change against the one before.
type LatestData struct {
	model.PriceBar
	ChangePercent model.Opt `json:"change_percent"`
}

// StoredSecurity summarizes one stored security.
type StoredSecurity struct {
	Code       string         `json:"code"`
	LatestData LatestData     `json:"latest_data"`
	Stats      model.BarStats `json:"stats"`
}

// TrackedSummary is the per-security and overall store summary.
type TrackedSummary struct {
	Stocks  []StoredSecurity `json:"stocks"`
	Summary model.StoreStats `json:"summary"`
}

// FullHistory is every stored bar of a security plus its reference info.
type FullHistory struct {
	Code string              `json:"code"`
	Bars []model.PriceBar    `json:"data"`
	Info *model.SecurityInfo `json:"info"`
}

// RealtimeAnalysis is the live recommendation of one security.
type RealtimeAnalysis struct {
	Code           string               `json:"code"`
	Price          float64              `json:"price"`
	ObservedAt     time.Time            `json:"observed_at"`
	Level          int                  `json:"recommendation_level"`
	LevelText      string               `json:"recommendation_text"`
	MovingAverages model.MASet          `json:"moving_averages"`
	Recommendation model.Recommendation `json:"recommendation"`
}

// Service answers queries. Feed may be nil.
type Service struct {
	store     model.Store
	cache     model.StateCache
	ranker    *ranking.Service
	watchlist Watchlist
	feed      Namer
	now       func() time.Time
}

// New creates the query service.
func New(store model.Store, cache model.StateCache, ranker *ranking.Service, watchlist Watchlist, feed Namer) *Service {
	return &Service{store: store, cache: cache, ranker: ranker, watchlist: watchlist, feed: feed, now: time.Now}
}

func validate(code string) error {
	if !model.ValidSecurityID(code) {
		return fmt.Errorf("%q: %w", code, model.ErrInvalidSecurity)
	}
	return nil
}

// bars loads the last days of bars, ErrNotFound when there are none.
func (s *Service) bars(ctx context.Context, code string, days int) ([]model.PriceBar, error) {
	if err := validate(code); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = defaultDays
	}
	end := s.now()
	bars, err := s.store.QueryBars(ctx, code, end.AddDate(0, 0, -days), end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s in the last %d days: %w", code, days, model.ErrNotFound)
	}
	return bars, nil
}

func (s *Service) report(bars []model.PriceBar) (Report, error) {
	a, err := indicator.Compute(bars)
	if err != nil {
		return Report{}, err
	}
	return Report{Analysis: a, Recommendation: indicator.Recommend(a), Timestamp: s.now()}, nil
}

// GetBars returns the last days of bars for code with their analysis.
func (s *Service) GetBars(ctx context.Context, code string, days int) (BarsResult, error) {
	bars, err := s.bars(ctx, code, days)
	if err != nil {
		return BarsResult{}, err
	}
	r, err := s.report(bars)
	if err != nil {
		return BarsResult{}, err
	}
	return BarsResult{Code: code, Bars: bars, Analysis: r}, nil
}

// GetSnapshotAnalysis returns only the analysis of the last days of bars.
func (s *Service) GetSnapshotAnalysis(ctx context.Context, code string, days int) (Report, error) {
	bars, err := s.bars(ctx, code, days)
	if err != nil {
		return Report{}, err
	}
	return s.report(bars)
}

// GetTrackedSummary summarizes every security in the store.
func (s *Service) GetTrackedSummary(ctx context.Context) (TrackedSummary, error) {
	ids, err := s.store.QueryDistinctSecurities(ctx)
	if err != nil {
		return TrackedSummary{}, err
	}

	out := TrackedSummary{Stocks: make([]StoredSecurity, 0, len(ids))}
	for _, id := range ids {
		latest, err := s.store.LatestBars(ctx, id, 2)
		if err != nil {
			return TrackedSummary{}, err
		}
		if len(latest) == 0 {
			continue
		}
		stats, err := s.store.SecurityStats(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		} else if err != nil {
			return TrackedSummary{}, err
		}

		ld := LatestData{PriceBar: latest[len(latest)-1]}
		if len(latest) == 2 && latest[0].Close != 0 {
			ld.ChangePercent = model.Some((ld.Close - latest[0].Close) / latest[0].Close * 100)
		}
		out.Stocks = append(out.Stocks, StoredSecurity{Code: id, LatestData: ld, Stats: stats})
	}

	out.Summary, err = s.store.AggregateStats(ctx)
	if err != nil {
		return TrackedSummary{}, err
	}
	return out, nil
}

// GetFullHistory returns every stored bar of code plus its reference info.
// ErrNotFound when neither exists.
func (s *Service) GetFullHistory(ctx context.Context, code string) (FullHistory, error) {
	if err := validate(code); err != nil {
		return FullHistory{}, err
	}
	bars, err := s.store.QueryBars(ctx, code, time.Unix(0, 0).UTC(), s.now().AddDate(0, 0, 1))
	if err != nil {
		return FullHistory{}, err
	}
	out := FullHistory{Code: code, Bars: bars}

	info, err := s.store.GetSecurityInfo(ctx, code)
	switch {
	case err == nil:
		out.Info = &info
	case !errors.Is(err, model.ErrNotFound):
		return FullHistory{}, err
	case len(bars) == 0:
		return FullHistory{}, fmt.Errorf("%s: %w", code, model.ErrNotFound)
	}
	return out, nil
}

// GetRealtimeAnalysis builds the live recommendation from cached state.
// ErrNotFound when the security has no realtime price or averages yet.
func (s *Service) GetRealtimeAnalysis(ctx context.Context, code string) (RealtimeAnalysis, error) {
	if err := validate(code); err != nil {
		return RealtimeAnalysis{}, err
	}
	rt, err := s.cache.GetRealtime(ctx, code)
	if err != nil {
		return RealtimeAnalysis{}, err
	}
	ma, err := s.cache.GetMovingAverages(ctx, code)
	if err != nil {
		return RealtimeAnalysis{}, err
	}

	level := rt.Level
	if level < 1 || level > indicator.LevelNone {
		level = indicator.Level(rt.LatestPrice, ma)
	}
	return RealtimeAnalysis{
		Code:           code,
		Price:          rt.LatestPrice,
		ObservedAt:     rt.ObservedAt,
		Level:          level,
		LevelText:      indicator.LevelText(level),
		MovingAverages: ma,
		Recommendation: indicator.RealtimeRecommendation(rt.LatestPrice, ma, level),
	}, nil
}

// GetRankedList returns the ranked list.
func (s *Service) GetRankedList(ctx context.Context) ([]model.RankedSecurity, error) {
	return s.ranker.Ranked(ctx)
}

// Tracked returns the tracked list.
func (s *Service) Tracked() []string { return s.watchlist.Codes() }

// UpdateTracked replaces the tracked list.
func (s *Service) UpdateTracked(codes []string) (bool, string) {
	return s.watchlist.Update(codes)
}

// Names resolves display names from the store, asking the feed for the rest.
func (s *Service) Names(ctx context.Context, codes []string) (map[string]string, error) {
	names, err := s.store.Names(ctx, codes)
	if err != nil {
		return nil, err
	}
	if s.feed == nil {
		return names, nil
	}

	var missing []string
	for _, c := range codes {
		if names[c] == "" {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return names, nil
	}
	fetched, err := s.feed.Names(ctx, missing)
	if err != nil {
		log.Printf("[analysis] feed names for %d codes: %v", len(missing), err)
		return names, nil
	}
	if names == nil {
		names = make(map[string]string, len(fetched))
	}
	for c, n := range fetched {
		if n != "" {
			names[c] = n
		}
	}
	return names, nil
}
