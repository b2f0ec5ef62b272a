// Package ranking builds the ranked list of tracked securities from the fast
// state cache, most recommended first.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"stock-analyzerv1/internal/indicator"
	"stock-analyzerv1/internal/model"
)

// Namer resolves display names for a set of securities in one call.
type Namer interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Tracker reports whether a security is still on the watchlist.
type Tracker interface {
	Contains(code string) bool
}

// Service ranks cached securities.
type Service struct {
	cache model.StateCache
	names Namer // optional

	// Tracked, when set, limits the ranking to tracked securities. Cache
	// entries of codes dropped from the watchlist are never expired.
	Tracked Tracker
}

// New creates a ranking service. names may be nil.
func New(cache model.StateCache, names Namer) *Service {
	return &Service{cache: cache, names: names}
}

// Ranked returns every tracked security that has both realtime and
// moving-average state, sorted ascending by (level, security id). Securities
// missing either entry are skipped. Cache failures other than not-found abort the ranking.
func (s *Service) Ranked(ctx context.Context) ([]model.RankedSecurity, error) {
	ids, err := s.cache.ListRealtime(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking: list: %w", err)
	}

	out := make([]model.RankedSecurity, 0, len(ids))
	for _, id := range ids {
		if s.Tracked != nil && !s.Tracked.Contains(id) {
			continue
		}
		rt, err := s.cache.GetRealtime(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("ranking: realtime %s: %w", id, err)
		}
		ma, err := s.cache.GetMovingAverages(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("ranking: averages %s: %w", id, err)
		}
		out = append(out, Entry(rt, ma))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].SecurityID < out[j].SecurityID
	})

	if s.names != nil && len(out) > 0 {
		codes := make([]string, len(out))
		for i := range out {
			codes[i] = out[i].SecurityID
		}
		names, err := s.names.Names(ctx, codes)
		if err != nil {
			// names are decorative; rank without them
			log.Printf("[ranking] names lookup failed: %v", err)
		}
		for i := range out {
			out[i].Name = names[out[i].SecurityID]
		}
	}
	return out, nil
}

// Entry builds one ranked row. A level of 0 (not yet written) is derived
// from the price and averages.
func Entry(rt model.RealtimeState, ma model.MASet) model.RankedSecurity {
	level := rt.Level
	if level < 1 || level > indicator.LevelNone {
		level = indicator.Level(rt.LatestPrice, ma)
	}

	e := model.RankedSecurity{
		SecurityID:  rt.SecurityID,
		Price:       rt.LatestPrice,
		Level:       level,
		LevelText:   indicator.LevelText(level),
		MARelations: Relations(rt.LatestPrice, ma),
		UpdatedAt:   rt.ObservedAt,
	}
	if w, dist, ok := ClosestMA(rt.LatestPrice, ma); ok {
		e.ClosestMA = fmt.Sprintf("MA%d", w)
		e.ClosestMADistancePct = model.Some(dist)
	}
	return e
}

// Relations returns "below MAn" or "above MAn" for each available window,
// shortest window first. A price equal to the average counts as above.
func Relations(price float64, ma model.MASet) []string {
	rel := make([]string, 0, len(model.MAWindows))
	for _, w := range model.MAWindows {
		v, ok := ma.Get(w).Get()
		if !ok {
			continue
		}
		if price < v {
			rel = append(rel, fmt.Sprintf("below MA%d", w))
		} else {
			rel = append(rel, fmt.Sprintf("above MA%d", w))
		}
	}
	return rel
}

// ClosestMA returns the window whose average is nearest to price and the
// signed percentage distance of price from it. Ties go to the shorter window.
func ClosestMA(price float64, ma model.MASet) (window int, distPct float64, ok bool) {
	best := math.Inf(1)
	for _, w := range model.MAWindows {
		v, present := ma.Get(w).Get()
		if !present || v == 0 {
			continue
		}
		if d := math.Abs(price - v); d < best {
			best, window, ok = d, w, true
			distPct = indicator.DistancePct(price, v)
		}
	}
	return window, distPct, ok
}
