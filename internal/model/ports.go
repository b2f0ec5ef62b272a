package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the pipeline, reconciliation and query code from
// concrete backends (SQLite, Postgres, Redis, in-memory, feed gateway).

// BarStore is the durable time-series store of price bars.
type BarStore interface {
	// UpsertBars writes bars idempotently on (security_id, ts).
	// Returns the number of rows written.
	UpsertBars(ctx context.Context, securityID string, bars []PriceBar) (int, error)

	// QueryBars returns bars in [start, end], ascending by time.
	QueryBars(ctx context.Context, securityID string, start, end time.Time) ([]PriceBar, error)

	// LatestBars returns up to n most recent bars, ascending by time.
	LatestBars(ctx context.Context, securityID string, n int) ([]PriceBar, error)

	// QueryDistinctSecurities lists every security with at least one bar.
	QueryDistinctSecurities(ctx context.Context) ([]string, error)

	// SecurityStats summarizes one security's stored bars. ErrNotFound if none.
	SecurityStats(ctx context.Context, securityID string) (BarStats, error)

	// AggregateStats summarizes the whole store.
	AggregateStats(ctx context.Context) (StoreStats, error)
}

// SecurityStore holds SecurityInfo reference data.
type SecurityStore interface {
	// UpsertSecurityInfo inserts or replaces info by security id.
	UpsertSecurityInfo(ctx context.Context, info SecurityInfo) error

	// EnsureSecurity creates an empty info row if none exists.
	EnsureSecurity(ctx context.Context, securityID string) error

	// GetSecurityInfo returns ErrNotFound when no row exists.
	GetSecurityInfo(ctx context.Context, securityID string) (SecurityInfo, error)

	// SecuritiesMissingName lists ids whose display name is empty.
	SecuritiesMissingName(ctx context.Context) ([]string, error)

	// Names returns the known display names for ids. Unknown ids are omitted.
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Store is the full durable store.
type Store interface {
	BarStore
	SecurityStore
	Ping(ctx context.Context) error
	Close() error
}

// StateCache is the fast per-security state cache.
// Writes are per-security last-writer-wins.
type StateCache interface {
	SetRealtimePrice(ctx context.Context, securityID string, price float64, at time.Time) error
	SetRecommendationLevel(ctx context.Context, securityID string, level int) error
	// GetRealtime returns ErrNotFound when no realtime state is cached.
	GetRealtime(ctx context.Context, securityID string) (RealtimeState, error)

	// SetMovingAverages replaces the whole set; absent values are removed.
	SetMovingAverages(ctx context.Context, ma MASet) error
	// GetMovingAverages returns ErrNotFound when no set is cached.
	GetMovingAverages(ctx context.Context, securityID string) (MASet, error)

	SetSnapshot(ctx context.Context, snap IndicatorSnapshot) error
	GetSnapshot(ctx context.Context, securityID string) (IndicatorSnapshot, error)

	// ListRealtime enumerates every security with cached realtime state.
	ListRealtime(ctx context.Context) ([]string, error)
}

// HistoryFeed is the request/response side of the market-data source.
// Every method may fail with ErrFeedUnavailable.
type HistoryFeed interface {
	// Connect establishes (or re-establishes) an authenticated session.
	Connect(ctx context.Context) error

	RequestHistory(ctx context.Context, securityID string, start, end time.Time) ([]PriceBar, error)
	ReferenceInfo(ctx context.Context, market string) ([]SecurityInfo, error)
	Names(ctx context.Context, ids []string) (map[string]string, error)
}
