package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "stocks.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func bar(id string, day int, close float64) model.PriceBar {
	return model.PriceBar{
		SecurityID: id,
		TS:         day0.AddDate(0, 0, day),
		Open:       close - 1,
		Close:      close,
		High:       close + 1,
		Low:        close - 2,
		Volume:     int64(1000 + day),
		Turnover:   close * 1000,
	}
}

// ────────────────────────────────────────────────────────────
// Bars
// ────────────────────────────────────────────────────────────

func TestUpsertBars_Idempotent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	bars := []model.PriceBar{bar("US.AAPL", 0, 100), bar("US.AAPL", 1, 101), bar("US.AAPL", 2, 102)}
	n, err := s.UpsertBars(ctx, "US.AAPL", bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// same keys again, one with a corrected close
	bars[2].Close = 102.5
	_, err = s.UpsertBars(ctx, "US.AAPL", bars)
	require.NoError(t, err)

	got, err := s.QueryBars(ctx, "US.AAPL", day0, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, got, 3, "re-upsert must not duplicate rows")
	assert.Equal(t, 102.5, got[2].Close, "authoritative re-fetch overwrites")
	assert.Equal(t, bars[0].TS, got[0].TS)
	assert.Equal(t, int64(1000), got[0].Volume)
}

func TestQueryBars_RangeAndOrder(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	// inserted out of order
	_, err := s.UpsertBars(ctx, "HK.00700", []model.PriceBar{
		bar("HK.00700", 3, 303), bar("HK.00700", 0, 300), bar("HK.00700", 2, 302), bar("HK.00700", 1, 301),
	})
	require.NoError(t, err)

	got, err := s.QueryBars(ctx, "HK.00700", day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2, "range is inclusive on both ends")
	assert.Equal(t, 301.0, got[0].Close)
	assert.Equal(t, 302.0, got[1].Close)

	latest, err := s.LatestBars(ctx, "HK.00700", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 302.0, latest[0].Close, "latest bars come back ascending")
	assert.Equal(t, 303.0, latest[1].Close)

	none, err := s.QueryBars(ctx, "US.NONE", day0, day0.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	agg, err := s.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StoreStats{}, agg)

	_, err = s.UpsertBars(ctx, "US.AAPL", []model.PriceBar{bar("US.AAPL", 0, 100), bar("US.AAPL", 1, 90), bar("US.AAPL", 2, 110)})
	require.NoError(t, err)
	_, err = s.UpsertBars(ctx, "US.MSFT", []model.PriceBar{bar("US.MSFT", 5, 400)})
	require.NoError(t, err)

	st, err := s.SecurityStats(ctx, "US.AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Count)
	assert.Equal(t, 90.0, st.MinClose)
	assert.Equal(t, 110.0, st.MaxClose)
	assert.Equal(t, day0, st.Earliest)
	assert.Equal(t, day0.AddDate(0, 0, 2), st.Latest)

	_, err = s.SecurityStats(ctx, "US.NONE")
	assert.ErrorIs(t, err, model.ErrNotFound)

	agg, err = s.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.SecurityCount)
	assert.Equal(t, int64(4), agg.TotalRecords)
	assert.Equal(t, day0, agg.Earliest)
	assert.Equal(t, day0.AddDate(0, 0, 5), agg.Latest)

	ids, err := s.QueryDistinctSecurities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"US.AAPL", "US.MSFT"}, ids)
}

// ────────────────────────────────────────────────────────────
// Security info
// ────────────────────────────────────────────────────────────

func TestSecurityInfo_LazyCreateAndNames(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.GetSecurityInfo(ctx, "US.AAPL")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.EnsureSecurity(ctx, "US.AAPL"))
	require.NoError(t, s.EnsureSecurity(ctx, "US.AAPL"))
	require.NoError(t, s.EnsureSecurity(ctx, "HK.00700"))

	missing, err := s.SecuritiesMissingName(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HK.00700", "US.AAPL"}, missing)

	listed := time.Date(1980, 12, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSecurityInfo(ctx, model.SecurityInfo{
		SecurityID: "US.AAPL", DisplayName: "Apple Inc.", LotSize: 1, Category: "STOCK", ListingDate: listed,
	}))

	info, err := s.GetSecurityInfo(ctx, "US.AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", info.DisplayName)
	assert.Equal(t, int64(1), info.LotSize)
	assert.Equal(t, listed, info.ListingDate)
	assert.False(t, info.LastUpdated.IsZero())

	// a reference refresh without a name keeps the known one
	require.NoError(t, s.UpsertSecurityInfo(ctx, model.SecurityInfo{SecurityID: "US.AAPL", LotSize: 10}))
	info, err = s.GetSecurityInfo(ctx, "US.AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", info.DisplayName)
	assert.Equal(t, int64(10), info.LotSize)
	assert.Equal(t, listed, info.ListingDate)

	names, err := s.Names(ctx, []string{"US.AAPL", "HK.00700", "US.NONE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"US.AAPL": "Apple Inc."}, names)

	missing, err = s.SecuritiesMissingName(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HK.00700"}, missing)
}

func TestPing(t *testing.T) {
	s := openTemp(t)
	assert.NoError(t, s.Ping(context.Background()))
}
