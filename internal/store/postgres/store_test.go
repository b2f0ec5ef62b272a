package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTest connects to TEST_POSTGRES_DSN and isolates the test under a
// per-run security id prefix.
func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn}, nil)
	require.NoError(t, err)

	prefix := "T" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		s.db.Exec(ctx, `DELETE FROM price_bars WHERE security_id LIKE $1`, prefix+"%")
		s.db.Exec(ctx, `DELETE FROM security_info WHERE security_id LIKE $1`, prefix+"%")
		s.Close()
	})
	return s, prefix
}

func TestPostgres_BarsRoundTrip(t *testing.T) {
	s, prefix := openTest(t)
	ctx := context.Background()
	id := prefix + ".AAPL"
	day0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	bars := []model.PriceBar{
		{SecurityID: id, TS: day0.AddDate(0, 0, 1), Open: 1, Close: 2, High: 2, Low: 1, Volume: 10},
		{SecurityID: id, TS: day0, Open: 1, Close: 1.5, High: 2, Low: 1, Volume: 5},
	}
	n, err := s.UpsertBars(ctx, id, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bars[0].Close = 2.5
	_, err = s.UpsertBars(ctx, id, bars)
	require.NoError(t, err)

	got, err := s.QueryBars(ctx, id, day0, day0.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].TS.Equal(day0))
	assert.Equal(t, 2.5, got[1].Close)

	latest, err := s.LatestBars(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 2.5, latest[0].Close)

	st, err := s.SecurityStats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, 1.5, st.MinClose)

	_, err = s.SecurityStats(ctx, prefix+".NONE")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostgres_SecurityInfo(t *testing.T) {
	s, prefix := openTest(t)
	ctx := context.Background()
	id := prefix + ".00700"

	_, err := s.GetSecurityInfo(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.EnsureSecurity(ctx, id))
	missing, err := s.SecuritiesMissingName(ctx)
	require.NoError(t, err)
	assert.Contains(t, missing, id)

	require.NoError(t, s.UpsertSecurityInfo(ctx, model.SecurityInfo{SecurityID: id, DisplayName: "Tencent", LotSize: 100}))
	require.NoError(t, s.UpsertSecurityInfo(ctx, model.SecurityInfo{SecurityID: id, LotSize: 100}))

	names, err := s.Names(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, "Tencent", names[id])
}
