package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RealtimeRequiresPrice(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	// a level alone does not make realtime state visible
	require.NoError(t, c.SetRecommendationLevel(ctx, "US.AAPL", 2))
	_, err := c.GetRealtime(ctx, "US.AAPL")
	assert.ErrorIs(t, err, model.ErrNotFound)
	ids, _ := c.ListRealtime(ctx)
	assert.Empty(t, ids)

	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetRealtimePrice(ctx, "US.AAPL", 190, at))
	st, err := c.GetRealtime(ctx, "US.AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.RealtimeState{SecurityID: "US.AAPL", LatestPrice: 190, ObservedAt: at, Level: 2}, st)
}

func TestCache_MovingAveragesAndSnapshot(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	_, err := c.GetMovingAverages(ctx, "HK.00700")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = c.GetSnapshot(ctx, "HK.00700")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, c.SetMovingAverages(ctx, model.MASet{SecurityID: "HK.00700", MA5: model.Some(1), MA10: model.Some(2)}))
	require.NoError(t, c.SetMovingAverages(ctx, model.MASet{SecurityID: "HK.00700", MA5: model.Some(3)}))
	ma, err := c.GetMovingAverages(ctx, "HK.00700")
	require.NoError(t, err)
	assert.Equal(t, model.Some(3), ma.MA5)
	assert.False(t, ma.MA10.Valid)

	require.NoError(t, c.SetSnapshot(ctx, model.IndicatorSnapshot{SecurityID: "HK.00700", RSI14: model.Some(55)}))
	snap, err := c.GetSnapshot(ctx, "HK.00700")
	require.NoError(t, err)
	assert.Equal(t, model.Some(55), snap.RSI14)
}

func TestCache_ConcurrentWriters(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"US.AAPL", "US.MSFT", "HK.00700"}[i%3]
			c.SetRealtimePrice(ctx, id, float64(i), time.Now())
			c.SetRecommendationLevel(ctx, id, i%6+1)
		}(i)
	}
	wg.Wait()

	ids, err := c.ListRealtime(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HK.00700", "US.AAPL", "US.MSFT"}, ids)
}

func TestCache_CancelledContext(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.SetRealtimePrice(ctx, "US.AAPL", 1, time.Now()))
}
