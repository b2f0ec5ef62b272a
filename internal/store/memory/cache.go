// Package memory is an in-process model.StateCache, used by tests and when
// the service runs without Redis.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-analyzerv1/internal/model"
)

// Cache is a map-backed state cache, safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	realtime  map[string]model.RealtimeState
	hasPrice  map[string]bool
	ma        map[string]model.MASet
	snapshots map[string]model.IndicatorSnapshot

	// OnUpdate is called after every realtime write. Optional.
	OnUpdate func(st model.RealtimeState)
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		realtime:  make(map[string]model.RealtimeState),
		hasPrice:  make(map[string]bool),
		ma:        make(map[string]model.MASet),
		snapshots: make(map[string]model.IndicatorSnapshot),
	}
}

// Ping always succeeds.
func (c *Cache) Ping(ctx context.Context) error { return ctx.Err() }

func (c *Cache) SetRealtimePrice(ctx context.Context, securityID string, price float64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	st := c.realtime[securityID]
	st.SecurityID = securityID
	st.LatestPrice = price
	st.ObservedAt = at.UTC()
	c.realtime[securityID] = st
	c.hasPrice[securityID] = true
	fn := c.OnUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	return nil
}

func (c *Cache) SetRecommendationLevel(ctx context.Context, securityID string, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	st := c.realtime[securityID]
	st.SecurityID = securityID
	st.Level = level
	c.realtime[securityID] = st
	fn := c.OnUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	return nil
}

// GetRealtime returns ErrNotFound until a price has been written.
func (c *Cache) GetRealtime(ctx context.Context, securityID string) (model.RealtimeState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasPrice[securityID] {
		return model.RealtimeState{}, fmt.Errorf("realtime %s: %w", securityID, model.ErrNotFound)
	}
	return c.realtime[securityID], nil
}

// SetMovingAverages replaces the whole set.
func (c *Cache) SetMovingAverages(ctx context.Context, ma model.MASet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.ma[ma.SecurityID] = ma
	c.mu.Unlock()
	return nil
}

func (c *Cache) GetMovingAverages(ctx context.Context, securityID string) (model.MASet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ma, ok := c.ma[securityID]
	if !ok {
		return model.MASet{}, fmt.Errorf("moving averages %s: %w", securityID, model.ErrNotFound)
	}
	return ma, nil
}

func (c *Cache) SetSnapshot(ctx context.Context, snap model.IndicatorSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshots[snap.SecurityID] = snap
	c.mu.Unlock()
	return nil
}

func (c *Cache) GetSnapshot(ctx context.Context, securityID string) (model.IndicatorSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[securityID]
	if !ok {
		return model.IndicatorSnapshot{}, fmt.Errorf("snapshot %s: %w", securityID, model.ErrNotFound)
	}
	return snap, nil
}

// ListRealtime returns every security with a cached price, sorted.
func (c *Cache) ListRealtime(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.hasPrice))
	for id := range c.hasPrice {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

var _ model.StateCache = (*Cache)(nil)
