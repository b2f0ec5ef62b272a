package redis

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"stock-analyzerv1/internal/model"
)

type pendingWrite struct {
	key   string
	seq   uint64
	apply func(ctx context.Context) error
}

// ordered returns the writes in the order they were originally issued.
func ordered(pending map[string]pendingWrite) []pendingWrite {
	out := make([]pendingWrite, 0, len(pending))
	for _, pw := range pending {
		out = append(out, pw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// BufferedCache wraps a Cache so that writes rejected by an open circuit
// breaker are kept locally and replayed once the breaker closes. Writes are
// coalesced per (kind, security): only the latest pending value survives,
// and a pending value older than a later direct write is discarded.
// Reads pass straight through.
type BufferedCache struct {
	*Cache

	mu      sync.Mutex
	seq     uint64
	pending map[string]pendingWrite
	applied map[string]uint64 // last successful direct write per key
	maxBuf  int

	// OnBuffer is called when a write is buffered (for metrics).
	OnBuffer func()
	// OnFlush is called after a replay with the number of writes applied.
	OnFlush func(count int)
}

// NewBufferedCache wraps c. maxBufferSize bounds the number of distinct
// pending keys (default 10000); beyond it new keys are dropped.
func NewBufferedCache(c *Cache, maxBufferSize int) *BufferedCache {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bc := &BufferedCache{
		Cache:   c,
		pending: make(map[string]pendingWrite),
		applied: make(map[string]uint64),
		maxBuf:  maxBufferSize,
	}

	prev := c.cb.OnStateChange
	c.cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bc.Flush(context.Background())
		}
	}
	return bc
}

// write applies fn now, or buffers it under key if the breaker is open.
func (bc *BufferedCache) write(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	bc.mu.Lock()
	bc.seq++
	seq := bc.seq
	bc.mu.Unlock()

	err := fn(ctx)
	switch {
	case err == nil:
		bc.mu.Lock()
		bc.applied[key] = seq
		bc.mu.Unlock()
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bc.buffer(pendingWrite{key: key, seq: seq, apply: fn})
		return nil
	default:
		return err
	}
}

func (bc *BufferedCache) buffer(pw pendingWrite) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if _, exists := bc.pending[pw.key]; !exists && len(bc.pending) >= bc.maxBuf {
		log.Printf("[buffered-cache] buffer full (%d keys), dropping %s", bc.maxBuf, pw.key)
		return
	}
	bc.pending[pw.key] = pw
	if bc.OnBuffer != nil {
		bc.OnBuffer()
	}
}

// Flush replays pending writes in the order they were issued, so a
// security's price lands before its averages and level. Entries superseded
// by a later direct write are skipped; entries still rejected by the breaker
// stay pending.
func (bc *BufferedCache) Flush(ctx context.Context) int {
	bc.mu.Lock()
	if len(bc.pending) == 0 {
		bc.mu.Unlock()
		return 0
	}
	toFlush := ordered(bc.pending)
	bc.pending = make(map[string]pendingWrite)
	bc.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		key := pw.key
		bc.mu.Lock()
		superseded := bc.applied[key] > pw.seq
		bc.mu.Unlock()
		if superseded {
			continue
		}

		err := pw.apply(ctx)
		switch {
		case err == nil:
			flushed++
			bc.mu.Lock()
			if bc.applied[key] < pw.seq {
				bc.applied[key] = pw.seq
			}
			bc.mu.Unlock()
		case errors.Is(err, ErrCircuitOpen):
			bc.mu.Lock()
			if cur, ok := bc.pending[key]; !ok || cur.seq < pw.seq {
				bc.pending[key] = pw
			}
			bc.mu.Unlock()
		default:
			log.Printf("[buffered-cache] replay %s failed: %v", key, err)
		}
	}

	log.Printf("[buffered-cache] flushed %d buffered writes", flushed)
	if bc.OnFlush != nil {
		bc.OnFlush(flushed)
	}
	return flushed
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bc *BufferedCache) PendingCount() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.pending)
}

func (bc *BufferedCache) SetRealtimePrice(ctx context.Context, securityID string, price float64, at time.Time) error {
	return bc.write(ctx, "price:"+securityID, func(ctx context.Context) error {
		return bc.Cache.SetRealtimePrice(ctx, securityID, price, at)
	})
}

func (bc *BufferedCache) SetRecommendationLevel(ctx context.Context, securityID string, level int) error {
	return bc.write(ctx, "level:"+securityID, func(ctx context.Context) error {
		return bc.Cache.SetRecommendationLevel(ctx, securityID, level)
	})
}

func (bc *BufferedCache) SetMovingAverages(ctx context.Context, ma model.MASet) error {
	return bc.write(ctx, "ma:"+ma.SecurityID, func(ctx context.Context) error {
		return bc.Cache.SetMovingAverages(ctx, ma)
	})
}

func (bc *BufferedCache) SetSnapshot(ctx context.Context, snap model.IndicatorSnapshot) error {
	return bc.write(ctx, "ind:"+snap.SecurityID, func(ctx context.Context) error {
		return bc.Cache.SetSnapshot(ctx, snap)
	})
}

var _ model.StateCache = (*BufferedCache)(nil)
