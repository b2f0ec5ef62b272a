// Package redis is the fast state cache on Redis.
//
// Key layout per security:
//
//	rt:{id}      hash  price, observed_at (unix ms), level
//	ma:{id}      hash  ma5..ma60 (absent field = no value), updated_at
//	ind:{id}     string JSON IndicatorSnapshot
//	rt:index     set   ids with realtime state
//	pub:rt:{id}  channel, one JSON Update per realtime write
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"time"

	"stock-analyzerv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	keyRealtimeIndex = "rt:index"
	// PubSubPattern matches every realtime update channel.
	PubSubPattern = "pub:rt:*"

	defaultTimeout = 2 * time.Second
)

func realtimeKey(id string) string { return "rt:" + id }
func maKey(id string) string       { return "ma:" + id }
func snapshotKey(id string) string { return "ind:" + id }

// Channel returns the PubSub channel for a security's realtime updates.
func Channel(id string) string { return "pub:rt:" + id }

// Update is the payload published on Channel(id) after a realtime write.
type Update struct {
	Type       string    `json:"type"` // "price" or "level"
	SecurityID string    `json:"code"`
	Price      float64   `json:"price,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
	Level      int       `json:"recommendation_level,omitempty"`
}

// Config configures the Redis cache.
type Config struct {
	Addr       string // e.g. "localhost:6379"
	Password   string
	DB         int
	Timeout    time.Duration // per-call bound
	MaxRetries int           // go-redis retries; -1 disables
}

// Cache implements model.StateCache on Redis. Every call is bounded by the
// configured timeout and passes through a circuit breaker.
type Cache struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	timeout time.Duration

	// OnWrite observes write latency (for metrics). Optional.
	OnWrite func(d time.Duration)
}

// New creates a Redis cache and pings the server.
func New(cfg Config, cb *CircuitBreaker) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.Timeout, cb), nil
}

// NewWithClient wraps an existing client. A nil breaker gets the default
// 5 failures / 10s reset.
func NewWithClient(client *goredis.Client, timeout time.Duration, cb *CircuitBreaker) *Cache {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	if cb.IsFailure == nil {
		cb.IsFailure = func(err error) bool { return !errors.Is(err, goredis.Nil) }
	}
	return &Cache{client: client, cb: cb, timeout: timeout}
}

// Client returns the underlying Redis client (PubSub relay, health checks).
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker returns the cache's circuit breaker.
func (c *Cache) Breaker() *CircuitBreaker { return c.cb }

// Ping checks the connection, bypassing the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify(c.client.Ping(ctx).Err())
}

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }

// do runs fn with a bounded context through the breaker.
func (c *Cache) do(ctx context.Context, write bool, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.cb.Execute(func() error { return fn(ctx) })
	if write && err == nil && c.OnWrite != nil {
		c.OnWrite(time.Since(start))
	}
	return classify(err)
}

// classify maps redis.Nil to ErrNotFound and network failures to ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return model.ErrNotFound
	}
	if errors.Is(err, model.ErrTransient) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		errors.Is(err, goredis.ErrClosed) || errors.As(err, &netErr) {
		return model.Transient(err)
	}
	return err
}

func (c *Cache) publish(ctx context.Context, pipe goredis.Pipeliner, u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	pipe.Publish(ctx, Channel(u.SecurityID), payload)
}

// SetRealtimePrice writes price and observation time, indexes the security
// and publishes the update, in one pipeline.
func (c *Cache) SetRealtimePrice(ctx context.Context, securityID string, price float64, at time.Time) error {
	return c.do(ctx, true, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, realtimeKey(securityID),
			"price", strconv.FormatFloat(price, 'f', -1, 64),
			"observed_at", at.UnixMilli(),
		)
		pipe.SAdd(ctx, keyRealtimeIndex, securityID)
		c.publish(ctx, pipe, Update{Type: "price", SecurityID: securityID, Price: price, ObservedAt: at.UTC()})
		_, err := pipe.Exec(ctx)
		return err
	})
}

// SetRecommendationLevel writes the level field and publishes the update.
func (c *Cache) SetRecommendationLevel(ctx context.Context, securityID string, level int) error {
	return c.do(ctx, true, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, realtimeKey(securityID), "level", level)
		c.publish(ctx, pipe, Update{Type: "level", SecurityID: securityID, Level: level})
		_, err := pipe.Exec(ctx)
		return err
	})
}

// GetRealtime returns ErrNotFound when no price has been written.
func (c *Cache) GetRealtime(ctx context.Context, securityID string) (model.RealtimeState, error) {
	var fields map[string]string
	err := c.do(ctx, false, func(ctx context.Context) error {
		var err error
		fields, err = c.client.HGetAll(ctx, realtimeKey(securityID)).Result()
		return err
	})
	if err != nil {
		return model.RealtimeState{}, err
	}
	priceStr, ok := fields["price"]
	if !ok {
		return model.RealtimeState{}, fmt.Errorf("realtime %s: %w", securityID, model.ErrNotFound)
	}

	st := model.RealtimeState{SecurityID: securityID}
	if st.LatestPrice, err = strconv.ParseFloat(priceStr, 64); err != nil {
		return model.RealtimeState{}, fmt.Errorf("realtime %s: bad price %q", securityID, priceStr)
	}
	if ms, err := strconv.ParseInt(fields["observed_at"], 10, 64); err == nil {
		st.ObservedAt = time.UnixMilli(ms).UTC()
	}
	if lv, err := strconv.Atoi(fields["level"]); err == nil {
		st.Level = lv
	}
	return st, nil
}

// SetMovingAverages atomically replaces the whole set (MULTI/EXEC):
// absent averages are removed rather than left stale.
func (c *Cache) SetMovingAverages(ctx context.Context, ma model.MASet) error {
	values := []any{"updated_at", ma.UpdatedAt.UnixMilli()}
	for _, w := range model.MAWindows {
		if v, ok := ma.Get(w).Get(); ok {
			values = append(values, maField(w), strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return c.do(ctx, true, func(ctx context.Context) error {
		_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, maKey(ma.SecurityID))
			pipe.HSet(ctx, maKey(ma.SecurityID), values...)
			return nil
		})
		return err
	})
}

func maField(w int) string { return "ma" + strconv.Itoa(w) }

// GetMovingAverages returns ErrNotFound when no set has been written.
func (c *Cache) GetMovingAverages(ctx context.Context, securityID string) (model.MASet, error) {
	var fields map[string]string
	err := c.do(ctx, false, func(ctx context.Context) error {
		var err error
		fields, err = c.client.HGetAll(ctx, maKey(securityID)).Result()
		return err
	})
	if err != nil {
		return model.MASet{}, err
	}
	if len(fields) == 0 {
		return model.MASet{}, fmt.Errorf("moving averages %s: %w", securityID, model.ErrNotFound)
	}

	ma := model.MASet{SecurityID: securityID}
	for _, w := range model.MAWindows {
		s, ok := fields[maField(w)]
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			ma.Set(w, model.Some(v))
		}
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		ma.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return ma, nil
}

// SetSnapshot stores the latest indicator snapshot as JSON.
func (c *Cache) SetSnapshot(ctx context.Context, snap model.IndicatorSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.do(ctx, true, func(ctx context.Context) error {
		return c.client.Set(ctx, snapshotKey(snap.SecurityID), payload, 0).Err()
	})
}

// GetSnapshot returns ErrNotFound when no snapshot is cached.
func (c *Cache) GetSnapshot(ctx context.Context, securityID string) (model.IndicatorSnapshot, error) {
	var raw []byte
	err := c.do(ctx, false, func(ctx context.Context) error {
		var err error
		raw, err = c.client.Get(ctx, snapshotKey(securityID)).Bytes()
		return err
	})
	if err != nil {
		return model.IndicatorSnapshot{}, err
	}
	var snap model.IndicatorSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.IndicatorSnapshot{}, fmt.Errorf("snapshot %s: %w", securityID, err)
	}
	return snap, nil
}

// ListRealtime returns every indexed security, sorted.
func (c *Cache) ListRealtime(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.do(ctx, false, func(ctx context.Context) error {
		var err error
		ids, err = c.client.SMembers(ctx, keyRealtimeIndex).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

var _ model.StateCache = (*Cache)(nil)
