// Package pipeline is the live path: it consumes feed events, folds them into
// per-security bar windows, recomputes indicators and writes the fast state
// cache. Events for one security are always handled by the same worker, so
// recomputation and cache writes are serialized per security.
package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"stock-analyzerv1/internal/feed"
	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/metrics"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/notification"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrStopped is returned by Refresh once the service has shut down.
var ErrStopped = errors.New("pipeline stopped")

// Store is the part of the time-series store the live path reads.
type Store interface {
	LatestBars(ctx context.Context, securityID string, n int) ([]model.PriceBar, error)
	EnsureSecurity(ctx context.Context, securityID string) error
}

// Config tunes the live pipeline.
type Config struct {
	Workers    int
	WindowSize int // bars kept per security; must cover the longest average
	Sessions   map[string]*markethours.Session
}

// Deps are the collaborators of the pipeline. Metrics, Health and Notifier
// are optional.
type Deps struct {
	Queue    *feed.Queue
	Store    Store
	Cache    model.StateCache
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Notifier notification.Notifier
}

type task struct {
	ev      model.Event
	refresh string
	done    chan error
}

// Service fans queued events out to per-security workers.
type Service struct {
	cfg  Config
	deps Deps

	workers []chan task
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a pipeline service.
func New(cfg Config, deps Deps) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.WindowSize < 60 {
		cfg.WindowSize = 120
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		workers: make([]chan task, cfg.Workers),
		stopped: make(chan struct{}),
	}
	for i := range s.workers {
		s.workers[i] = make(chan task, 256)
	}
	return s
}

// shard maps a security to its worker.
func (s *Service) shard(securityID string) chan task {
	h := fnv.New32a()
	h.Write([]byte(securityID))
	return s.workers[h.Sum32()%uint32(len(s.workers))]
}

// Run consumes the queue until ctx is cancelled, then drains the workers.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("[pipeline] starting %d workers (window=%d bars)", len(s.workers), s.cfg.WindowSize)
	for i, ch := range s.workers {
		w := newWorker(i, s)
		s.wg.Add(1)
		go func(ch chan task) {
			defer s.wg.Done()
			w.run(ctx, ch)
		}(ch)
	}

	defer func() {
		close(s.stopped)
		s.wg.Wait()
		log.Println("[pipeline] stopped")
	}()

	q := s.deps.Queue
	m := s.deps.Metrics
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-q.C():
			m.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
			m.QueueSaturationPct.Set(float64(q.Len()) / float64(q.Cap()) * 100)
			if s.deps.Health != nil {
				s.deps.Health.SetLastEventTime(time.Now())
			}
			select {
			case s.shard(ev.SecurityID) <- task{ev: ev}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Refresh reloads a security's window from the store on its own worker and
// rewrites its indicator set. It is used after reconciliation has written
// authoritative bars.
func (s *Service) Refresh(ctx context.Context, securityID string) error {
	t := task{refresh: securityID, done: make(chan error, 1)}
	select {
	case s.shard(securityID) <- t:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bucket returns the daily bar timestamp a quote at t belongs to.
func (s *Service) bucket(securityID string, t time.Time) time.Time {
	if sess, ok := s.cfg.Sessions[model.Market(securityID)]; ok {
		return sess.DayBucket(t)
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
