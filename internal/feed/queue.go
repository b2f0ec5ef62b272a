// Package feed is the quote feed adapter. The streaming client (feed/ws) pushes
// typed events onto a bounded Queue; the pipeline consumes them from Queue.C().
// Request/response calls against the market-data gateway live in feed/rest.
package feed

import (
	"sync"
	"sync/atomic"

	"stock-analyzerv1/internal/model"
)

// Queue is a bounded event queue with a drop-oldest overflow policy.
// Producers never block; a slow consumer loses the oldest events first.
type Queue struct {
	ch      chan model.Event
	mu      sync.Mutex // serializes producers
	dropped atomic.Int64

	// OnDrop is called for each evicted event (for metrics). Optional.
	OnDrop func(ev model.Event)
}

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 4096
	}
	return &Queue{ch: make(chan model.Event, size)}
}

// Push enqueues ev, evicting the oldest queued event if the queue is full.
// Returns true if an event was evicted.
func (q *Queue) Push(ev model.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	for {
		select {
		case q.ch <- ev:
			return evicted
		default:
		}

		select {
		case old := <-q.ch:
			evicted = true
			q.dropped.Add(1)
			if q.OnDrop != nil {
				q.OnDrop(old)
			}
		default:
			// consumer drained it in between; retry the send
		}
	}
}

// C returns the consumer side of the queue.
func (q *Queue) C() <-chan model.Event { return q.ch }

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the total number of evicted events.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
