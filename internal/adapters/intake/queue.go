// Package intake buffers registration seeds between the HTTP surface and
// the pipeline. Registrations arriving mid-cycle wait in a bounded
// in-memory queue; the orchestrator drains it at the start of the next
// cycle and upserts each seed before discovery runs.
package intake

import (
	"context"
	"sync"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

const defaultCapacity = 1024

// Seed is one registration waiting to be folded into the agent table.
type Seed = model.DiscoveredAgent

// Queue is a bounded, non-blocking registration buffer.
type Queue struct {
	seeds chan Seed

	mu     sync.RWMutex
	closed bool
}

// Option applies a configuration option to the Queue.
type Option func(*config)

type config struct {
	capacity int
}

// WithCapacity bounds the queue. Enqueues beyond the bound are rejected.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewQueue creates a registration queue.
func NewQueue(opts ...Option) *Queue {
	cfg := config{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue{seeds: make(chan Seed, cfg.capacity)}
}

// Enqueue adds a seed without blocking. Returns false when the queue is
// full or closed; callers translate that into backpressure.
func (q *Queue) Enqueue(s Seed) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.seeds <- s:
		return true
	default:
		return false
	}
}

// Drain removes up to max seeds, returning immediately once the queue is
// empty. A max of 0 or less drains everything currently buffered.
func (q *Queue) Drain(ctx context.Context, max int) []Seed {
	if max <= 0 {
		max = len(q.seeds)
	}
	out := make([]Seed, 0, max)
	for len(out) < max {
		select {
		case s, ok := <-q.seeds:
			if !ok {
				return out
			}
			out = append(out, s)
		case <-ctx.Done():
			return out
		default:
			return out
		}
	}
	return out
}

// Len returns the number of buffered seeds.
func (q *Queue) Len() int {
	return len(q.seeds)
}

// Close stops the queue. Buffered seeds remain drainable.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.seeds)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
