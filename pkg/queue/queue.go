// Package queue implements the bounded admission FIFO and in-flight set
// described in spec §4.H, plus the visibility monitor of §4.I.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

// inflightEntry tracks a dequeued request pending ack/fail/requeue.
type inflightEntry struct {
	request *gwtypes.Request
}

// Queue is the single-mutex bounded FIFO plus in-flight map described in
// §4.H. Dequeue blocks on a condition variable until an item is available
// or the queue is shut down.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	capacity   int
	maxRetries int
	// lowTierWatermark is the fraction (0-1) of capacity above which
	// normal-tier requests are rejected early, reserving remaining slots
	// for priority/admin tiers. Zero disables the watermark.
	lowTierWatermark float64

	fifo     []*gwtypes.Request
	inflight map[string]*inflightEntry
	byID     map[string]*gwtypes.Request // requests currently in fifo, by id

	shutdown bool

	onFailed func(id string, reason error)
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries overrides the default retry cap (2).
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithFailureHandler registers a callback invoked by MarkFailed, used by
// the worker pool / websocket layer to emit the terminal error frame.
func WithFailureHandler(f func(id string, reason error)) Option {
	return func(q *Queue) { q.onFailed = f }
}

// WithLowTierWatermark sets the fraction of capacity above which
// TierNormal requests are rejected at enqueue, reserving headroom for
// priority/admin tiers. Ordering within the queue itself remains pure
// FIFO, per §4.H — the watermark only affects admission, never ordering.
func WithLowTierWatermark(fraction float64) Option {
	return func(q *Queue) { q.lowTierWatermark = fraction }
}

// New creates a Queue with the given capacity.
func New(capacity int, opts ...Option) *Queue {
	q := &Queue{
		capacity:   capacity,
		maxRetries: 2,
		fifo:       make([]*gwtypes.Request, 0, capacity),
		inflight:   make(map[string]*inflightEntry),
		byID:       make(map[string]*gwtypes.Request),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends req to the tail of the FIFO if there is capacity.
// Returns ErrQueueFull (state untouched) if the queue is at capacity.
func (q *Queue) Enqueue(req *gwtypes.Request) (position int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return 0, fmt.Errorf("enqueue %s: %w", req.ID, gwtypes.ErrShuttingDown)
	}
	if len(q.fifo) >= q.capacity {
		return 0, fmt.Errorf("enqueue %s: %w", req.ID, gwtypes.ErrQueueFull)
	}
	if q.lowTierWatermark > 0 && req.Tier == gwtypes.TierNormal {
		if float64(len(q.fifo))/float64(q.capacity) >= q.lowTierWatermark {
			return 0, fmt.Errorf("enqueue %s: %w", req.ID, gwtypes.ErrQueueFull)
		}
	}

	req.EnqueuedAt = time.Now()
	q.fifo = append(q.fifo, req)
	q.byID[req.ID] = req
	q.notEmpty.Signal()
	return len(q.fifo), nil
}

// Dequeue blocks until an item is available, the context is cancelled, or
// the queue is shut down. On success the request moves to the in-flight
// set, keyed by id, with StartedAt stamped.
func (q *Queue) Dequeue(ctx context.Context) (*gwtypes.Request, error) {
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
		defer close(done)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.fifo) == 0 && !q.shutdown {
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.notEmpty.Wait()
	}
	if len(q.fifo) == 0 && q.shutdown {
		return nil, gwtypes.ErrShuttingDown
	}

	req := q.fifo[0]
	q.fifo = q.fifo[1:]
	delete(q.byID, req.ID)

	req.StartedAt = time.Now()
	q.inflight[req.ID] = &inflightEntry{request: req}
	return req, nil
}

// Ack removes id from the in-flight set on normal completion.
func (q *Queue) Ack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
}

// RequeueForRetry re-inserts the in-flight request identified by id at the
// head of the FIFO with RetryCount incremented and StartedAt cleared, if
// the retry cap has not been reached. Returns false (no mutation to the
// in-flight entry) when the cap is already exhausted — the caller is then
// expected to call MarkFailed.
func (q *Queue) RequeueForRetry(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inflight[id]
	if !ok {
		return false
	}
	if entry.request.RetryCount >= q.maxRetries {
		return false
	}

	req := entry.request
	delete(q.inflight, id)
	req.RetryCount++
	req.StartedAt = time.Time{}

	q.fifo = append([]*gwtypes.Request{req}, q.fifo...)
	q.byID[req.ID] = req
	q.notEmpty.Signal()
	return true
}

// MarkFailed removes id from the in-flight set and publishes a terminal
// failure via the registered failure handler, if any.
func (q *Queue) MarkFailed(id string, reason error) {
	q.mu.Lock()
	_, ok := q.inflight[id]
	if ok {
		delete(q.inflight, id)
	}
	handler := q.onFailed
	q.mu.Unlock()

	if ok && handler != nil {
		handler(id, reason)
	}
}

// Position reports a request's 1-based rank in the FIFO, "in-flight", or
// "unknown".
const (
	PositionInFlight = -1
	PositionUnknown  = -2
)

// Position returns the 1-based queue rank, PositionInFlight, or
// PositionUnknown.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[id]; ok {
		return PositionInFlight
	}
	for i, req := range q.fifo {
		if req.ID == id {
			return i + 1
		}
	}
	return PositionUnknown
}

// Size returns the number of items currently in the FIFO (not counting
// in-flight requests).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// IsFull reports whether the FIFO is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo) >= q.capacity
}

// Stats is the admin-facing snapshot backing GET /internal/queue/stats,
// grounded on the original fastapi-service's equivalent endpoint.
type Stats struct {
	Depth      int
	InFlight   int
	Capacity   int
	MaxRetries int
}

// Stats reports the queue's current shape for the admin endpoint.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:      len(q.fifo),
		InFlight:   len(q.inflight),
		Capacity:   q.capacity,
		MaxRetries: q.maxRetries,
	}
}

// Purge drops every request still waiting in the FIFO (not yet dequeued),
// failing each one through the registered failure handler so its client
// receives a terminal frame instead of hanging silently. In-flight requests
// are left untouched — purge only clears admission backlog, it does not
// cancel work already handed to a worker.
func (q *Queue) Purge(reason error) int {
	q.mu.Lock()
	purged := q.fifo
	q.fifo = make([]*gwtypes.Request, 0, q.capacity)
	for _, req := range purged {
		delete(q.byID, req.ID)
	}
	handler := q.onFailed
	q.mu.Unlock()

	if handler != nil {
		for _, req := range purged {
			handler(req.ID, reason)
		}
	}
	return len(purged)
}

// InFlightSnapshot returns a copy of the current in-flight requests, for
// the visibility monitor's scan.
func (q *Queue) InFlightSnapshot() []*gwtypes.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*gwtypes.Request, 0, len(q.inflight))
	for _, e := range q.inflight {
		out = append(out, e.request)
	}
	return out
}

// Shutdown marks the queue as shutting down and wakes any blocked
// dequeuers, which then observe ErrShuttingDown once drained.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.notEmpty.Broadcast()
}
