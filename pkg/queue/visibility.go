package queue

import (
	"context"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
)

// VisibilityTimeoutFor returns the per-route visibility timeout: image
// routes get a longer grace period since generation can legitimately take
// longer, per §4.I.
func VisibilityTimeoutFor(route gwtypes.RouteKind) time.Duration {
	if route.IsImageRoute() {
		return 900 * time.Second
	}
	return 300 * time.Second
}

// RouteResolver maps an in-flight request to the route whose visibility
// timeout applies. The worker pool does not record the resolved route on
// the request, so a resolver sees only what ingress set (such as a
// ClassificationHint of "has_image").
type RouteResolver func(req *gwtypes.Request) gwtypes.RouteKind

// CircuitSignaler receives a synthetic crash signal when a request times
// out past its retry cap, per §4.I step 3's "notify the circuit breaker
// registry with a synthetic failure".
type CircuitSignaler interface {
	RecordSyntheticFailure(model, reason string)
}

// Monitor is the background visibility-timeout scanner (§4.I).
type Monitor struct {
	log          logging.Logger
	queue        *Queue
	routeOf      RouteResolver
	signaler     CircuitSignaler
	checkInterval time.Duration
}

// NewMonitor creates a Monitor. routeOf may be nil, in which case every
// in-flight request is treated as a non-image route (the conservative,
// shorter timeout).
func NewMonitor(log logging.Logger, q *Queue, routeOf RouteResolver, signaler CircuitSignaler, checkInterval time.Duration) *Monitor {
	return &Monitor{
		log:           log,
		queue:         q,
		routeOf:       routeOf,
		signaler:      signaler,
		checkInterval: checkInterval,
	}
}

// Run ticks every checkInterval until ctx is cancelled, scanning in-flight
// requests and requeuing or failing any that have exceeded their
// visibility timeout.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	now := time.Now()
	for _, req := range m.queue.InFlightSnapshot() {
		if req.StartedAt.IsZero() {
			continue
		}
		route := gwtypes.RouteReasoning
		if m.routeOf != nil {
			route = m.routeOf(req)
		}
		timeout := VisibilityTimeoutFor(route)
		age := now.Sub(req.StartedAt)
		if age < timeout {
			continue
		}

		if m.queue.RequeueForRetry(req.ID) {
			if m.log != nil {
				m.log.WithField("request_id", req.ID).WithField("retry_count", req.RetryCount).
					Warnf("visibility timeout exceeded (%s); requeued to head", age)
			}
			continue
		}

		m.queue.MarkFailed(req.ID, gwtypes.ErrVisibilityTimeout)
		if m.signaler != nil {
			m.signaler.RecordSyntheticFailure(req.RequestedModel, "visibility-timeout")
		}
		if m.log != nil {
			m.log.WithField("request_id", req.ID).Errorf("visibility timeout exceeded (%s); terminal failure after %d retries", age, req.RetryCount)
		}
	}
}
