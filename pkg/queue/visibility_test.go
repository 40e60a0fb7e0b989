package queue

import (
	"context"
	"testing"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/stretchr/testify/require"
)

type fakeSignaler struct {
	calls int
}

func (f *fakeSignaler) RecordSyntheticFailure(model, reason string) {
	f.calls++
}

// TestVisibilityTimeoutScenario passes no route resolver, so every request
// gets the non-image 300s timeout. It calls the monitor's tick directly and
// sets StartedAt far enough in the past to simulate elapsed visibility
// timeouts without sleeping for real-world durations.
func TestVisibilityTimeoutScenario(t *testing.T) {
	q := New(10, WithMaxRetries(2))
	r := req("r1")
	_, err := q.Enqueue(r)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)

	signaler := &fakeSignaler{}
	mon := NewMonitor(nil, q, nil, signaler, time.Millisecond)

	// Simulate elapsed time by backdating StartedAt rather than sleeping
	// for the full 300s default timeout.
	backdate := func(d time.Duration) {
		dequeued.StartedAt = time.Now().Add(-d)
	}

	backdate(301 * time.Second)
	mon.tick()
	require.Equal(t, 1, dequeued.RetryCount, "first timeout requeues with retry_count=1")

	// Monitor only scans the in-flight set; the worker pool would normally
	// dequeue the retried request again. Simulate that here.
	dequeued, err = q.Dequeue(ctx)
	require.NoError(t, err)

	backdate(301 * time.Second)
	mon.tick()
	require.Equal(t, 2, dequeued.RetryCount, "second timeout requeues with retry_count=2")

	dequeued, err = q.Dequeue(ctx)
	require.NoError(t, err)

	backdate(301 * time.Second)
	mon.tick()
	require.Equal(t, 1, signaler.calls, "exhausting retry cap fires the circuit breaker signal exactly once")
	require.Equal(t, PositionUnknown, q.Position(dequeued.ID), "request must be terminal, not requeued")
}

func TestImageRouteGetsLongerTimeout(t *testing.T) {
	require.Equal(t, 900*time.Second, VisibilityTimeoutFor(gwtypes.RouteImage))
	require.Equal(t, 900*time.Second, VisibilityTimeoutFor(gwtypes.RouteVision))
	require.Equal(t, 300*time.Second, VisibilityTimeoutFor(gwtypes.RouteReasoning))
}
