package queue

import (
	"context"
	"testing"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/stretchr/testify/require"
)

func req(id string) *gwtypes.Request {
	return &gwtypes.Request{ID: id}
}

func TestQueueCapacityScenario(t *testing.T) {
	q := New(2)

	pos1, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	require.Equal(t, 1, pos1)

	pos2, err := q.Enqueue(req("r2"))
	require.NoError(t, err)
	require.Equal(t, 2, pos2)

	_, err = q.Enqueue(req("r3"))
	require.ErrorIs(t, err, gwtypes.ErrQueueFull)
	require.Equal(t, 2, q.Size(), "rejected enqueue must not mutate state")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", got.ID)

	pos3, err := q.Enqueue(req("r3"))
	require.NoError(t, err)
	require.Equal(t, 2, pos3, "r3 lands at position 2 once r1 moved in-flight")
}

func TestFIFOWithRetryHeadInsertion(t *testing.T) {
	q := New(10)
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	_, err = q.Enqueue(req("r2"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", got.ID)

	require.True(t, q.RequeueForRetry("r1"))

	got2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", got2.ID, "retried request must be served before FIFO-ordered r2")
	require.Equal(t, 1, got2.RetryCount)
}

func TestRequeueRespectsRetryCap(t *testing.T) {
	q := New(10, WithMaxRetries(2))
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.True(t, q.RequeueForRetry("r1"))
	}

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.False(t, q.RequeueForRetry("r1"), "retry cap exhausted")

	var failedID string
	var failedReason error
	q2 := New(10, WithMaxRetries(0), WithFailureHandler(func(id string, reason error) {
		failedID, failedReason = id, reason
	}))
	_, err = q2.Enqueue(req("r9"))
	require.NoError(t, err)
	_, err = q2.Dequeue(ctx)
	require.NoError(t, err)
	require.False(t, q2.RequeueForRetry("r9"))
	q2.MarkFailed("r9", gwtypes.ErrVisibilityTimeout)
	require.Equal(t, "r9", failedID)
	require.ErrorIs(t, failedReason, gwtypes.ErrVisibilityTimeout)
}

func TestAckRoundTripLeavesQueueUnchanged(t *testing.T) {
	q := New(5)
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	q.Ack(got.ID)

	require.Equal(t, 0, q.Size())
	require.Empty(t, q.InFlightSnapshot())
}

func TestPosition(t *testing.T) {
	q := New(5)
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	_, err = q.Enqueue(req("r2"))
	require.NoError(t, err)

	require.Equal(t, 1, q.Position("r1"))
	require.Equal(t, 2, q.Position("r2"))
	require.Equal(t, PositionUnknown, q.Position("missing"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, PositionInFlight, q.Position("r1"))
}

func TestLowTierWatermarkRejectsNormalTierEarly(t *testing.T) {
	q := New(4, WithLowTierWatermark(0.5))
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	_, err = q.Enqueue(req("r2"))
	require.NoError(t, err)

	_, err = q.Enqueue(req("r3"))
	require.ErrorIs(t, err, gwtypes.ErrQueueFull)

	priority := req("p1")
	priority.Tier = gwtypes.TierPriority
	_, err = q.Enqueue(priority)
	require.NoError(t, err, "priority tier bypasses the watermark")
}

func TestDequeueUnblocksOnShutdown(t *testing.T) {
	q := New(1)
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-done:
		require.ErrorIs(t, err, gwtypes.ErrShuttingDown)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock on shutdown")
	}
}

func TestStatsReportsDepthAndInFlightSeparately(t *testing.T) {
	q := New(4)
	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	_, err = q.Enqueue(req("r2"))
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background())
	require.NoError(t, err)

	stats := q.Stats()
	require.Equal(t, 1, stats.Depth)
	require.Equal(t, 1, stats.InFlight)
	require.Equal(t, 4, stats.Capacity)
}

func TestPurgeDropsOnlyWaitingRequestsAndFailsThem(t *testing.T) {
	var failed []string
	q := New(4, WithFailureHandler(func(id string, reason error) {
		failed = append(failed, id)
	}))

	_, err := q.Enqueue(req("r1"))
	require.NoError(t, err)
	_, err = q.Enqueue(req("r2"))
	require.NoError(t, err)
	inFlight, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	n := q.Purge(gwtypes.ErrShuttingDown)

	require.Equal(t, 1, n, "only the still-waiting request should be purged")
	require.Equal(t, []string{"r2"}, failed)
	require.Equal(t, 0, q.Size())
	require.Equal(t, PositionInFlight, q.Position(inFlight.ID), "purge must not touch in-flight requests")
}
