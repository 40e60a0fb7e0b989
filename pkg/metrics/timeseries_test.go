package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndAggregate(t *testing.T) {
	s := newSeries()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{1, 2, 3, 4, 100} {
		s.Append(base.Add(time.Duration(i)*time.Second), v)
	}

	agg := s.Aggregate(base.Add(-time.Minute), base.Add(time.Minute))
	require.Equal(t, 5, agg.Count)
	require.Equal(t, 1.0, agg.Min)
	require.Equal(t, 100.0, agg.Max)
	require.InDelta(t, 22.0, agg.Avg, 0.01)
}

func TestOldPartitionsAreEvicted(t *testing.T) {
	s := newSeries()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Append(old, 1)
	now := old.Add(RetentionPeriod + time.Hour)
	s.Append(now, 2)

	agg := s.Aggregate(old.Add(-time.Hour), now.Add(time.Hour))
	require.Equal(t, 1, agg.Count)
	require.Equal(t, 2.0, agg.Min)
}

func TestStoreRecordAndAggregate(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Record("queue_depth", now, 3)
	store.Record("queue_depth", now.Add(time.Second), 7)

	agg, ok := store.Aggregate("queue_depth", now.Add(-time.Minute), now.Add(time.Minute))
	require.True(t, ok)
	require.Equal(t, 2, agg.Count)

	_, ok = store.Aggregate("unknown", now.Add(-time.Minute), now.Add(time.Minute))
	require.False(t, ok)
}
