package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

func TestEventStoreOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEventStore()
	base := time.Unix(1700000000, 0).UTC()
	for i, status := range []crawl.Status{crawl.StatusOK, crawl.StatusFail, crawl.StatusOK} {
		require.NoError(t, s.AppendEvent(ctx, crawl.Event{
			ProjectID: "p",
			SourceID:  "A",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    status,
			Trigger:   crawl.TriggerAuto,
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, crawl.Event{ProjectID: "p", SourceID: "B", Timestamp: base, Status: crawl.StatusError}))
	require.Error(t, s.AppendEvent(ctx, crawl.Event{SourceID: "B"}))

	recent, err := s.RecentEvents(ctx, "p", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "B", recent[0].SourceID)
	require.Equal(t, base.Add(2*time.Minute), recent[1].Timestamp)

	var seen int
	require.NoError(t, s.EachEvent(ctx, "p", func(crawl.Event) error {
		seen++
		return nil
	}))
	require.Equal(t, 4, seen)
	require.Equal(t, 4, s.Count("p"))

	stop := errors.New("stop")
	err = s.EachEvent(ctx, "p", func(crawl.Event) error { return stop })
	require.ErrorIs(t, err, stop)

	latest, err := s.LatestRuns(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, base.Add(2*time.Minute), latest["A"])
	require.Equal(t, base, latest["B"])
}
