package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

func newTestTail(t *testing.T, capacity int, ttl time.Duration) (*Tail, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tail, err := NewTail(client, Config{KeyPrefix: "test", TTL: ttl}, capacity)
	require.NoError(t, err)
	return tail, srv
}

func event(project, source string, sec int64) crawl.Event {
	return crawl.Event{
		ProjectID: project,
		SourceID:  source,
		Timestamp: time.Unix(sec, 0).UTC(),
		Status:    crawl.StatusOK,
		Trigger:   crawl.TriggerAuto,
	}
}

func TestTailNewestFirstAndTrimmed(t *testing.T) {
	t.Parallel()

	tail, srv := newTestTail(t, 2, 0)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, tail.Push(ctx, event("p1", "USGS", i)))
	}

	got, err := tail.Recent(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(3), got[0].Timestamp.Unix())
	require.Equal(t, int64(2), got[1].Timestamp.Unix())

	items, err := srv.List("test:tail:p1")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestTailScopedPerProject(t *testing.T) {
	t.Parallel()

	tail, _ := newTestTail(t, 10, 0)
	ctx := context.Background()
	require.NoError(t, tail.Push(ctx, event("p1", "USGS", 1)))
	require.NoError(t, tail.Push(ctx, event("p2", "USGS", 2)))

	got, err := tail.Recent(ctx, "p2", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p2", got[0].ProjectID)

	empty, err := tail.Recent(ctx, "missing", 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestTailAppliesTTL(t *testing.T) {
	t.Parallel()

	tail, srv := newTestTail(t, 10, time.Hour)
	require.NoError(t, tail.Push(context.Background(), event("p1", "USGS", 1)))
	require.Equal(t, time.Hour, srv.TTL("test:tail:p1"))
}

func TestNewClientRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)
}

func TestNewClientPings(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client, err := NewClient(Config{Addr: srv.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestTailResetDeletesKey(t *testing.T) {
	t.Parallel()

	tail, srv := newTestTail(t, 10, 0)
	ctx := context.Background()
	require.NoError(t, tail.Push(ctx, event("p1", "USGS", 1)))
	require.NoError(t, tail.Push(ctx, event("p2", "USGS", 1)))

	require.NoError(t, tail.Reset(ctx, "p1"))

	require.False(t, srv.Exists("test:tail:p1"))
	require.True(t, srv.Exists("test:tail:p2"))
}

func TestTailResetReportsServerErrors(t *testing.T) {
	t.Parallel()

	tail, srv := newTestTail(t, 10, 0)
	srv.SetError("ERR out of service")

	require.ErrorContains(t, tail.Reset(context.Background(), "p1"), "reset tail test:tail:p1")
}
