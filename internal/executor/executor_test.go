package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/clock"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/ledger"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/memory"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/postgres"
)

type adapterFunc func(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error)

func (f adapterFunc) Fetch(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
	return f(ctx, def, project)
}

type failingLedger struct {
	mu    sync.Mutex
	calls int
}

func (l *failingLedger) Append(context.Context, crawl.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return errors.New("disk full")
}

type brokenEntries struct {
	*memory.EntryStore
}

func (brokenEntries) InsertEntries(context.Context, []crawl.Entry) error {
	return errors.New("constraint violation")
}

type fixture struct {
	exec    *Executor
	events  *memory.EventStore
	entries *memory.EntryStore
	archive *memory.BlobStore
	clock   *clock.Fake
}

func newFixture(t *testing.T, adapter crawl.SourceAdapter, opts ...func(*Config)) fixture {
	t.Helper()
	f := fixture{
		events:  memory.NewEventStore(),
		entries: memory.NewEntryStore(),
		archive: memory.NewBlobStore(),
		clock:   clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	l, err := ledger.New(f.events, memory.NewTail(10), nil)
	require.NoError(t, err)
	cfg := Config{FetchTimeout: time.Second, ArchivePrefix: "raw"}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.exec, err = New(catalog.Default(), adapter, f.entries, l, f.archive, f.clock, cfg, nil)
	require.NoError(t, err)
	return f
}

func lastEvent(t *testing.T, events *memory.EventStore, project string) crawl.Event {
	t.Helper()
	got, err := events.RecentEvents(context.Background(), project, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func TestExecuteOKIngestsAndArchives(t *testing.T) {
	t.Parallel()

	adapter := adapterFunc(func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
		return crawl.FetchResult{
			StatusCode:  200,
			Success:     true,
			Records:     []crawl.Entry{{Latitude: crawl.Float(1), Longitude: crawl.Float(2), Comment: "quake"}},
			Diagnostics: []string{"feature 1: missing coordinates"},
			Body:        []byte(`{"features":[]}`),
			ContentType: "application/json",
		}, nil
	})
	f := newFixture(t, adapter)

	res, err := f.exec.Execute(context.Background(), "p1", catalog.USGS, crawl.TriggerAuto, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusOK, res.Event.Status)
	require.Equal(t, 1, res.Ingested)
	require.Equal(t, 1, res.Diagnostics)
	require.Equal(t, "http 200, 1 records, 1 skipped", res.Event.Detail)
	require.Equal(t, "memory://raw/p1/USGS/20240501T120000.000Z.json", res.ArchiveURI)

	entries, err := f.entries.ListEntries(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, catalog.USGS, entries[0].SourceID)

	event := lastEvent(t, f.events, "p1")
	require.Equal(t, "run-1", event.RunID)
	require.Equal(t, crawl.TriggerAuto, event.Trigger)
	require.Equal(t, 1, f.archive.Len())
}

func TestExecuteNon200IsFail(t *testing.T) {
	t.Parallel()

	adapter := adapterFunc(func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
		return crawl.FetchResult{StatusCode: 500, Reason: "http 500", Body: []byte("x")}, nil
	})
	f := newFixture(t, adapter)

	res, err := f.exec.Execute(context.Background(), "p1", catalog.NASAFIRMS, crawl.TriggerManual, "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFail, res.Event.Status)
	require.Equal(t, "http 500", res.Event.Detail)
	require.Equal(t, 1, f.events.Count("p1"))
	require.Zero(t, f.archive.Len())
}

func TestExecuteAdapterErrorAndPanicAreErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]adapterFunc{
		"error": func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
			return crawl.FetchResult{}, errors.New("decode geojson: unexpected EOF")
		},
		"panic": func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
			panic("nil map")
		},
	}
	for name, adapter := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, adapter)
			res, err := f.exec.Execute(context.Background(), "p1", catalog.USGS, crawl.TriggerAuto, "")
			require.NoError(t, err)
			require.Equal(t, crawl.StatusError, res.Event.Status)
			require.Equal(t, 1, f.events.Count("p1"))
		})
	}
}

func TestExecuteFetchTimeout(t *testing.T) {
	t.Parallel()

	adapter := adapterFunc(func(ctx context.Context, _ crawl.SourceDefinition, _ crawl.ProjectContext) (crawl.FetchResult, error) {
		<-ctx.Done()
		return crawl.FetchResult{}, ctx.Err()
	})
	f := newFixture(t, adapter, func(c *Config) { c.FetchTimeout = 20 * time.Millisecond })

	res, err := f.exec.Execute(context.Background(), "p1", catalog.USGS, crawl.TriggerAuto, "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, res.Event.Status)
	require.Contains(t, res.Event.Detail, "deadline")
}

func TestExecuteRecordsEventAfterCallerCancel(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	pg, err := postgres.NewWithPool(mock)
	require.NoError(t, err)
	l, err := ledger.New(pg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The caller goes away while the fetch is in flight.
	adapter := adapterFunc(func(fetchCtx context.Context, _ crawl.SourceDefinition, _ crawl.ProjectContext) (crawl.FetchResult, error) {
		cancel()
		return crawl.FetchResult{}, fetchCtx.Err()
	})
	exec, err := New(catalog.Default(), adapter, memory.NewEntryStore(), l, nil,
		clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)), Config{FetchTimeout: time.Second}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_events").
		WithArgs("p1", catalog.USGS, pgxmock.AnyArg(), "error", "manual", "run-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := exec.Execute(ctx, "p1", catalog.USGS, crawl.TriggerManual, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, res.Event.Status)
	require.Contains(t, res.Event.Detail, "canceled")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteWeatherCentroid(t *testing.T) {
	t.Parallel()

	var seen *crawl.Point
	adapter := adapterFunc(func(_ context.Context, _ crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
		if project.Centroid == nil {
			return crawl.FetchResult{MissingLocation: true, Reason: "no project centroid"}, nil
		}
		seen = project.Centroid
		return crawl.FetchResult{StatusCode: 200, Success: true}, nil
	})
	f := newFixture(t, adapter)
	ctx := context.Background()

	res, err := f.exec.Execute(ctx, "p1", catalog.OpenMeteo, crawl.TriggerAuto, "")
	require.NoError(t, err)
	require.True(t, res.MissingLocation)
	require.Equal(t, crawl.StatusFail, res.Event.Status)
	require.Equal(t, "no project centroid", res.Event.Detail)

	require.NoError(t, f.entries.InsertEntries(ctx, []crawl.Entry{
		{ProjectID: "p1", SourceID: "X", Latitude: crawl.Float(10), Longitude: crawl.Float(20), Comment: "a"},
		{ProjectID: "p1", SourceID: "X", Latitude: crawl.Float(20), Longitude: crawl.Float(40), Comment: "b"},
	}))
	res, err = f.exec.Execute(ctx, "p1", catalog.OpenMeteo, crawl.TriggerAuto, "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusOK, res.Event.Status)
	require.NotNil(t, seen)
	require.InDelta(t, 15.0, seen.Lat, 1e-9)
	require.InDelta(t, 30.0, seen.Lon, 1e-9)
	require.Equal(t, 2, f.events.Count("p1"))
}

func TestExecuteIngestFailureIsError(t *testing.T) {
	t.Parallel()

	adapter := adapterFunc(func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
		return crawl.FetchResult{StatusCode: 200, Success: true, Records: []crawl.Entry{{Comment: "x"}}}, nil
	})
	events := memory.NewEventStore()
	l, err := ledger.New(events, nil, nil)
	require.NoError(t, err)
	exec, err := New(catalog.Default(), adapter, brokenEntries{memory.NewEntryStore()}, l, nil,
		clock.NewFake(time.Unix(0, 0)), Config{}, nil)
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), "p1", catalog.USGS, crawl.TriggerAuto, "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, res.Event.Status)
	require.True(t, strings.HasPrefix(res.Event.Detail, "ingest:"))
	require.Equal(t, 1, events.Count("p1"))
}

func TestExecuteLedgerFailureIsReturned(t *testing.T) {
	t.Parallel()

	adapter := adapterFunc(func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
		return crawl.FetchResult{StatusCode: 200, Success: true}, nil
	})
	l := &failingLedger{}
	exec, err := New(catalog.Default(), adapter, memory.NewEntryStore(), l, nil, clock.NewFake(time.Unix(0, 0)), Config{}, nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "p1", catalog.USGS, crawl.TriggerAuto, "")
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 1, l.calls)
}

func TestExecuteUnknownSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, adapterFunc(func(context.Context, crawl.SourceDefinition, crawl.ProjectContext) (crawl.FetchResult, error) {
		t.Fatal("adapter must not be called")
		return crawl.FetchResult{}, nil
	}))
	_, err := f.exec.Execute(context.Background(), "p1", "nope", crawl.TriggerManual, "")
	require.ErrorIs(t, err, catalog.ErrUnknownSource)
	require.Zero(t, f.events.Count("p1"))
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "p1/NASA-FIRMS/20240501T120000.000Z.csv", ArchivePath("", "p1", catalog.NASAFIRMS, at, "text/csv"))
	require.Equal(t, "raw/p1/X/20240501T120000.000Z.bin", ArchivePath("/raw/", "p1", "X", at, ""))
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", maxDetailLen)
	got := truncate(long)
	require.LessOrEqual(t, len(got), maxDetailLen)
	require.Equal(t, strings.Repeat("é", len(got)/2), got)
}
