package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesEverySchemaStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceConfigsScansNullableTimes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	lastRun := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"source_id", "active", "priority", "interval_seconds", "last_run", "backoff_until"}).
		AddRow("USGS", true, 0, 300, &lastRun, nil).
		AddRow("OpenMeteo", false, 2, 60, nil, nil)
	mock.ExpectQuery("SELECT source_id, active").WithArgs("p1").WillReturnRows(rows)

	got, err := store.SourceConfigs(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	usgs := got["USGS"]
	require.Equal(t, "p1", usgs.ProjectID)
	require.True(t, usgs.Active)
	require.Equal(t, 300, usgs.IntervalSeconds)
	require.NotNil(t, usgs.LastRun)
	require.True(t, usgs.LastRun.Equal(lastRun))
	require.Nil(t, usgs.BackoffUntil)

	meteo := got["OpenMeteo"]
	require.False(t, meteo.Active)
	require.Equal(t, 2, meteo.Priority)
	require.Nil(t, meteo.LastRun)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBackoffUpsertsOnlyBackoffColumn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	until := time.Unix(1700000600, 0).UTC()
	seed := crawl.SourceConfig{ProjectID: "p1", SourceID: "B", Active: true, IntervalSeconds: 300}

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(project_id, source_id\) DO UPDATE SET backoff_until = EXCLUDED.backoff_until`).
		WithArgs("p1", "B", true, 0, 300, (*time.Time)(nil), &until).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SetBackoff(context.Background(), seed, until))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSourceActiveRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	seed := crawl.SourceConfig{ProjectID: "p1", SourceID: "USGS", Active: true, IntervalSeconds: 300}

	mock.ExpectBegin()
	mock.ExpectExec("DO UPDATE SET active = EXCLUDED.active").
		WithArgs("p1", "USGS", false, 0, 300, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.SetSourceActive(context.Background(), seed, false)
	require.ErrorContains(t, err, "upsert active")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventWritesStatusAndTriggerAsText(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Unix(1700000000, 0).UTC()
	event := crawl.Event{
		ProjectID: "p1",
		SourceID:  "USGS",
		Timestamp: ts,
		Status:    crawl.StatusFail,
		Trigger:   crawl.TriggerManual,
		RunID:     "run-1",
		Detail:    "http 500",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_events").
		WithArgs("p1", "USGS", ts, "fail", "manual", "run-1", "http 500").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentEventsNewestFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	t1 := time.Unix(1700000100, 0).UTC()
	t0 := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"project_id", "source_id", "ts", "status", "trigger_kind", "run_id", "detail"}).
		AddRow("p1", "USGS", t1, "ok", "auto", "r2", "").
		AddRow("p1", "USGS", t0, "error", "manual", "r1", "timeout")
	mock.ExpectQuery(`ORDER BY ts DESC LIMIT \$2`).WithArgs("p1", 2).WillReturnRows(rows)

	got, err := store.RecentEvents(context.Background(), "p1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, crawl.StatusOK, got[0].Status)
	require.Equal(t, crawl.TriggerAuto, got[0].Trigger)
	require.Equal(t, crawl.StatusError, got[1].Status)
	require.Equal(t, "timeout", got[1].Detail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEachEventStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"project_id", "source_id", "ts", "status", "trigger_kind", "run_id", "detail"}).
		AddRow("p1", "A", ts, "ok", "auto", "", "").
		AddRow("p1", "B", ts.Add(time.Second), "ok", "auto", "", "")
	mock.ExpectQuery(`FROM crawl_events WHERE project_id = \$1 ORDER BY ts`).WithArgs("p1").WillReturnRows(rows)

	stop := errors.New("stop")
	var seen []string
	err := store.EachEvent(context.Background(), "p1", func(e crawl.Event) error {
		seen = append(seen, e.SourceID)
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, []string{"A"}, seen)
}

func TestLatestRunsGroupsBySource(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"source_id", "max"}).AddRow("USGS", ts)
	mock.ExpectQuery(`SELECT source_id, MAX\(ts\)`).WithArgs("p1").WillReturnRows(rows)

	got, err := store.LatestRuns(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, map[string]time.Time{"USGS": ts}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntriesSingleTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	lat, lon := crawl.Float(1), crawl.Float(2)
	entries := []crawl.Entry{
		{ProjectID: "p1", SourceID: "USGS", Latitude: lat, Longitude: lon, Comment: "M 4.5 quake"},
		{ProjectID: "p1", SourceID: "USGS", Comment: "no location"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO project_entries").
		WithArgs("p1", "USGS", lat, lon, "M 4.5 quake").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO project_entries").
		WithArgs("p1", "USGS", (*float64)(nil), (*float64)(nil), "no location").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.InsertEntries(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntriesEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.InsertEntries(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntriesScansNullComment(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	comment := "abc"
	rows := pgxmock.NewRows([]string{"id", "project_id", "source_id", "latitude", "longitude", "comment"}).
		AddRow(int64(1), "p1", "X", crawl.Float(1), crawl.Float(1), &comment).
		AddRow(int64(2), "p1", "X", nil, nil, nil)
	mock.ExpectQuery("FROM project_entries").WithArgs("p1").WillReturnRows(rows)

	got, err := store.ListEntries(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "abc", got[0].Comment)
	require.InDelta(t, 1.0, *got[0].Latitude, 1e-9)
	require.Empty(t, got[1].Comment)
	require.Nil(t, got[1].Latitude)
}

func TestCentroid(t *testing.T) {
	t.Parallel()

	t.Run("located entries", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		rows := pgxmock.NewRows([]string{"avg", "avg", "count"}).AddRow(crawl.Float(10), crawl.Float(20), int64(3))
		mock.ExpectQuery("SELECT AVG").WithArgs("p1").WillReturnRows(rows)

		point, ok, err := store.Centroid(context.Background(), "p1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, crawl.Point{Lat: 10, Lon: 20}, point)
	})

	t.Run("no located entries", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		rows := pgxmock.NewRows([]string{"avg", "avg", "count"}).AddRow(nil, nil, int64(0))
		mock.ExpectQuery("SELECT AVG").WithArgs("p1").WillReturnRows(rows)

		_, ok, err := store.Centroid(context.Background(), "p1")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestCleanupPassesReportAffectedRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`USING project_entries k`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`latitude = 0 OR longitude = 0`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`char_length\(comment\) < \$2`).WithArgs("p1", 3).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	n, err := store.DeleteDuplicateEntries(ctx, "p1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = store.DeleteInvalidCoordinates(ctx, "p1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = store.DeleteShortComments(ctx, "p1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectDiscoveryQueries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT DISTINCT project_id FROM project_entries").
		WillReturnRows(pgxmock.NewRows([]string{"project_id"}).AddRow("a").AddRow("b"))
	mock.ExpectQuery("SELECT DISTINCT project_id FROM project_sources").
		WillReturnRows(pgxmock.NewRows([]string{"project_id"}).AddRow("c"))

	entries, err := store.EntryProjects(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, entries)
	configured, err := store.ConfiguredProjects(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, configured)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres: refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
