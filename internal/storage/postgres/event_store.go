package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

const eventColumns = `project_id, source_id, ts, status, trigger_kind, run_id, detail`

// AppendEvent durably writes one ledger row.
func (s *Store) AppendEvent(ctx context.Context, event crawl.Event) error {
	query := `INSERT INTO crawl_events (` + eventColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := s.execTx(ctx, query,
		event.ProjectID,
		event.SourceID,
		event.Timestamp,
		string(event.Status),
		string(event.Trigger),
		event.RunID,
		event.Detail,
	); err != nil {
		return fmt.Errorf("insert crawl event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events newest-first.
func (s *Store) RecentEvents(ctx context.Context, projectID string, limit int) ([]crawl.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM crawl_events WHERE project_id = $1 ORDER BY ts DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	var out []crawl.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent events: %w", err)
	}
	return out, nil
}

// EachEvent streams a project's full history oldest-first.
func (s *Store) EachEvent(ctx context.Context, projectID string, fn func(crawl.Event) error) error {
	query := `SELECT ` + eventColumns + ` FROM crawl_events WHERE project_id = $1 ORDER BY ts`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return fmt.Errorf("query event history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate event history: %w", err)
	}
	return nil
}

// LatestRuns reads MAX(ts) per source off the primary key index.
func (s *Store) LatestRuns(ctx context.Context, projectID string) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, MAX(ts) FROM crawl_events WHERE project_id = $1 GROUP BY source_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest runs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			source string
			ts     time.Time
		)
		if err := rows.Scan(&source, &ts); err != nil {
			return nil, fmt.Errorf("scan latest run: %w", err)
		}
		out[source] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest runs: %w", err)
	}
	return out, nil
}

func scanEvent(rows pgx.Rows) (crawl.Event, error) {
	var (
		event   crawl.Event
		status  string
		trigger string
	)
	if err := rows.Scan(
		&event.ProjectID,
		&event.SourceID,
		&event.Timestamp,
		&status,
		&trigger,
		&event.RunID,
		&event.Detail,
	); err != nil {
		return crawl.Event{}, fmt.Errorf("scan crawl event: %w", err)
	}
	event.Status = crawl.Status(status)
	event.Trigger = crawl.Trigger(trigger)
	return event, nil
}
