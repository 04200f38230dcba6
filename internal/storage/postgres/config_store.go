package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

const selectSourceConfigs = `
SELECT source_id, active, priority, interval_seconds, last_run, backoff_until
FROM project_sources
WHERE project_id = $1`

// upsertSourceConfig inserts the seed row or updates only the named column.
const upsertSourceConfig = `
INSERT INTO project_sources (
	project_id,
	source_id,
	active,
	priority,
	interval_seconds,
	last_run,
	backoff_until
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (project_id, source_id) DO UPDATE SET %[1]s = EXCLUDED.%[1]s`

// SourceConfigs returns the explicit rows for a project keyed by source id.
func (s *Store) SourceConfigs(ctx context.Context, projectID string) (map[string]crawl.SourceConfig, error) {
	rows, err := s.pool.Query(ctx, selectSourceConfigs, projectID)
	if err != nil {
		return nil, fmt.Errorf("query source configs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]crawl.SourceConfig)
	for rows.Next() {
		cfg := crawl.SourceConfig{ProjectID: projectID}
		if err := rows.Scan(
			&cfg.SourceID,
			&cfg.Active,
			&cfg.Priority,
			&cfg.IntervalSeconds,
			&cfg.LastRun,
			&cfg.BackoffUntil,
		); err != nil {
			return nil, fmt.Errorf("scan source config: %w", err)
		}
		out[cfg.SourceID] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source configs: %w", err)
	}
	return out, nil
}

// SetSourceActive upserts the active flag.
func (s *Store) SetSourceActive(ctx context.Context, seed crawl.SourceConfig, active bool) error {
	seed.Active = active
	return s.upsertColumn(ctx, "active", seed)
}

// MarkRun upserts last_run.
func (s *Store) MarkRun(ctx context.Context, seed crawl.SourceConfig, at time.Time) error {
	seed.LastRun = &at
	return s.upsertColumn(ctx, "last_run", seed)
}

// SetBackoff upserts backoff_until.
func (s *Store) SetBackoff(ctx context.Context, seed crawl.SourceConfig, until time.Time) error {
	seed.BackoffUntil = &until
	return s.upsertColumn(ctx, "backoff_until", seed)
}

// ConfiguredProjects lists projects with at least one config row.
func (s *Store) ConfiguredProjects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project_id FROM project_sources ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query configured projects: %w", err)
	}
	return collectStrings(rows)
}

// column is always one of the literals above, never caller input.
func (s *Store) upsertColumn(ctx context.Context, column string, cfg crawl.SourceConfig) error {
	query := fmt.Sprintf(upsertSourceConfig, column)
	if _, err := s.execTx(ctx, query,
		cfg.ProjectID,
		cfg.SourceID,
		cfg.Active,
		cfg.Priority,
		cfg.IntervalSeconds,
		cfg.LastRun,
		cfg.BackoffUntil,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", column, err)
	}
	return nil
}
