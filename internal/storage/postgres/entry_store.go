package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

const (
	insertEntry = `INSERT INTO project_entries (project_id, source_id, latitude, longitude, comment)
VALUES ($1,$2,$3,$4,$5)`

	deleteDuplicateEntries = `
DELETE FROM project_entries e
USING project_entries k
WHERE e.project_id = $1
	AND k.project_id = $1
	AND e.source_id = k.source_id
	AND e.latitude IS NOT DISTINCT FROM k.latitude
	AND e.longitude IS NOT DISTINCT FROM k.longitude
	AND e.comment IS NOT DISTINCT FROM k.comment
	AND e.id > k.id`

	deleteInvalidCoordinates = `
DELETE FROM project_entries
WHERE project_id = $1
	AND (latitude IS NULL OR longitude IS NULL OR latitude = 0 OR longitude = 0)`

	deleteShortComments = `
DELETE FROM project_entries
WHERE project_id = $1
	AND (comment IS NULL OR char_length(comment) < $2)`
)

// InsertEntries writes all entries in one transaction.
func (s *Store) InsertEntries(ctx context.Context, entries []crawl.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, e := range entries {
			if _, err := tx.Exec(ctx, insertEntry, e.ProjectID, e.SourceID, e.Latitude, e.Longitude, e.Comment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert entries: %w", err)
	}
	return nil
}

// ListEntries returns a project's entries ordered by id.
func (s *Store) ListEntries(ctx context.Context, projectID string) ([]crawl.Entry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, project_id, source_id, latitude, longitude, comment
FROM project_entries
WHERE project_id = $1
ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	var out []crawl.Entry
	for rows.Next() {
		var (
			e       crawl.Entry
			comment *string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SourceID, &e.Latitude, &e.Longitude, &comment); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if comment != nil {
			e.Comment = *comment
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Centroid averages the located entries of a project.
func (s *Store) Centroid(ctx context.Context, projectID string) (crawl.Point, bool, error) {
	var (
		lat, lon *float64
		located  int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT AVG(latitude), AVG(longitude), COUNT(*)
FROM project_entries
WHERE project_id = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL`, projectID).Scan(&lat, &lon, &located)
	if err != nil {
		return crawl.Point{}, false, fmt.Errorf("query centroid: %w", err)
	}
	if located == 0 || lat == nil || lon == nil {
		return crawl.Point{}, false, nil
	}
	return crawl.Point{Lat: *lat, Lon: *lon}, true, nil
}

// DeleteDuplicateEntries keeps the lowest id per (source, latitude, longitude, comment).
func (s *Store) DeleteDuplicateEntries(ctx context.Context, projectID string) (int64, error) {
	n, err := s.execTx(ctx, deleteDuplicateEntries, projectID)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate entries: %w", err)
	}
	return n, nil
}

// DeleteInvalidCoordinates removes entries with a null or zero coordinate.
func (s *Store) DeleteInvalidCoordinates(ctx context.Context, projectID string) (int64, error) {
	n, err := s.execTx(ctx, deleteInvalidCoordinates, projectID)
	if err != nil {
		return 0, fmt.Errorf("delete invalid coordinates: %w", err)
	}
	return n, nil
}

// DeleteShortComments removes entries whose comment has fewer than minLen characters.
func (s *Store) DeleteShortComments(ctx context.Context, projectID string, minLen int) (int64, error) {
	n, err := s.execTx(ctx, deleteShortComments, projectID, minLen)
	if err != nil {
		return 0, fmt.Errorf("delete short comments: %w", err)
	}
	return n, nil
}

// EntryProjects lists projects owning at least one entry.
func (s *Store) EntryProjects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project_id FROM project_entries ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query entry projects: %w", err)
	}
	return collectStrings(rows)
}
