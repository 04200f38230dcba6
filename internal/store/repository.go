package store

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// ConfigStore persists per-(project, source) scheduling state.
//
// Writes take a seed config: when no row exists for the pair, the seed is
// inserted with the single field being changed applied on top of it. Only that
// field is updated when the row already exists.
type ConfigStore interface {
	// SourceConfigs returns the explicit rows for a project keyed by source id.
	SourceConfigs(ctx context.Context, projectID string) (map[string]crawl.SourceConfig, error)
	// SetSourceActive toggles activation.
	SetSourceActive(ctx context.Context, seed crawl.SourceConfig, active bool) error
	// MarkRun records the time of the latest executed attempt.
	MarkRun(ctx context.Context, seed crawl.SourceConfig, at time.Time) error
	// SetBackoff records the not-before time after a failure.
	SetBackoff(ctx context.Context, seed crawl.SourceConfig, until time.Time) error
	// ConfiguredProjects lists projects with at least one config row.
	ConfiguredProjects(ctx context.Context) ([]string, error)
}

// EventStore is the durable, append-only crawl ledger.
type EventStore interface {
	// AppendEvent durably writes one event.
	AppendEvent(ctx context.Context, event crawl.Event) error
	// RecentEvents returns up to limit events newest-first.
	RecentEvents(ctx context.Context, projectID string, limit int) ([]crawl.Event, error)
	// EachEvent streams the full history of a project oldest-first. Iteration stops at the first fn error.
	EachEvent(ctx context.Context, projectID string, fn func(crawl.Event) error) error
	// LatestRuns returns the newest event timestamp per source.
	LatestRuns(ctx context.Context, projectID string) (map[string]time.Time, error)
}

// EntryStore persists ingested project entries.
type EntryStore interface {
	// InsertEntries writes all entries in one transaction.
	InsertEntries(ctx context.Context, entries []crawl.Entry) error
	// ListEntries returns a project's entries ordered by id.
	ListEntries(ctx context.Context, projectID string) ([]crawl.Entry, error)
	// Centroid averages the located entries of a project. ok is false when none are located.
	Centroid(ctx context.Context, projectID string) (point crawl.Point, ok bool, err error)
	// DeleteDuplicateEntries keeps the lowest id per (source, latitude, longitude, comment).
	DeleteDuplicateEntries(ctx context.Context, projectID string) (int64, error)
	// DeleteInvalidCoordinates removes entries with a null or zero coordinate.
	DeleteInvalidCoordinates(ctx context.Context, projectID string) (int64, error)
	// DeleteShortComments removes entries whose comment has fewer than minLen characters.
	DeleteShortComments(ctx context.Context, projectID string, minLen int) (int64, error)
	// EntryProjects lists projects owning at least one entry.
	EntryProjects(ctx context.Context) ([]string, error)
}

// Tail is a bounded, newest-first view over recently appended events.
type Tail interface {
	Push(ctx context.Context, event crawl.Event) error
	Recent(ctx context.Context, projectID string, limit int) ([]crawl.Event, error)
	// Reset drops every cached event of projectID.
	Reset(ctx context.Context, projectID string) error
	Capacity() int
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
