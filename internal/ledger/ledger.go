// Package ledger is the single append-only crawl log with two read views:
// the durable history used for scoring and a capped tail for live reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/store"
)

// Ledger appends to the durable store first and mirrors into the tail.
// A project whose tail missed a push is stale: reads skip the tail until it
// has been reset, after which later pushes rebuild it without gaps.
type Ledger struct {
	events store.EventStore
	tail   store.Tail
	logger *zap.Logger

	mu    sync.Mutex
	stale map[string]struct{}
}

// New wires a ledger. tail may be nil.
func New(events store.EventStore, tail store.Tail, logger *zap.Logger) (*Ledger, error) {
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		events: events,
		tail:   tail,
		logger: logger.Named("ledger"),
		stale:  make(map[string]struct{}),
	}, nil
}

// Append durably writes event. The tail write is best-effort; the durable
// store stays the source of truth.
func (l *Ledger) Append(ctx context.Context, event crawl.Event) error {
	if !event.Status.Valid() {
		return fmt.Errorf("invalid event status %q", event.Status)
	}
	if err := l.events.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if l.tail == nil {
		return nil
	}
	if l.isStale(event.ProjectID) && !l.resync(ctx, event.ProjectID) {
		return nil
	}
	if err := l.tail.Push(ctx, event); err != nil {
		l.logger.Warn("tail push failed",
			zap.String("project_id", event.ProjectID),
			zap.String("source_id", event.SourceID),
			zap.Error(err),
		)
		l.markStale(event.ProjectID)
		l.resync(ctx, event.ProjectID)
	}
	return nil
}

func (l *Ledger) isStale(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stale[projectID]
	return ok
}

func (l *Ledger) markStale(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stale[projectID] = struct{}{}
}

// resync empties a stale tail and reports whether it is usable again.
func (l *Ledger) resync(ctx context.Context, projectID string) bool {
	if err := l.tail.Reset(ctx, projectID); err != nil {
		l.logger.Warn("tail reset failed", zap.String("project_id", projectID), zap.Error(err))
		return false
	}
	l.mu.Lock()
	delete(l.stale, projectID)
	l.mu.Unlock()
	return true
}

// Query returns up to limit events newest-first. The tail answers when it
// can hold the request and already has enough events; otherwise the durable
// store is read.
func (l *Ledger) Query(ctx context.Context, projectID string, limit int) ([]crawl.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	if l.tail != nil && limit <= l.tail.Capacity() && !l.isStale(projectID) {
		events, err := l.tail.Recent(ctx, projectID, limit)
		switch {
		case err != nil:
			l.logger.Warn("tail read failed", zap.String("project_id", projectID), zap.Error(err))
		case len(events) >= limit:
			return events, nil
		}
	}
	events, err := l.events.RecentEvents(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

// QueryStatus returns up to limit newest-first events whose status is in statuses.
func (l *Ledger) QueryStatus(ctx context.Context, projectID string, limit int, statuses ...crawl.Status) ([]crawl.Event, error) {
	if len(statuses) == 0 {
		return l.Query(ctx, projectID, limit)
	}
	if limit <= 0 {
		return nil, nil
	}
	want := make(map[crawl.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	// History is oldest-first; keep a sliding window of the newest matches.
	var matched []crawl.Event
	for event, err := range l.ScoreInput(ctx, projectID) {
		if err != nil {
			return nil, err
		}
		if _, ok := want[event.Status]; !ok {
			continue
		}
		matched = append(matched, event)
		if len(matched) > limit {
			matched = matched[1:]
		}
	}
	out := make([]crawl.Event, len(matched))
	for i, event := range matched {
		out[len(matched)-1-i] = event
	}
	return out, nil
}

var errStopIteration = errors.New("stop iteration")

// ScoreInput yields the full durable history of a project oldest-first.
func (l *Ledger) ScoreInput(ctx context.Context, projectID string) iter.Seq2[crawl.Event, error] {
	return func(yield func(crawl.Event, error) bool) {
		err := l.events.EachEvent(ctx, projectID, func(event crawl.Event) error {
			if !yield(event, nil) {
				return errStopIteration
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(crawl.Event{}, fmt.Errorf("read history: %w", err))
		}
	}
}

// LatestRuns returns the newest event timestamp per source of a project.
func (l *Ledger) LatestRuns(ctx context.Context, projectID string) (map[string]time.Time, error) {
	runs, err := l.events.LatestRuns(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("latest runs: %w", err)
	}
	return runs, nil
}
