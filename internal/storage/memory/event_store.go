package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// EventStore is an in-memory append-only ledger.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]crawl.Event
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]crawl.Event)}
}

// AppendEvent records the event.
func (s *EventStore) AppendEvent(_ context.Context, event crawl.Event) error {
	if event.ProjectID == "" || event.SourceID == "" {
		return fmt.Errorf("event project and source are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ProjectID] = append(s.events[event.ProjectID], event)
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *EventStore) RecentEvents(_ context.Context, projectID string, limit int) ([]crawl.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.events[projectID]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]crawl.Event, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// EachEvent walks a snapshot of the project history oldest-first.
func (s *EventStore) EachEvent(ctx context.Context, projectID string, fn func(crawl.Event) error) error {
	s.mu.RLock()
	snapshot := append([]crawl.Event(nil), s.events[projectID]...)
	s.mu.RUnlock()
	for _, event := range snapshot {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("iterate events: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// LatestRuns returns the newest timestamp per source.
func (s *EventStore) LatestRuns(_ context.Context, projectID string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time)
	for _, event := range s.events[projectID] {
		if last, ok := out[event.SourceID]; !ok || event.Timestamp.After(last) {
			out[event.SourceID] = event.Timestamp
		}
	}
	return out, nil
}

// Count returns the number of events recorded for a project.
func (s *EventStore) Count(projectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[projectID])
}
