package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Tail keeps the newest capacity events per project.
type Tail struct {
	mu       sync.RWMutex
	capacity int
	events   map[string][]crawl.Event
}

// NewTail builds a Tail. A non-positive capacity defaults to 999.
func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 999
	}
	return &Tail{capacity: capacity, events: make(map[string][]crawl.Event)}
}

// Push prepends the event and trims to capacity.
func (t *Tail) Push(_ context.Context, event crawl.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := append([]crawl.Event{event}, t.events[event.ProjectID]...)
	if len(list) > t.capacity {
		list = list[:t.capacity]
	}
	t.events[event.ProjectID] = list
	return nil
}

// Recent returns up to limit events newest-first.
func (t *Tail) Recent(_ context.Context, projectID string, limit int) ([]crawl.Event, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.events[projectID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	return append([]crawl.Event(nil), list[:limit]...), nil
}

// Reset drops the project's cached events.
func (t *Tail) Reset(_ context.Context, projectID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, projectID)
	return nil
}

// Capacity returns the per-project bound.
func (t *Tail) Capacity() int {
	return t.capacity
}
