package memory

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// EntryStore keeps project entries in insertion order with auto-increment ids.
type EntryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []crawl.Entry
}

// NewEntryStore constructs an EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{}
}

// InsertEntries assigns ids and stores copies of the entries.
func (s *EntryStore) InsertEntries(_ context.Context, entries []crawl.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.entries = append(s.entries, cloneEntry(e))
	}
	return nil
}

// ListEntries returns copies of a project's entries.
func (s *EntryStore) ListEntries(_ context.Context, projectID string) ([]crawl.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawl.Entry
	for _, e := range s.entries {
		if e.ProjectID == projectID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// Centroid averages the entries that have both coordinates.
func (s *EntryStore) Centroid(_ context.Context, projectID string) (crawl.Point, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		sumLat, sumLon float64
		n              int
	)
	for _, e := range s.entries {
		if e.ProjectID != projectID || e.Latitude == nil || e.Longitude == nil {
			continue
		}
		sumLat += *e.Latitude
		sumLon += *e.Longitude
		n++
	}
	if n == 0 {
		return crawl.Point{}, false, nil
	}
	return crawl.Point{Lat: sumLat / float64(n), Lon: sumLon / float64(n)}, true, nil
}

type dedupKey struct {
	source  string
	lat     *float64
	lon     *float64
	comment string
}

// DeleteDuplicateEntries keeps the first entry of every (source, lat, lon, comment) group.
func (s *EntryStore) DeleteDuplicateEntries(_ context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seen []dedupKey
	return s.deleteWhere(projectID, func(e crawl.Entry) bool {
		key := dedupKey{source: e.SourceID, lat: e.Latitude, lon: e.Longitude, comment: e.Comment}
		for _, k := range seen {
			if k.equal(key) {
				return true
			}
		}
		seen = append(seen, key)
		return false
	}), nil
}

// DeleteInvalidCoordinates removes entries with a null or zero coordinate.
func (s *EntryStore) DeleteInvalidCoordinates(_ context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(projectID, func(e crawl.Entry) bool {
		return e.Latitude == nil || e.Longitude == nil || *e.Latitude == 0 || *e.Longitude == 0
	}), nil
}

// DeleteShortComments removes entries whose comment has fewer than minLen characters.
func (s *EntryStore) DeleteShortComments(_ context.Context, projectID string, minLen int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(projectID, func(e crawl.Entry) bool {
		return utf8.RuneCountInString(e.Comment) < minLen
	}), nil
}

// EntryProjects lists distinct project ids in sorted order.
func (s *EntryStore) EntryProjects(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		seen[e.ProjectID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// deleteWhere must be called with mu held. Entries are visited in id order.
func (s *EntryStore) deleteWhere(projectID string, drop func(crawl.Entry) bool) int64 {
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.ProjectID == projectID && drop(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted
}

func (k dedupKey) equal(o dedupKey) bool {
	return k.source == o.source && k.comment == o.comment && sameCoord(k.lat, o.lat) && sameCoord(k.lon, o.lon)
}

// sameCoord groups nulls together, like SQL GROUP BY.
func sameCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneEntry(e crawl.Entry) crawl.Entry {
	if e.Latitude != nil {
		e.Latitude = crawl.Float(*e.Latitude)
	}
	if e.Longitude != nil {
		e.Longitude = crawl.Float(*e.Longitude)
	}
	return e
}
