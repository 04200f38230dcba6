// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

type pairKey struct {
	project string
	source  string
}

// ConfigStore keeps source configs in a map.
type ConfigStore struct {
	mu   sync.RWMutex
	rows map[pairKey]crawl.SourceConfig
}

// NewConfigStore constructs a ConfigStore.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{rows: make(map[pairKey]crawl.SourceConfig)}
}

// SourceConfigs returns copies of the explicit rows for a project.
func (s *ConfigStore) SourceConfigs(_ context.Context, projectID string) (map[string]crawl.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]crawl.SourceConfig)
	for k, cfg := range s.rows {
		if k.project == projectID {
			out[k.source] = cloneConfig(cfg)
		}
	}
	return out, nil
}

// SetSourceActive upserts the active flag.
func (s *ConfigStore) SetSourceActive(_ context.Context, seed crawl.SourceConfig, active bool) error {
	s.upsert(seed, func(cfg *crawl.SourceConfig) { cfg.Active = active })
	return nil
}

// MarkRun upserts last_run.
func (s *ConfigStore) MarkRun(_ context.Context, seed crawl.SourceConfig, at time.Time) error {
	s.upsert(seed, func(cfg *crawl.SourceConfig) { cfg.LastRun = pointerTime(at) })
	return nil
}

// SetBackoff upserts backoff_until.
func (s *ConfigStore) SetBackoff(_ context.Context, seed crawl.SourceConfig, until time.Time) error {
	s.upsert(seed, func(cfg *crawl.SourceConfig) { cfg.BackoffUntil = pointerTime(until) })
	return nil
}

// ConfiguredProjects lists distinct project ids in sorted order.
func (s *ConfigStore) ConfiguredProjects(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range s.rows {
		seen[k.project] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (s *ConfigStore) upsert(seed crawl.SourceConfig, apply func(*crawl.SourceConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{project: seed.ProjectID, source: seed.SourceID}
	cfg, ok := s.rows[key]
	if !ok {
		cfg = cloneConfig(seed)
	}
	apply(&cfg)
	s.rows[key] = cfg
}

func cloneConfig(cfg crawl.SourceConfig) crawl.SourceConfig {
	if cfg.LastRun != nil {
		cfg.LastRun = pointerTime(*cfg.LastRun)
	}
	if cfg.BackoffUntil != nil {
		cfg.BackoffUntil = pointerTime(*cfg.BackoffUntil)
	}
	return cfg
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
