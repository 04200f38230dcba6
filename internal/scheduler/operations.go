package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/ranker"
)

// SetSourceActive enables or disables a source for a project.
func (s *Scheduler) SetSourceActive(ctx context.Context, projectID, sourceID string, active bool) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ErrProjectRequired
	}
	if _, err := s.Catalog.Lookup(sourceID); err != nil {
		return err
	}
	if err := s.Configs.SetSourceActive(ctx, s.Catalog.DefaultConfig(projectID, sourceID), active); err != nil {
		return fmt.Errorf("set %s/%s active=%t: %w", projectID, sourceID, active, err)
	}
	return nil
}

// GetRelevance returns the scored sources of a project, best first.
func (s *Scheduler) GetRelevance(ctx context.Context, projectID string) ([]ranker.Score, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectRequired
	}
	scores, err := s.Ranker.Scores(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// GetRecentEvents returns up to limit events newest-first, optionally
// restricted to the given statuses.
func (s *Scheduler) GetRecentEvents(ctx context.Context, projectID string, limit int, statuses ...crawl.Status) ([]crawl.Event, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectRequired
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", st)
		}
	}
	events, err := s.Ledger.QueryStatus(ctx, projectID, limit, statuses...)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EffectiveConfigs returns the config in force for every cataloged source of
// a project, in catalog order.
func (s *Scheduler) EffectiveConfigs(ctx context.Context, projectID string) ([]crawl.SourceConfig, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectRequired
	}
	configs, err := s.effectiveConfigs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]crawl.SourceConfig, 0, len(configs))
	for _, id := range s.Catalog.IDs() {
		out = append(out, configs[id])
	}
	return out, nil
}

// effectiveConfigs merges explicit rows with catalog defaults. A missing
// lastRun falls back to the newest ledger event of the pair.
func (s *Scheduler) effectiveConfigs(ctx context.Context, projectID string) (map[string]crawl.SourceConfig, error) {
	explicit, err := s.Configs.SourceConfigs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("source configs: %w", err)
	}
	latest, err := s.Ledger.LatestRuns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crawl.SourceConfig, len(s.Catalog.IDs()))
	for _, id := range s.Catalog.IDs() {
		cfg, ok := explicit[id]
		if !ok {
			cfg = s.Catalog.DefaultConfig(projectID, id)
		}
		if cfg.IntervalSeconds <= 0 {
			cfg.IntervalSeconds = s.Catalog.DefaultConfig(projectID, id).IntervalSeconds
		}
		if cfg.LastRun == nil {
			if at, ok := latest[id]; ok {
				cfg.LastRun = &at
			}
		}
		out[id] = cfg
	}
	return out, nil
}
