// Package ranker orders sources by their historical success rate.
package ranker

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// History streams a project's full event history.
type History interface {
	ScoreInput(ctx context.Context, projectID string) iter.Seq2[crawl.Event, error]
}

// Score is the relevance of one source within a project.
type Score struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	OK     int     `json:"ok"`
	Fail   int     `json:"fail"`
	Error  int     `json:"error"`
}

// Total is the number of attempts behind the score.
func (s Score) Total() int {
	return s.OK + s.Fail + s.Error
}

// Ranker computes scores from the ledger. It holds no state between calls.
type Ranker struct {
	catalog *catalog.Catalog
	history History
}

// New builds a Ranker.
func New(cat *catalog.Catalog, history History) (*Ranker, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history is required")
	}
	return &Ranker{catalog: cat, history: history}, nil
}

// Scores returns every cataloged source with at least one event, highest
// score first. Ties keep catalog order. Uncataloged sources are ignored.
func (r *Ranker) Scores(ctx context.Context, projectID string) ([]Score, error) {
	counts := make(map[string]*Score)
	for event, err := range r.history.ScoreInput(ctx, projectID) {
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", projectID, err)
		}
		if !r.catalog.Contains(event.SourceID) {
			continue
		}
		s, ok := counts[event.SourceID]
		if !ok {
			s = &Score{Source: event.SourceID}
			counts[event.SourceID] = s
		}
		switch event.Status {
		case crawl.StatusOK:
			s.OK++
		case crawl.StatusFail:
			s.Fail++
		case crawl.StatusError:
			s.Error++
		}
	}

	out := make([]Score, 0, len(counts))
	for _, id := range r.catalog.IDs() {
		s, ok := counts[id]
		if !ok || s.Total() == 0 {
			continue
		}
		s.Score = 100 * float64(s.OK) / float64(s.Total())
		out = append(out, *s)
	}
	slices.SortStableFunc(out, func(a, b Score) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out, nil
}

// Rank returns scored sources by descending score followed by unscored
// sources in catalog order.
func (r *Ranker) Rank(ctx context.Context, projectID string) ([]string, error) {
	scores, err := r.Scores(ctx, projectID)
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(r.catalog.IDs()))
	seen := make(map[string]struct{}, len(scores))
	for _, s := range scores {
		order = append(order, s.Source)
		seen[s.Source] = struct{}{}
	}
	for _, id := range r.catalog.IDs() {
		if _, ok := seen[id]; !ok {
			order = append(order, id)
		}
	}
	return order, nil
}
