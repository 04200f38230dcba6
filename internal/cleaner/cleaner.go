// Package cleaner normalizes a project's ingested entries before each crawl cycle.
package cleaner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/metrics"
	"github.com/JakeFAU/terrasignum-crawler/internal/store"
)

// DefaultMinCommentLength is the shortest comment kept by the noise pass.
const DefaultMinCommentLength = 3

// Pass names, also used as metric labels.
const (
	PassDuplicates  = "duplicates"
	PassCoordinates = "invalid_coordinates"
	PassNoise       = "short_comments"
)

// Report counts the entries removed by each pass.
type Report struct {
	Duplicates  int64 `json:"duplicates"`
	Coordinates int64 `json:"invalid_coordinates"`
	Noise       int64 `json:"short_comments"`
}

// Total is the number of entries removed by the run.
func (r Report) Total() int64 {
	return r.Duplicates + r.Coordinates + r.Noise
}

// Cleaner runs the three passes in order, each in its own transaction.
type Cleaner struct {
	entries store.EntryStore
	minLen  int
	logger  *zap.Logger
}

// New builds a Cleaner. A non-positive minLen uses DefaultMinCommentLength.
func New(entries store.EntryStore, minLen int, logger *zap.Logger) (*Cleaner, error) {
	if entries == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if minLen <= 0 {
		minLen = DefaultMinCommentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{entries: entries, minLen: minLen, logger: logger.Named("cleaner")}, nil
}

// Clean is idempotent: a second run with no writes in between removes nothing.
// The first failing pass aborts the run.
func (c *Cleaner) Clean(ctx context.Context, projectID string) (Report, error) {
	var report Report
	passes := []struct {
		name string
		run  func() (int64, error)
		dst  *int64
	}{
		{PassDuplicates, func() (int64, error) { return c.entries.DeleteDuplicateEntries(ctx, projectID) }, &report.Duplicates},
		{PassCoordinates, func() (int64, error) { return c.entries.DeleteInvalidCoordinates(ctx, projectID) }, &report.Coordinates},
		{PassNoise, func() (int64, error) { return c.entries.DeleteShortComments(ctx, projectID, c.minLen) }, &report.Noise},
	}
	for _, pass := range passes {
		n, err := pass.run()
		if err != nil {
			return report, fmt.Errorf("clean %s (%s): %w", projectID, pass.name, err)
		}
		*pass.dst = n
		metrics.AddCleanupDeleted(pass.name, n)
	}
	if report.Total() > 0 {
		c.logger.Info("entries cleaned",
			zap.String("project_id", projectID),
			zap.Int64("duplicates", report.Duplicates),
			zap.Int64("invalid_coordinates", report.Coordinates),
			zap.Int64("short_comments", report.Noise),
		)
	}
	return report, nil
}
