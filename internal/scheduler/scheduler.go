// Package scheduler drives crawl cycles: it decides which (project, source)
// pairs are due, serializes work per project and runs sources in ranked order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/terrasignum-crawler/internal/backoff"
	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/cleaner"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/executor"
	"github.com/JakeFAU/terrasignum-crawler/internal/ledger"
	"github.com/JakeFAU/terrasignum-crawler/internal/metrics"
	"github.com/JakeFAU/terrasignum-crawler/internal/ranker"
	"github.com/JakeFAU/terrasignum-crawler/internal/store"
)

// Defaults applied by New.
const (
	DefaultTick                  = 30 * time.Second
	DefaultMaxConcurrentProjects = 4

	// writeTimeout bounds config updates that outlive a canceled run.
	writeTimeout = 10 * time.Second
	// alertTimeout bounds one notifier call while the project lock is held.
	alertTimeout = 5 * time.Second
)

// Skip reasons reported in outcomes and metrics.
const (
	SkipInactive = "inactive"
	SkipBackoff  = "backoff"
	SkipNotDue   = "not_due"
)

// ErrProjectRequired is returned when a call names no project.
var ErrProjectRequired = errors.New("project id is required")

// RunError describes a project run that was aborted.
type RunError struct {
	ProjectID string
	SourceID  string
	Op        string
	Err       error
}

func (e *RunError) Error() string {
	if e.SourceID != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.ProjectID, e.SourceID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ProjectID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Config controls the tick loop.
type Config struct {
	Tick                  time.Duration
	MaxConcurrentProjects int
	// Projects are always crawled, even before they own entries or configs.
	Projects   []string
	RunOnStart bool
}

// Deps are the collaborators of a Scheduler. Notifier may be nil.
type Deps struct {
	Catalog  *catalog.Catalog
	Configs  store.ConfigStore
	Entries  store.EntryStore
	Ledger   *ledger.Ledger
	Cleaner  *cleaner.Cleaner
	Ranker   *ranker.Ranker
	Executor *executor.Executor
	Backoff  backoff.Policy
	Notifier crawl.AlertNotifier
	Clock    crawl.Clock
	IDs      crawl.IDGenerator
	Logger   *zap.Logger
}

// Scheduler is safe for concurrent use. Runs for the same project never overlap.
type Scheduler struct {
	Deps
	cfg    Config
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// New validates deps and applies config defaults.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case deps.Configs == nil:
		return nil, fmt.Errorf("config store is required")
	case deps.Entries == nil:
		return nil, fmt.Errorf("entry store is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case deps.Cleaner == nil:
		return nil, fmt.Errorf("cleaner is required")
	case deps.Ranker == nil:
		return nil, fmt.Errorf("ranker is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Backoff.Delay() <= 0 {
		deps.Backoff = backoff.New(backoff.DefaultDelay)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.MaxConcurrentProjects <= 0 {
		cfg.MaxConcurrentProjects = DefaultMaxConcurrentProjects
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		locks:  make(map[string]chan struct{}),
	}, nil
}

// Projects returns every project known to the system, sorted.
func (s *Scheduler) Projects(ctx context.Context) ([]string, error) {
	fromEntries, err := s.Entries.EntryProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("entry projects: %w", err)
	}
	fromConfigs, err := s.Configs.ConfiguredProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("configured projects: %w", err)
	}
	all := slices.Concat(s.cfg.Projects, fromEntries, fromConfigs)
	out := make([]string, 0, len(all))
	for _, p := range all {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Tick runs every known project once. Projects run concurrently up to the
// configured limit. Project failures are logged; only discovery errors are returned.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	projects, err := s.Projects(ctx)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentProjects)
	for _, projectID := range projects {
		g.Go(func() error {
			if _, err := s.runProject(ctx, projectID, "", crawl.TriggerAuto, now); err != nil {
				s.logger.Error("project run failed", zap.String("project_id", projectID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// TriggerCrawl runs one project now, bypassing the interval gate. With an
// empty sourceID every source runs in ranked order. Activation and backoff
// still apply.
func (s *Scheduler) TriggerCrawl(ctx context.Context, projectID, sourceID string) ([]crawl.Outcome, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}
	if sourceID != "" {
		if _, err := s.Catalog.Lookup(sourceID); err != nil {
			return nil, err
		}
	}
	return s.runProject(ctx, projectID, sourceID, crawl.TriggerManual, time.Time{})
}

// runProject holds the project lock for the whole cycle. A zero now is read
// from the clock once the lock is held.
func (s *Scheduler) runProject(
	ctx context.Context,
	projectID, only string,
	trigger crawl.Trigger,
	now time.Time,
) ([]crawl.Outcome, error) {
	unlock, err := s.lock(ctx, projectID)
	if err != nil {
		return nil, &RunError{ProjectID: projectID, SourceID: only, Op: "lock", Err: err}
	}
	defer unlock()
	metrics.IncProjectRuns()
	defer metrics.DecProjectRuns()
	if now.IsZero() {
		now = s.Clock.Now()
	}

	if _, err := s.Cleaner.Clean(ctx, projectID); err != nil {
		return nil, &RunError{ProjectID: projectID, Op: "clean", Err: err}
	}
	order := []string{only}
	if only == "" {
		if order, err = s.Ranker.Rank(ctx, projectID); err != nil {
			return nil, &RunError{ProjectID: projectID, Op: "rank", Err: err}
		}
	}
	configs, err := s.effectiveConfigs(ctx, projectID)
	if err != nil {
		return nil, &RunError{ProjectID: projectID, Op: "load config", Err: err}
	}
	runID, err := s.IDs.NewID()
	if err != nil {
		return nil, &RunError{ProjectID: projectID, Op: "run id", Err: err}
	}

	outcomes := make([]crawl.Outcome, 0, len(order))
	for _, sourceID := range order {
		if err := ctx.Err(); err != nil {
			return outcomes, &RunError{ProjectID: projectID, SourceID: sourceID, Op: "execute", Err: err}
		}
		cfg := configs[sourceID]
		if reason := s.skipReason(cfg, trigger, now); reason != "" {
			metrics.ObserveSkip(reason)
			s.logger.Debug("source skipped",
				zap.String("project_id", projectID),
				zap.String("source_id", sourceID),
				zap.String("reason", reason),
			)
			outcomes = append(outcomes, crawl.Outcome{SourceID: sourceID, Skipped: reason})
			continue
		}

		res, err := s.Executor.Execute(ctx, projectID, sourceID, trigger, runID)
		if err != nil {
			return outcomes, &RunError{ProjectID: projectID, SourceID: sourceID, Op: "execute", Err: err}
		}
		event := res.Event
		outcomes = append(outcomes, crawl.Outcome{SourceID: sourceID, Event: &event})

		if op, err := s.recordAttempt(ctx, cfg, res); err != nil {
			return outcomes, &RunError{ProjectID: projectID, SourceID: sourceID, Op: op, Err: err}
		}
	}
	return outcomes, nil
}

func (s *Scheduler) skipReason(cfg crawl.SourceConfig, trigger crawl.Trigger, now time.Time) string {
	switch {
	case !cfg.Active:
		return SkipInactive
	case s.Backoff.ShouldSkip(cfg, now):
		return SkipBackoff
	case trigger == crawl.TriggerAuto && cfg.LastRun != nil && now.Sub(*cfg.LastRun) < cfg.Interval():
		return SkipNotDue
	default:
		return ""
	}
}

// recordAttempt persists lastRun and, after a failure, the backoff window.
// The writes are detached from ctx so an attempt whose event is in the
// ledger never loses its config updates to a canceled caller. On error the
// failing operation is returned as op.
func (s *Scheduler) recordAttempt(ctx context.Context, cfg crawl.SourceConfig, res executor.Result) (op string, err error) {
	event := res.Event
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.Configs.MarkRun(writeCtx, cfg, event.Timestamp); err != nil {
		return "mark run", err
	}
	if !event.Status.Failed() || res.MissingLocation {
		return "", nil
	}
	until := s.Backoff.OnFailure(cfg, event.Timestamp)
	if err := s.Configs.SetBackoff(writeCtx, cfg, until); err != nil {
		return "backoff", err
	}
	s.alert(ctx, event)
	return "", nil
}

// alert sends a best-effort notification; delivery errors are only logged.
func (s *Scheduler) alert(ctx context.Context, event crawl.Event) {
	if s.Notifier == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	err := s.Notifier.Notify(alertCtx, crawl.Alert{
		ProjectID: event.ProjectID,
		SourceID:  event.SourceID,
		Status:    event.Status,
		Detail:    event.Detail,
		At:        event.Timestamp,
	})
	metrics.ObserveAlert(err == nil)
	if err != nil {
		s.logger.Warn("alert delivery failed",
			zap.String("project_id", event.ProjectID),
			zap.String("source_id", event.SourceID),
			zap.Error(err),
		)
	}
}

// lock acquires the per-project semaphore or gives up when ctx ends.
func (s *Scheduler) lock(ctx context.Context, projectID string) (func(), error) {
	s.locksMu.Lock()
	sem, ok := s.locks[projectID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[projectID] = sem
	}
	s.locksMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
