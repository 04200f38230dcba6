// Package executor runs one fetch cycle for a (project, source) pair and
// records exactly one ledger event for it.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/metrics"
	"github.com/JakeFAU/terrasignum-crawler/internal/store"
)

// DefaultFetchTimeout bounds a single adapter call.
const DefaultFetchTimeout = 20 * time.Second

// RecordTimeout bounds the ledger append once the caller's context is detached.
const RecordTimeout = 10 * time.Second

const maxDetailLen = 256

// Ledger is the append side of the crawl ledger.
type Ledger interface {
	Append(ctx context.Context, event crawl.Event) error
}

// Config controls Executor behavior.
type Config struct {
	FetchTimeout time.Duration
	// ArchivePrefix is prepended to raw payload paths.
	ArchivePrefix string
}

// Result describes one executed attempt.
type Result struct {
	Event crawl.Event
	// MissingLocation is set when a template source had no centroid to fill in.
	MissingLocation bool
	Ingested        int
	Diagnostics     int
	ArchiveURI      string
}

// Executor wires the catalog, adapters, entry store and ledger together.
type Executor struct {
	catalog *catalog.Catalog
	adapter crawl.SourceAdapter
	entries store.EntryStore
	ledger  Ledger
	archive store.BlobStore
	clock   crawl.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Executor. archive may be nil.
func New(
	cat *catalog.Catalog,
	adapter crawl.SourceAdapter,
	entries store.EntryStore,
	ledger Ledger,
	archive store.BlobStore,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Executor, error) {
	switch {
	case cat == nil:
		return nil, fmt.Errorf("catalog is required")
	case adapter == nil:
		return nil, fmt.Errorf("source adapter is required")
	case entries == nil:
		return nil, fmt.Errorf("entry store is required")
	case ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		catalog: cat,
		adapter: adapter,
		entries: entries,
		ledger:  ledger,
		archive: archive,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}, nil
}

// Execute fetches sourceID for projectID and appends one event. Adapter
// problems are classified into the event; only an unknown source or a
// failed ledger append is returned as an error.
func (e *Executor) Execute(
	ctx context.Context,
	projectID, sourceID string,
	trigger crawl.Trigger,
	runID string,
) (Result, error) {
	def, err := e.catalog.Lookup(sourceID)
	if err != nil {
		return Result{}, err
	}
	started := e.clock.Now()
	res := Result{Event: crawl.Event{
		ProjectID: projectID,
		SourceID:  sourceID,
		Trigger:   trigger,
		RunID:     runID,
	}}

	fetched, fetchErr := e.fetch(ctx, def, projectID)
	metrics.ObserveFetch(sourceID, e.clock.Now().Sub(started))

	switch {
	case fetchErr != nil:
		res.Event.Status = crawl.StatusError
		res.Event.Detail = fetchErr.Error()
	case fetched.MissingLocation:
		res.MissingLocation = true
		res.Event.Status = crawl.StatusFail
		res.Event.Detail = fetched.Reason
	case !fetched.Success:
		res.Event.Status = crawl.StatusFail
		res.Event.Detail = fetched.Reason
	default:
		res.Event.Status = crawl.StatusOK
		e.ingest(ctx, &res, fetched, projectID, sourceID)
		if res.Event.Status == crawl.StatusOK {
			res.ArchiveURI = e.archivePayload(ctx, fetched, projectID, sourceID, started)
		}
	}
	res.Event.Detail = truncate(res.Event.Detail)
	res.Event.Timestamp = e.clock.Now()

	// The attempt already happened; a canceled caller must not drop its event.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()
	if err := e.ledger.Append(recordCtx, res.Event); err != nil {
		return res, fmt.Errorf("record %s/%s: %w", projectID, sourceID, err)
	}
	metrics.ObserveEvent(sourceID, string(res.Event.Status), string(trigger))

	fields := []zap.Field{
		zap.String("project_id", projectID),
		zap.String("source_id", sourceID),
		zap.String("status", string(res.Event.Status)),
		zap.String("trigger", string(trigger)),
		zap.String("run_id", runID),
		zap.Duration("duration", res.Event.Timestamp.Sub(started)),
	}
	if res.Event.Status == crawl.StatusOK {
		e.logger.Info("crawl attempt", append(fields, zap.Int("ingested", res.Ingested))...)
	} else {
		e.logger.Warn("crawl attempt", append(fields, zap.String("detail", res.Event.Detail))...)
	}
	return res, nil
}

func (e *Executor) fetch(ctx context.Context, def crawl.SourceDefinition, projectID string) (result crawl.FetchResult, err error) {
	project := crawl.ProjectContext{ProjectID: projectID}
	if def.Kind == crawl.KindWeather {
		point, ok, cErr := e.entries.Centroid(ctx, projectID)
		if cErr != nil {
			return crawl.FetchResult{}, fmt.Errorf("centroid: %w", cErr)
		}
		if ok {
			project.Centroid = &point
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			result = crawl.FetchResult{}
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return e.adapter.Fetch(ctx, def, project)
}

// ingest stores parsed records. A failed insert turns the attempt into an error.
func (e *Executor) ingest(ctx context.Context, res *Result, fetched crawl.FetchResult, projectID, sourceID string) {
	res.Diagnostics = len(fetched.Diagnostics)
	if res.Diagnostics > 0 {
		metrics.AddParseDiagnostics(sourceID, res.Diagnostics)
		e.logger.Warn("records skipped",
			zap.String("project_id", projectID),
			zap.String("source_id", sourceID),
			zap.Int("count", res.Diagnostics),
			zap.Strings("diagnostics", firstN(fetched.Diagnostics, 5)),
		)
	}
	records := make([]crawl.Entry, len(fetched.Records))
	for i, rec := range fetched.Records {
		rec.ProjectID = projectID
		rec.SourceID = sourceID
		records[i] = rec
	}
	if err := e.entries.InsertEntries(ctx, records); err != nil {
		res.Event.Status = crawl.StatusError
		res.Event.Detail = "ingest: " + err.Error()
		return
	}
	res.Ingested = len(records)
	res.Event.Detail = fmt.Sprintf("http %d, %d records", fetched.StatusCode, res.Ingested)
	if res.Diagnostics > 0 {
		res.Event.Detail += fmt.Sprintf(", %d skipped", res.Diagnostics)
	}
}

func (e *Executor) archivePayload(
	ctx context.Context,
	fetched crawl.FetchResult,
	projectID, sourceID string,
	at time.Time,
) string {
	if e.archive == nil || len(fetched.Body) == 0 {
		return ""
	}
	path := ArchivePath(e.cfg.ArchivePrefix, projectID, sourceID, at, fetched.ContentType)
	uri, err := e.archive.PutObject(ctx, path, fetched.ContentType, bytes.NewReader(fetched.Body))
	if err != nil {
		metrics.ObserveArchiveFailure()
		e.logger.Warn("archive payload failed",
			zap.String("project_id", projectID),
			zap.String("source_id", sourceID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

// ArchivePath builds <prefix>/<project>/<source>/<timestamp>.<ext>.
func ArchivePath(prefix, projectID, sourceID string, at time.Time, contentType string) string {
	name := fmt.Sprintf("%s/%s/%s.%s", projectID, sourceID, at.UTC().Format("20060102T150405.000Z"), extension(contentType))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func extension(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return "json"
	case strings.Contains(ct, "csv"):
		return "csv"
	case strings.Contains(ct, "xml"):
		return "xml"
	case strings.HasPrefix(ct, "text/"):
		return "txt"
	default:
		return "bin"
	}
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
