// Package crawl defines the domain types shared by the orchestration engine.
package crawl

import (
	"time"
)

// FetchKind selects the adapter used to retrieve a source.
type FetchKind string

// Fetch kinds understood by the adapter registry.
const (
	KindJSON    FetchKind = "json"
	KindCSV     FetchKind = "csv"
	KindSPARQL  FetchKind = "sparql"
	KindWeather FetchKind = "weather"
)

// Valid reports whether k is a known fetch kind.
func (k FetchKind) Valid() bool {
	switch k {
	case KindJSON, KindCSV, KindSPARQL, KindWeather:
		return true
	default:
		return false
	}
}

// Status classifies the outcome of one crawl attempt.
type Status string

// Crawl event statuses persisted in the ledger.
const (
	StatusOK    Status = "ok"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Failed reports whether the status counts against the source.
func (s Status) Failed() bool {
	return s == StatusFail || s == StatusError
}

// Valid reports whether s is one of the ledger statuses.
func (s Status) Valid() bool {
	return s == StatusOK || s.Failed()
}

// Trigger records what started a crawl attempt.
type Trigger string

// Trigger kinds.
const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// SourceDefinition is one immutable catalog entry.
type SourceDefinition struct {
	ID       string    `json:"id"`
	Kind     FetchKind `json:"fetch_kind"`
	Endpoint string    `json:"endpoint"`
	ParserID string    `json:"parser_id,omitempty"`
	// Query is the form payload for SPARQL sources.
	Query string `json:"query,omitempty"`
	// Accept overrides the Accept header sent with the request.
	Accept string `json:"accept,omitempty"`
	// IntervalSeconds is the polling interval used when a project has no explicit config.
	IntervalSeconds int `json:"interval_seconds"`
}

// SourceConfig is the per-(project, source) scheduling state.
type SourceConfig struct {
	ProjectID       string     `json:"project_id"`
	SourceID        string     `json:"source_id"`
	Active          bool       `json:"active"`
	Priority        int        `json:"priority"`
	IntervalSeconds int        `json:"interval_seconds"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	BackoffUntil    *time.Time `json:"backoff_until,omitempty"`
}

// Interval returns the polling interval as a duration.
func (c SourceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Event is one immutable ledger row.
type Event struct {
	ProjectID string    `json:"project_id"`
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Trigger   Trigger   `json:"trigger"`
	RunID     string    `json:"run_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Entry is an ingested geospatial record.
type Entry struct {
	ID        int64    `json:"id"`
	ProjectID string   `json:"project_id"`
	SourceID  string   `json:"source_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Comment   string   `json:"comment"`
}

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProjectContext carries project data an adapter may need.
type ProjectContext struct {
	ProjectID string
	// Centroid is nil when the project has no located entries.
	Centroid *Point
}

// FetchResult is what a SourceAdapter reports back to the executor.
type FetchResult struct {
	StatusCode int
	Success    bool
	// Reason explains an unsuccessful fetch.
	Reason string
	// MissingLocation is set when a template source could not be resolved for the project.
	MissingLocation bool
	Records         []Entry
	// Diagnostics lists per-record problems that did not fail the fetch.
	Diagnostics []string
	Body        []byte
	ContentType string
}

// Alert is sent to an AlertNotifier after a failed attempt.
type Alert struct {
	ProjectID string    `json:"project_id"`
	SourceID  string    `json:"source_id"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Outcome reports what happened to one source during a project run.
type Outcome struct {
	SourceID string `json:"source_id"`
	// Skipped names why the source did not run; empty when it ran.
	Skipped string `json:"skipped,omitempty"`
	Event   *Event `json:"event,omitempty"`
}
