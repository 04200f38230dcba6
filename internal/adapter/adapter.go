// Package adapter implements the SourceAdapter for every fetch kind.
package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JakeFAU/terrasignum-crawler/internal/adapter/httpfetch"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Fetcher performs one HTTP exchange.
type Fetcher interface {
	Do(ctx context.Context, req httpfetch.Request) (httpfetch.Response, error)
}

// Registry dispatches Fetch to the adapter registered for the definition's kind.
type Registry struct {
	kinds map[crawl.FetchKind]crawl.SourceAdapter
}

// NewRegistry registers the built-in adapter for each fetch kind.
func NewRegistry(fetcher Fetcher, parsers *Parsers) (*Registry, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if parsers == nil {
		parsers = DefaultParsers()
	}
	r := &Registry{kinds: make(map[crawl.FetchKind]crawl.SourceAdapter, 4)}
	r.Register(crawl.KindJSON, &feedAdapter{fetcher: fetcher, parsers: parsers, accept: "application/json"})
	r.Register(crawl.KindCSV, &feedAdapter{fetcher: fetcher, parsers: parsers, accept: "text/csv"})
	r.Register(crawl.KindSPARQL, &sparqlAdapter{fetcher: fetcher, parsers: parsers})
	r.Register(crawl.KindWeather, &weatherAdapter{fetcher: fetcher})
	return r, nil
}

// Register replaces the adapter for kind.
func (r *Registry) Register(kind crawl.FetchKind, adapter crawl.SourceAdapter) {
	r.kinds[kind] = adapter
}

// Fetch implements crawl.SourceAdapter.
func (r *Registry) Fetch(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
	adapter, ok := r.kinds[def.Kind]
	if !ok {
		return crawl.FetchResult{}, fmt.Errorf("no adapter for fetch kind %q", def.Kind)
	}
	return adapter.Fetch(ctx, def, project)
}

// classify maps a raw response onto a FetchResult. Only HTTP 200 counts as success.
func classify(resp httpfetch.Response) crawl.FetchResult {
	result := crawl.FetchResult{
		StatusCode:  resp.StatusCode,
		Success:     resp.StatusCode == http.StatusOK,
		Body:        resp.Body,
		ContentType: resp.ContentType,
	}
	if !result.Success {
		result.Reason = fmt.Sprintf("http %d", resp.StatusCode)
	}
	return result
}

func acceptHeader(def crawl.SourceDefinition, fallback string) http.Header {
	accept := def.Accept
	if accept == "" {
		accept = fallback
	}
	return http.Header{"Accept": {accept}}
}

// parseInto runs the definition's parser over a successful body.
func parseInto(result *crawl.FetchResult, parsers *Parsers, def crawl.SourceDefinition, projectID string) error {
	if !result.Success || def.ParserID == "" {
		return nil
	}
	records, diagnostics, err := parsers.Parse(def.ParserID, result.Body, projectID, def.ID)
	if err != nil {
		return fmt.Errorf("parse %s: %w", def.ID, err)
	}
	result.Records = records
	result.Diagnostics = diagnostics
	return nil
}
