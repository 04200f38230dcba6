package adapter

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/JakeFAU/terrasignum-crawler/internal/adapter/httpfetch"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// feedAdapter GETs a JSON or CSV feed and parses it.
type feedAdapter struct {
	fetcher Fetcher
	parsers *Parsers
	accept  string
}

func (a *feedAdapter) Fetch(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
	resp, err := a.fetcher.Do(ctx, httpfetch.Request{
		URL:     def.Endpoint,
		Method:  http.MethodGet,
		Headers: acceptHeader(def, a.accept),
	})
	if err != nil {
		return crawl.FetchResult{}, err
	}
	result := classify(resp)
	return result, parseInto(&result, a.parsers, def, project.ProjectID)
}

// sparqlAdapter POSTs the definition's query as a form.
type sparqlAdapter struct {
	fetcher Fetcher
	parsers *Parsers
}

func (a *sparqlAdapter) Fetch(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
	resp, err := a.fetcher.Do(ctx, httpfetch.Request{
		URL:     def.Endpoint,
		Method:  http.MethodPost,
		Form:    map[string]string{"query": def.Query},
		Headers: acceptHeader(def, "application/sparql-results+json"),
	})
	if err != nil {
		return crawl.FetchResult{}, err
	}
	result := classify(resp)
	return result, parseInto(&result, a.parsers, def, project.ProjectID)
}

// weatherAdapter fills {lat} and {lon} from the project centroid. It ingests nothing.
type weatherAdapter struct {
	fetcher Fetcher
}

// NoCentroidReason is reported when a project has no located entries.
const NoCentroidReason = "no project centroid"

func (a *weatherAdapter) Fetch(ctx context.Context, def crawl.SourceDefinition, project crawl.ProjectContext) (crawl.FetchResult, error) {
	if project.Centroid == nil {
		return crawl.FetchResult{MissingLocation: true, Reason: NoCentroidReason}, nil
	}
	resp, err := a.fetcher.Do(ctx, httpfetch.Request{
		URL:     ExpandTemplate(def.Endpoint, *project.Centroid),
		Method:  http.MethodGet,
		Headers: acceptHeader(def, "application/json"),
	})
	if err != nil {
		return crawl.FetchResult{}, err
	}
	return classify(resp), nil
}

// ExpandTemplate substitutes the {lat} and {lon} placeholders.
func ExpandTemplate(endpoint string, p crawl.Point) string {
	return strings.NewReplacer(
		"{lat}", strconv.FormatFloat(p.Lat, 'f', 4, 64),
		"{lon}", strconv.FormatFloat(p.Lon, 'f', 4, 64),
	).Replace(endpoint)
}
