package adapter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Parser turns a response body into entries. Problems with single records
// are returned as diagnostics; an error means the document itself is unusable.
type Parser func(body []byte, projectID, sourceID string) (entries []crawl.Entry, diagnostics []string, err error)

// Parsers maps parser ids to implementations.
type Parsers struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// DefaultParsers registers the parsers referenced by the built-in catalog.
func DefaultParsers() *Parsers {
	p := &Parsers{parsers: make(map[string]Parser)}
	p.Register(catalog.ParserUSGS, ParseUSGS)
	p.Register(catalog.ParserFIRMS, ParseFIRMS)
	p.Register(catalog.ParserSPARQL, ParseSPARQLBindings)
	return p
}

// Register adds or replaces a parser.
func (p *Parsers) Register(id string, fn Parser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parsers[id] = fn
}

// Parse runs parser id over body.
func (p *Parsers) Parse(id string, body []byte, projectID, sourceID string) ([]crawl.Entry, []string, error) {
	p.mu.RLock()
	fn, ok := p.parsers[id]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown parser %q", id)
	}
	return fn(body, projectID, sourceID)
}

type usgsFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   *struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
}

// ParseUSGS reads a GeoJSON FeatureCollection. Coordinates are [lon, lat, depth].
func ParseUSGS(body []byte, projectID, sourceID string) ([]crawl.Entry, []string, error) {
	var doc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode geojson: %w", err)
	}
	var (
		entries     []crawl.Entry
		diagnostics []string
	)
	for i, raw := range doc.Features {
		var f usgsFeature
		if err := json.Unmarshal(raw, &f); err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("feature %d: %v", i, err))
			continue
		}
		if f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
			diagnostics = append(diagnostics, fmt.Sprintf("feature %d: missing coordinates", i))
			continue
		}
		if len(f.Properties) == 0 {
			diagnostics = append(diagnostics, fmt.Sprintf("feature %d: missing properties", i))
			continue
		}
		comment := "USGS Event"
		if title, ok := f.Properties["title"].(string); ok {
			comment = title
		}
		entries = append(entries, crawl.Entry{
			ProjectID: projectID,
			SourceID:  sourceID,
			Latitude:  crawl.Float(f.Geometry.Coordinates[1]),
			Longitude: crawl.Float(f.Geometry.Coordinates[0]),
			Comment:   comment,
		})
	}
	return entries, diagnostics, nil
}

// ParseFIRMS reads a FIRMS hotspot CSV with latitude, longitude, acq_date and confidence columns.
func ParseFIRMS(body []byte, projectID, sourceID string) ([]crawl.Entry, []string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	latCol, okLat := cols["latitude"]
	lonCol, okLon := cols["longitude"]
	if !okLat || !okLon {
		return nil, nil, errors.New("csv header lacks latitude/longitude")
	}

	var (
		entries     []crawl.Entry
		diagnostics []string
	)
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(row) <= latCol || len(row) <= lonCol {
			diagnostics = append(diagnostics, fmt.Sprintf("line %d: short row", line))
			continue
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(row[lonCol]), 64)
		if errLat != nil || errLon != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("line %d: bad coordinates", line))
			continue
		}
		entries = append(entries, crawl.Entry{
			ProjectID: projectID,
			SourceID:  sourceID,
			Latitude:  crawl.Float(lat),
			Longitude: crawl.Float(lon),
			Comment:   firmsComment(row, cols),
		})
	}
	return entries, diagnostics, nil
}

func firmsComment(row []string, cols map[string]int) string {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	comment := "Fire hotspot"
	if date := field("acq_date"); date != "" {
		comment += " " + date
	}
	if conf := field("confidence"); conf != "" {
		comment += " (confidence " + conf + ")"
	}
	return comment
}

type sparqlValue struct {
	Value string `json:"value"`
}

// ParseSPARQLBindings reads SPARQL JSON results with name, lat and lon bindings.
func ParseSPARQLBindings(body []byte, projectID, sourceID string) ([]crawl.Entry, []string, error) {
	var doc struct {
		Results struct {
			Bindings []map[string]sparqlValue `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode sparql results: %w", err)
	}
	var (
		entries     []crawl.Entry
		diagnostics []string
	)
	for i, b := range doc.Results.Bindings {
		lat, errLat := strconv.ParseFloat(b["lat"].Value, 64)
		lon, errLon := strconv.ParseFloat(b["lon"].Value, 64)
		if errLat != nil || errLon != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("binding %d: bad coordinates", i))
			continue
		}
		entries = append(entries, crawl.Entry{
			ProjectID: projectID,
			SourceID:  sourceID,
			Latitude:  crawl.Float(lat),
			Longitude: crawl.Float(lon),
			Comment:   b["name"].Value,
		})
	}
	return entries, diagnostics, nil
}
