// Package catalog holds the fixed registry of crawlable sources.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// ErrUnknownSource is returned when a source id is not in the catalog.
var ErrUnknownSource = errors.New("unknown source")

// DefaultIntervalSeconds applies when a definition does not set its own interval.
const DefaultIntervalSeconds = 300

// Source identifiers of the built-in catalog.
const (
	USGS      = "USGS"
	OpenMeteo = "OpenMeteo"
	NASAFIRMS = "NASA-FIRMS"
	DAISPARQL = "DAI-SPARQL"
)

// Parser identifiers of the built-in catalog.
const (
	ParserUSGS   = "usgs_parser"
	ParserFIRMS  = "firms_parser"
	ParserSPARQL = "sparql_bindings_parser"
)

// Catalog is an immutable, ordered set of source definitions.
type Catalog struct {
	defs  []crawl.SourceDefinition
	index map[string]int
}

// Override adjusts a built-in definition at startup.
type Override struct {
	Endpoint        string `mapstructure:"endpoint"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// DefaultDefinitions returns the built-in sources in declaration order.
func DefaultDefinitions() []crawl.SourceDefinition {
	return []crawl.SourceDefinition{
		{
			ID:              USGS,
			Kind:            crawl.KindJSON,
			Endpoint:        "https://earthquake.usgs.gov/fdsnws/event/1/query?format=geojson&limit=10",
			ParserID:        ParserUSGS,
			IntervalSeconds: DefaultIntervalSeconds,
		},
		{
			ID:   OpenMeteo,
			Kind: crawl.KindWeather,
			Endpoint: "https://api.open-meteo.com/v1/forecast?latitude={lat}&longitude={lon}" +
				"&hourly=temperature_2m&timezone=UTC",
			IntervalSeconds: DefaultIntervalSeconds,
		},
		{
			ID:              NASAFIRMS,
			Kind:            crawl.KindCSV,
			Endpoint:        "https://firms.modaps.eosdis.nasa.gov/data/active_fire/viirs/csv/MODIS_C6_USA_contiguous_and_Hawaii_24h.csv",
			ParserID:        ParserFIRMS,
			IntervalSeconds: DefaultIntervalSeconds,
		},
		{
			ID:       DAISPARQL,
			Kind:     crawl.KindSPARQL,
			Endpoint: "https://gazetteer.dainst.org/sparql",
			ParserID: ParserSPARQL,
			Query: "SELECT ?name ?lat ?lon WHERE {?place rdfs:label ?name ; " +
				"geo:lat ?lat ; geo:long ?lon } LIMIT 5",
			Accept:          "application/sparql-results+json",
			IntervalSeconds: DefaultIntervalSeconds,
		},
	}
}

// Default builds the catalog from the built-in definitions.
func Default() *Catalog {
	c, err := New(DefaultDefinitions()...)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog invalid: %v", err))
	}
	return c
}

// New validates defs and freezes them into a Catalog. Declaration order is preserved.
func New(defs ...crawl.SourceDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]crawl.SourceDefinition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		if strings.TrimSpace(def.ID) == "" {
			return nil, fmt.Errorf("source id is required")
		}
		if _, dup := c.index[def.ID]; dup {
			return nil, fmt.Errorf("duplicate source %q", def.ID)
		}
		if !def.Kind.Valid() {
			return nil, fmt.Errorf("source %q: unknown fetch kind %q", def.ID, def.Kind)
		}
		if def.Endpoint == "" {
			return nil, fmt.Errorf("source %q: endpoint is required", def.ID)
		}
		if def.Kind == crawl.KindWeather &&
			(!strings.Contains(def.Endpoint, "{lat}") || !strings.Contains(def.Endpoint, "{lon}")) {
			return nil, fmt.Errorf("source %q: weather endpoint needs {lat} and {lon} placeholders", def.ID)
		}
		if def.IntervalSeconds <= 0 {
			def.IntervalSeconds = DefaultIntervalSeconds
		}
		c.index[def.ID] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// WithOverrides returns a new Catalog with endpoint and interval overrides applied.
func WithOverrides(defs []crawl.SourceDefinition, overrides map[string]Override) (*Catalog, error) {
	known := make(map[string]struct{}, len(defs))
	patched := make([]crawl.SourceDefinition, len(defs))
	for i, def := range defs {
		known[strings.ToLower(def.ID)] = struct{}{}
		// viper lowercases map keys.
		if o, ok := overrides[strings.ToLower(def.ID)]; ok {
			if o.Endpoint != "" {
				def.Endpoint = o.Endpoint
			}
			if o.IntervalSeconds > 0 {
				def.IntervalSeconds = o.IntervalSeconds
			}
		}
		patched[i] = def
	}
	for id := range overrides {
		if _, ok := known[strings.ToLower(id)]; !ok {
			return nil, fmt.Errorf("override for %q: %w", id, ErrUnknownSource)
		}
	}
	return New(patched...)
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (crawl.SourceDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return crawl.SourceDefinition{}, false
	}
	return c.defs[i], true
}

// Lookup is Get with an ErrUnknownSource error.
func (c *Catalog) Lookup(id string) (crawl.SourceDefinition, error) {
	def, ok := c.Get(id)
	if !ok {
		return crawl.SourceDefinition{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return def, nil
}

// Contains reports whether id is cataloged.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// IDs returns source ids in declaration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.defs))
	for i, def := range c.defs {
		out[i] = def.ID
	}
	return out
}

// Definitions returns a copy of all definitions in declaration order.
func (c *Catalog) Definitions() []crawl.SourceDefinition {
	out := make([]crawl.SourceDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Position returns the declaration index of id.
func (c *Catalog) Position(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

// DefaultConfig is the effective config for a pair that has never been configured.
func (c *Catalog) DefaultConfig(projectID, sourceID string) crawl.SourceConfig {
	interval := DefaultIntervalSeconds
	if def, ok := c.Get(sourceID); ok {
		interval = def.IntervalSeconds
	}
	return crawl.SourceConfig{
		ProjectID:       projectID,
		SourceID:        sourceID,
		Active:          true,
		IntervalSeconds: interval,
	}
}
