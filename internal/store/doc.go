// Package store defines interfaces for persistence dependencies (source configs,
// the crawl event ledger, ingested entries). Implementations live in
// internal/storage; this package must not import database drivers or concrete clients.
package store
