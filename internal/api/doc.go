// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/projects/{project_id}/crawl to trigger a manual crawl.
//   - GET /v1/projects/{project_id}/relevance and /events for dashboards.
//   - PUT /v1/projects/{project_id}/sources/{source_id} to toggle a source.
package api
