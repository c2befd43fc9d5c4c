// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /v1/jobs submits a crawl; GET /v1/jobs[/{job_id}] reports on it.
//   - GET /v1/documents/search runs full-text search with highlighted snippets.
//   - /v1/documents/{id}/versions and /revert/{version} expose history.
//   - /v1/sources administers crawl sources.
package api
