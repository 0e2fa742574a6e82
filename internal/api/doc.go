// Package api hosts the HTTP server for running batches on demand.
// Routes:
//   - POST /v1/batches runs one batch synchronously and returns its outcomes.
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
package api
