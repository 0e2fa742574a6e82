// Package main hosts the batch scrape HTTP service.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics and POST /v1/batches. A request names its
//     targets and optionally a worker count; the handler runs the batch synchronously and answers with every outcome.
//   - Dispatcher: each batch gets its own task queue and a fixed pool of workers sized by the request or
//     batch.workers, capped by batch.max_workers. Every target yields exactly one outcome, success or failure.
//   - Fetching: the Colly-based fetcher performs one GET per target with a per-target timeout. Non-2xx responses are
//     successes carrying their status code; transport errors and timeouts are failures with a classified reason.
//   - Persistence & fanout: a finished batch is written as a JSON document to the output URI (local path, gs:// or
//     memory://), optionally inserted into Postgres one row per outcome, and optionally announced on Pub/Sub.
//   - Configuration & plumbing: Viper populates config from env (BATCHSCRAPE_*) and files; zap provides structured
//     logging; Prometheus metrics are served on /metrics; OpenTelemetry tracing is enabled with tracing.enabled.
//
// Operational notes:
//   - SIGINT/SIGTERM stop the listener, cancel running batches (which answer 503 with their partial outcomes) and
//     close storage and publisher clients.
//   - Run locally: go run ./cmd/batchscraped -config config.yaml (or rely solely on env overrides).
package main
