// Package main hosts the pagewatch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, scan start and
//     processing, the latest report, the managed URL list and a cron hook.
//   - Relay: scan requests are handed to the configured relay (memory, QStash,
//     Pub/Sub or SQS). QStash delivers back to POST /v1/scans/process; the other
//     backends are consumed in-process by internal/worker.
//   - Scan pipeline: internal/scan.Scanner fetches each URL in order through the
//     rendering service (or headless Chrome), compares it byte-for-byte with the
//     stored snapshot, asks Gemini to summarize detected changes and writes the
//     report once at the end of the run.
//   - Persistence: snapshots, the URL list and the latest report live in one
//     key-value store (memory, local files, Redis, Postgres, GCS or DynamoDB).
//   - Plumbing: Viper config with PAGEWATCH_ env overrides, zap logging,
//     Prometheus metrics on /metrics and OpenTelemetry tracing.
//
// Operational notes:
//   - One run at a time per worker; URLs within a run are processed
//     sequentially. Each run is bounded by scan.run_budget and the fetch timeout
//     must stay below it.
//   - The scheduler fires the cron trigger on scheduler.interval when enabled.
//   - The process drains on SIGINT/SIGTERM.
//
// Quick checklist:
//   - Set SCRAPERAPI_KEY (or PAGEWATCH_FETCHER_SCRAPERAPI_API_KEY) and
//     GEMINI_API_KEY.
//   - Choose store.backend and relay.backend; QStash needs QSTASH_URL,
//     QSTASH_TOKEN and server.public_url.
//   - Run locally: go run ./cmd/pagewatch serve --config config.yaml.
package main
