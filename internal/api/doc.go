// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans to queue a scan and POST /v1/scans/process as the relay
//     destination that runs it.
//   - GET /v1/report for the latest report.
//   - GET, PUT and POST /v1/urls to manage the monitored URL list.
//   - POST /v1/cron to queue a scan of the managed list.
package api
