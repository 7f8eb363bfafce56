// Package api hosts the serve-mode HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/last for the most recent run summary.
//   - POST /v1/runs to start a run (409 while one is in progress).
package api
