// Package main hosts the mirror entrypoint.
//
// Architecture overview:
//   - Inventory: the configured storage.Store (S3, GCS, local filesystem or memory) is listed once under
//     storage.prefix before anything is written. A listing failure aborts the run.
//   - Scrape: every entry of source.subdirs is resolved against source.base_url and fetched through the Colly-based
//     fetcher. Links ending in source.suffix are kept; a failed listing is logged and counts as an empty directory.
//     With sync.protect_failed_subdirs its stored keys are kept instead and the run ends partial.
//   - Reconcile & transfer: the desired key set is diffed against the inventory. Missing files are downloaded and
//     uploaded with their SHA-256 digest as metadata, keys no longer listed are deleted. Item failures are recorded
//     and the run continues; the run then reports a partial status and the process exits non-zero.
//   - Reporting: each run produces a report.Summary that is logged and, when configured, published to Pub/Sub and
//     appended to a Postgres history table. Prometheus collectors cover listings, transfers and runs; `sync` pushes
//     them to a Pushgateway when metrics.pushgateway_url is set, `serve` exposes /metrics.
//
// Commands:
//   - mirror sync [--dry-run] [--json]: one pass, then exit.
//   - mirror serve [--port N]: runs every server.interval_seconds and serves /healthz, /readyz, /metrics,
//     POST /v1/runs and GET /v1/runs/last. Runs never overlap; a trigger during a run gets 409.
//
// Quick checklist:
//   - Configure env vars: MIRROR_STORAGE_PROVIDER, MIRROR_STORAGE_BUCKET, MIRROR_STORAGE_PREFIX,
//     MIRROR_SOURCE_BASE_URL, MIRROR_SOURCE_USER_AGENT, and the report/metrics settings when needed.
//   - Run locally: go run ./cmd/mirror sync --config config.yaml --dry-run
//   - SIGINT/SIGTERM cancel the current run between items; serve drains HTTP before exiting.
package main
