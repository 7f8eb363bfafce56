// Package sinks provides report.Sink implementations: structured logs,
// Pub/Sub notifications and a Postgres run-history table.
package sinks
