// Package report describes the outcome of a mirror run and fans it out to sinks.
package report

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusSucceeded means every planned action completed.
	StatusSucceeded Status = "succeeded"
	// StatusPartial means the run finished but some items failed.
	StatusPartial Status = "partial"
	// StatusFailed means the run aborted before reconciling, e.g. the inventory was unreadable.
	StatusFailed Status = "failed"
	// StatusCanceled means the context ended mid-run.
	StatusCanceled Status = "canceled"
)

// Operations recorded in Failure.Op.
const (
	OpDownload = "download"
	OpUpload   = "upload"
	OpDelete   = "delete"
	OpVerify   = "verify"
)

// SubdirResult is the listing outcome for one configured subdirectory.
type SubdirResult struct {
	Subdir string `json:"subdir"`
	URL    string `json:"url"`
	Files  int    `json:"files"`
	Error  string `json:"error,omitempty"`
}

// Failure is one item the run could not complete.
type Failure struct {
	Op    string `json:"op"`
	Key   string `json:"key,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error"`
}

// Summary aggregates a single run.
type Summary struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Status        Status         `json:"status"`
	DryRun        bool           `json:"dry_run"`
	Prefix        string         `json:"prefix"`
	Subdirs       []SubdirResult `json:"subdirs"`
	Inventory     int            `json:"inventory"`
	Desired       int            `json:"desired"`
	Uploaded      int            `json:"uploaded"`
	Skipped       int            `json:"skipped"`
	Deleted       int            `json:"deleted"`
	Retained      int            `json:"retained"`
	BytesUploaded int64          `json:"bytes_uploaded"`
	Failures      []Failure      `json:"failures,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Duration is the wall time between start and finish.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailedCount returns the number of failed items.
func (s Summary) FailedCount() int {
	return len(s.Failures)
}

// FailedByOp counts failures for a single operation.
func (s Summary) FailedByOp(op string) int {
	n := 0
	for _, f := range s.Failures {
		if f.Op == op {
			n++
		}
	}
	return n
}

// Sink consumes finished run summaries. Implementations must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, summary Summary) error
	Close(ctx context.Context) error
}

// Fanout delivers each summary to every sink, collecting all errors.
type Fanout struct {
	sinks []Sink
}

var _ Sink = (*Fanout)(nil)

// NewFanout skips nil sinks.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len reports how many sinks are attached.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Consume forwards summary to every sink even when earlier ones fail.
func (f *Fanout) Consume(ctx context.Context, summary Summary) error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.Consume(ctx, summary))
	}
	return err
}

// Close closes every sink.
func (f *Fanout) Close(ctx context.Context) error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.Close(ctx))
	}
	return err
}
