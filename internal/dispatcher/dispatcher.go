// Package dispatcher schedules mirror runs for serve mode and guarantees that
// at most one run is in flight.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

// ErrBusy is returned by Trigger while a run is queued or executing.
var ErrBusy = errors.New("a mirror run is already in progress")

// Syncer performs one mirror run.
type Syncer interface {
	Run(ctx context.Context) (report.Summary, error)
}

// Dispatcher executes runs on a ticker and on demand, one at a time.
type Dispatcher struct {
	syncer   Syncer
	interval time.Duration
	logger   *zap.Logger

	busy     atomic.Bool
	requests chan struct{}

	mu      sync.RWMutex
	last    Outcome
	hasLast bool
}

// Outcome is a finished run and the error it returned.
type Outcome struct {
	Summary report.Summary
	Err     error
}

// New creates a Dispatcher. A zero interval disables scheduled runs.
func New(syncer Syncer, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		syncer:   syncer,
		interval: interval,
		logger:   logging.OrNop(logger),
		requests: make(chan struct{}, 1),
	}
}

// Run processes triggers and ticks until ctx finishes. With a positive
// interval the first run starts immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
		if d.busy.CompareAndSwap(false, true) {
			d.execute(ctx)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.requests:
			d.execute(ctx)
		case <-tick:
			if !d.busy.CompareAndSwap(false, true) {
				d.logger.Info("scheduled run skipped; previous run still active")
				continue
			}
			d.execute(ctx)
		}
	}
}

// Trigger queues a run, or returns ErrBusy if one is already queued or running.
func (d *Dispatcher) Trigger() error {
	if !d.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	d.requests <- struct{}{}
	return nil
}

// Busy reports whether a run is queued or executing.
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// Last returns the most recent outcome, if any run has finished.
func (d *Dispatcher) Last() (Outcome, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.hasLast
}

func (d *Dispatcher) execute(ctx context.Context) {
	defer d.busy.Store(false)

	summary, err := d.syncer.Run(ctx)
	switch {
	case err == nil:
		d.logger.Info("mirror run completed", zap.String("run_id", summary.RunID))
	case errors.Is(err, context.Canceled):
		d.logger.Info("mirror run canceled", zap.String("run_id", summary.RunID))
	default:
		d.logger.Warn("mirror run finished with error", zap.String("run_id", summary.RunID), zap.Error(err))
	}

	d.mu.Lock()
	d.last, d.hasLast = Outcome{Summary: summary, Err: err}, true
	d.mu.Unlock()
}
