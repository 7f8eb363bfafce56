package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/clock/system"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/id/uuid"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/reconcile"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/transfer"
)

// ErrPartialFailure is returned when the run completed but some items failed.
var ErrPartialFailure = errors.New("mirror run finished with failed items")

const (
	sinkTimeout = 30 * time.Second
	tracerName  = "github.com/JakeFAU/realtime-cpi-mirror/internal/mirror"
)

// Config selects what is mirrored and where.
type Config struct {
	BaseURL string
	Subdirs []string
	Prefix  string
	// ProtectFailedSubdirs keeps stored keys of a subdirectory whose listing
	// failed. The run then ends partial since the store still holds them.
	ProtectFailedSubdirs bool
	// Verify re-checks every uploaded key after the transfer phase.
	Verify bool
	DryRun bool
}

// Deps are the collaborators of a Runner. Store, Lister and Transferer are required.
type Deps struct {
	Store      storage.Store
	Lister     Lister
	Transferer Transferer
	Recorder   Recorder
	Sink       report.Sink
	Clock      Clock
	IDs        IDGenerator
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
	Logger *zap.Logger
}

// Runner executes mirror runs. A Runner is not safe for overlapping Run calls;
// the scheduler serialises them.
type Runner struct {
	cfg      Config
	store    storage.Store
	lister   Lister
	transfer Transferer
	recorder Recorder
	sink     report.Sink
	clock    Clock
	ids      IDGenerator
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewRunner validates deps and fills defaults for the optional ones.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Store == nil || deps.Lister == nil || deps.Transferer == nil {
		return nil, errors.New("store, lister and transferer are required")
	}
	if len(cfg.Subdirs) == 0 {
		return nil, errors.New("at least one subdirectory is required")
	}
	r := &Runner{
		cfg:      cfg,
		store:    deps.Store,
		lister:   deps.Lister,
		transfer: deps.Transferer,
		recorder: deps.Recorder,
		sink:     deps.Sink,
		clock:    deps.Clock,
		ids:      deps.IDs,
		tracer:   deps.Tracer,
		logger:   logging.OrNop(deps.Logger),
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.clock == nil {
		r.clock = system.New()
	}
	if r.ids == nil {
		r.ids = uuid.New()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r, nil
}

// Run performs one pass and returns its summary. The error is nil on full
// success, wraps ErrPartialFailure when items failed, and otherwise explains
// why the run stopped (inventory access, cancellation).
func (r *Runner) Run(ctx context.Context) (report.Summary, error) {
	summary := report.Summary{
		StartedAt: r.clock.Now(),
		DryRun:    r.cfg.DryRun,
		Prefix:    storage.CleanPrefix(r.cfg.Prefix),
	}
	id, err := r.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = id
	ctx, span := r.tracer.Start(ctx, "mirror.run", trace.WithAttributes(
		attribute.String("mirror.run_id", id),
		attribute.String("mirror.prefix", summary.Prefix),
		attribute.Bool("mirror.dry_run", r.cfg.DryRun),
	))
	defer span.End()
	log := r.logger.With(zap.String("run_id", id))
	log.Info("mirror run started",
		zap.String("base_url", r.cfg.BaseURL),
		zap.Strings("subdirs", r.cfg.Subdirs),
		zap.String("prefix", summary.Prefix),
		zap.Bool("dry_run", r.cfg.DryRun),
	)

	err = r.run(ctx, log, &summary)

	summary.FinishedAt = r.clock.Now()
	summary.Status = statusOf(err)
	if err != nil {
		summary.Error = err.Error()
	}
	span.SetAttributes(
		attribute.String("mirror.status", string(summary.Status)),
		attribute.Int("mirror.uploaded", summary.Uploaded),
		attribute.Int("mirror.deleted", summary.Deleted),
		attribute.Int("mirror.failed", summary.FailedCount()),
	)
	endSpan(span, err)
	r.recorder.ObserveRun(summary)
	r.publish(ctx, log, summary)
	return summary, err
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, summary *report.Summary) error {
	invCtx, span := r.tracer.Start(ctx, "mirror.inventory")
	inventory, err := storage.Inventory(invCtx, r.store, storage.ListPrefix(r.cfg.Prefix))
	span.SetAttributes(attribute.Int("mirror.objects", inventory.Len()))
	endSpan(span, err)
	span.End()
	if err != nil {
		log.Error("inventory unavailable; aborting before any write", zap.Error(err))
		return err
	}
	summary.Inventory = inventory.Len()
	log.Info("inventory loaded", zap.Int("objects", inventory.Len()))

	desired, failed, err := r.scrape(ctx, log, summary)
	if err != nil {
		return err
	}
	summary.Desired = len(desired)

	plan := reconcile.Diff(inventory, desired)
	if len(failed) > 0 && r.cfg.ProtectFailedSubdirs {
		prefixes := make([]string, 0, len(failed))
		for _, sub := range failed {
			prefixes = append(prefixes, storage.SubdirPrefix(r.cfg.Prefix, sub))
		}
		plan = plan.Protect(prefixes...)
	}
	summary.Skipped = len(plan.Skipped)
	summary.Retained = len(plan.Retained)
	for _, key := range plan.Skipped {
		log.Debug("already present; skipping", zap.String("key", key))
	}
	for _, key := range plan.Retained {
		log.Info("listing failed; keeping stored object", zap.String("key", key))
	}
	log.Info("reconciled",
		zap.Int("upload", len(plan.Uploads)),
		zap.Int("delete", len(plan.Deletes)),
		zap.Int("skip", len(plan.Skipped)),
		zap.Int("retain", len(plan.Retained)),
	)

	uploaded, err := r.upload(ctx, log, plan.Uploads, summary)
	if err != nil {
		return err
	}
	if err := r.delete(ctx, log, plan.Deletes, summary); err != nil {
		return err
	}
	if r.cfg.Verify && !r.cfg.DryRun && len(uploaded) > 0 {
		if err := r.verify(ctx, log, uploaded, summary); err != nil {
			return err
		}
	}

	if n := summary.FailedCount(); n > 0 {
		total := len(plan.Uploads) + len(plan.Deletes)
		return fmt.Errorf("%w: %d failures across %d planned actions", ErrPartialFailure, n, total)
	}
	if n := len(plan.Retained); n > 0 {
		return fmt.Errorf("%w: %d stored objects retained under failed listings", ErrPartialFailure, n)
	}
	return nil
}

// scrape fetches every listing. Failed subdirectories are returned so their
// stored keys can be protected; only cancellation aborts.
func (r *Runner) scrape(
	ctx context.Context,
	log *zap.Logger,
	summary *report.Summary,
) (map[string]listing.RemoteFile, []string, error) {
	ctx, span := r.tracer.Start(ctx, "mirror.scrape")
	defer span.End()

	desired := make(map[string]listing.RemoteFile)
	var failed []string
	for _, sub := range r.cfg.Subdirs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		result := report.SubdirResult{Subdir: sub}
		files, err := r.fetchSubdir(ctx, sub, &result)
		r.recorder.ObserveListing(sub, len(files), err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			log.Warn("listing failed; subdirectory contributes no files",
				zap.String("subdir", sub), zap.String("url", result.URL), zap.Error(err))
			result.Error = err.Error()
			summary.Warnings = append(summary.Warnings, err.Error())
			summary.Subdirs = append(summary.Subdirs, result)
			failed = append(failed, sub)
			continue
		}
		for _, f := range files {
			f.Subdir = sub
			desired[storage.ObjectKey(r.cfg.Prefix, sub, f.Name)] = f
		}
		result.Files = len(files)
		summary.Subdirs = append(summary.Subdirs, result)
		log.Info("listing fetched", zap.String("subdir", sub), zap.Int("files", len(files)))
	}
	span.SetAttributes(attribute.Int("mirror.desired", len(desired)), attribute.StringSlice("mirror.failed_subdirs", failed))
	return desired, failed, nil
}

func (r *Runner) fetchSubdir(ctx context.Context, sub string, result *report.SubdirResult) ([]listing.RemoteFile, error) {
	dirURL, err := listing.DirURL(r.cfg.BaseURL, sub)
	if err != nil {
		return nil, &listing.FetchError{URL: r.cfg.BaseURL + sub, Err: err}
	}
	result.URL = dirURL
	return r.lister.Fetch(ctx, dirURL)
}

func (r *Runner) upload(
	ctx context.Context,
	log *zap.Logger,
	uploads []reconcile.Upload[listing.RemoteFile],
	summary *report.Summary,
) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "mirror.upload", trace.WithAttributes(attribute.Int("mirror.planned", len(uploads))))
	defer span.End()

	var done []string
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		res, err := r.transfer.Upload(ctx, up.Item, up.Key)
		r.recorder.ObserveTransfer(report.OpUpload, res.Bytes, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return done, ctxErr
			}
			op := report.OpUpload
			var dlErr *transfer.DownloadError
			if errors.As(err, &dlErr) {
				op = report.OpDownload
			}
			log.Warn("transfer failed; continuing", zap.String("op", op), zap.String("key", up.Key),
				zap.String("url", up.Item.URL), zap.Error(err))
			summary.Failures = append(summary.Failures, report.Failure{
				Op: op, Key: up.Key, URL: up.Item.URL, Error: err.Error(),
			})
			continue
		}
		summary.Uploaded++
		summary.BytesUploaded += int64(res.Bytes)
		done = append(done, up.Key)
	}
	return done, nil
}

func (r *Runner) delete(ctx context.Context, log *zap.Logger, keys []string, summary *report.Summary) error {
	ctx, span := r.tracer.Start(ctx, "mirror.delete", trace.WithAttributes(attribute.Int("mirror.planned", len(keys))))
	defer span.End()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.transfer.Delete(ctx, key)
		r.recorder.ObserveTransfer(report.OpDelete, 0, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warn("delete failed; continuing", zap.String("key", key), zap.Error(err))
			summary.Failures = append(summary.Failures, report.Failure{
				Op: report.OpDelete, Key: key, Error: err.Error(),
			})
			continue
		}
		summary.Deleted++
	}
	return nil
}

func (r *Runner) verify(ctx context.Context, log *zap.Logger, keys []string, summary *report.Summary) error {
	ctx, span := r.tracer.Start(ctx, "mirror.verify", trace.WithAttributes(attribute.Int("mirror.checked", len(keys))))
	defer span.End()

	missing, err := r.transfer.Verify(ctx, keys)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	for _, key := range missing {
		summary.Failures = append(summary.Failures, report.Failure{
			Op: report.OpVerify, Key: key, Error: "object missing after upload",
		})
		r.recorder.ObserveTransfer(report.OpVerify, 0, errors.New("missing"))
	}
	for _, e := range multierr.Errors(err) {
		summary.Failures = append(summary.Failures, report.Failure{Op: report.OpVerify, Error: e.Error()})
		r.recorder.ObserveTransfer(report.OpVerify, 0, e)
	}
	log.Info("verified uploads", zap.Int("checked", len(keys)), zap.Int("missing", len(missing)))
	return nil
}

// publish hands the summary to the sinks even if ctx was canceled mid-run.
func (r *Runner) publish(ctx context.Context, log *zap.Logger, summary report.Summary) {
	if r.sink == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := r.sink.Consume(sinkCtx, summary); err != nil {
		log.Warn("report sink failed", zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func statusOf(err error) report.Status {
	switch {
	case err == nil:
		return report.StatusSucceeded
	case errors.Is(err, ErrPartialFailure):
		return report.StatusPartial
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return report.StatusCanceled
	default:
		return report.StatusFailed
	}
}
