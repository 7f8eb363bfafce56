// Package transfer copies individual source files into the object store and
// removes stale objects.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/source"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

// Metadata keys attached to every uploaded object, alongside the digest.
const (
	MetaSourceURL = "source-url"
	fallbackType  = "application/octet-stream"
)

// Hasher produces the content digest stored with each object.
type Hasher interface {
	Algorithm() string
	Hash(data []byte) (string, error)
}

// Config tunes uploads.
type Config struct {
	// ContentType is applied to every object; empty derives it from the
	// response header or the file extension.
	ContentType string
	// DryRun logs intended writes without performing them.
	DryRun bool
}

// DownloadError reports a source file that could not be retrieved.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Result describes a completed (or, in dry-run mode, intended) upload.
type Result struct {
	Key    string
	Bytes  int
	Digest string
	DryRun bool
}

// Executor performs downloads, uploads and deletes one item at a time.
type Executor struct {
	getter source.Getter
	store  storage.Store
	hasher Hasher
	cfg    Config
	logger *zap.Logger
}

// New builds an Executor. hasher may be nil to skip digests.
func New(getter source.Getter, store storage.Store, hasher Hasher, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		getter: getter,
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}
}

// Upload downloads file in full and writes it under key.
// Download failures return *DownloadError; digest and store failures return
// *storage.WriteError since nothing was written.
func (e *Executor) Upload(ctx context.Context, file listing.RemoteFile, key string) (Result, error) {
	log := e.logger.With(zap.String("key", key), zap.String("url", file.URL))
	if e.cfg.DryRun {
		log.Info("dry run: would upload")
		return Result{Key: key, DryRun: true}, nil
	}

	resp, err := e.getter.Get(ctx, file.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		dlErr := &DownloadError{URL: file.URL, Err: err}
		var statusErr *source.StatusError
		if errors.As(err, &statusErr) {
			dlErr.StatusCode = statusErr.StatusCode
		}
		return Result{}, dlErr
	}

	obj := storage.Object{
		Key:         key,
		ContentType: e.contentType(file, resp),
		Metadata:    map[string]string{MetaSourceURL: file.URL},
		Data:        resp.Body,
	}
	res := Result{Key: key, Bytes: len(resp.Body)}
	if e.hasher != nil {
		digest, err := e.hasher.Hash(resp.Body)
		if err != nil {
			return Result{}, &storage.WriteError{Op: storage.OpPut, Key: key, Err: fmt.Errorf("hash %s: %w", file.URL, err)}
		}
		obj.Metadata[e.hasher.Algorithm()] = digest
		res.Digest = digest
	}

	if err := e.store.Put(ctx, obj); err != nil {
		return Result{}, &storage.WriteError{Op: storage.OpPut, Key: key, Err: err}
	}
	log.Info("uploaded", zap.Int("bytes", res.Bytes), zap.String("content_type", obj.ContentType))
	return res, nil
}

// Delete removes key. An already-absent object counts as success.
func (e *Executor) Delete(ctx context.Context, key string) error {
	if e.cfg.DryRun {
		e.logger.Info("dry run: would delete", zap.String("key", key))
		return nil
	}
	if err := e.store.Delete(ctx, key); err != nil {
		return &storage.WriteError{Op: storage.OpDelete, Key: key, Err: err}
	}
	e.logger.Info("deleted", zap.String("key", key))
	return nil
}

// Verify checks each key exists after upload. It returns the keys that are
// missing and, separately, any lookups that failed outright.
func (e *Executor) Verify(ctx context.Context, keys []string) ([]string, error) {
	if e.cfg.DryRun {
		return nil, nil
	}
	var (
		missing []string
		errs    error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return missing, multierr.Append(errs, err)
		}
		ok, err := e.store.Exists(ctx, key)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("verify %s: %w", key, err))
			continue
		}
		if !ok {
			e.logger.Warn("uploaded object missing", zap.String("key", key))
			missing = append(missing, key)
		}
	}
	return missing, errs
}

func (e *Executor) contentType(file listing.RemoteFile, resp source.Response) string {
	if e.cfg.ContentType != "" {
		return e.cfg.ContentType
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(path.Ext(file.Name)); ct != "" {
		return ct
	}
	return fallbackType
}
