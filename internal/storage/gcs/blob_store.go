// Package gcs provides a storage.Store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appstorage "github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Endpoint overrides the JSON API endpoint, e.g. for an emulator.
	Endpoint string
}

// ClientFactory builds storage clients; tests substitute their own.
type ClientFactory interface {
	NewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error)
}

// DefaultClientFactory uses Application Default Credentials.
type DefaultClientFactory struct{}

// NewClient implements ClientFactory.
func (DefaultClientFactory) NewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	return storage.NewClient(ctx, opts...)
}

// Store mirrors objects into a GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

var _ appstorage.Store = (*Store)(nil)

// Open creates a client via factory and checks that the bucket is reachable.
func Open(ctx context.Context, factory ClientFactory, cfg Config, logger *zap.Logger) (*Store, error) {
	if factory == nil {
		factory = DefaultClientFactory{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := factory.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close GCS client after bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg)
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// List pages through every object name with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Exists fetches the object's attributes.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat gs://%s/%s: %w", s.bucket, key, err)
	}
}

// Put uploads the object body with its content type and metadata.
func (s *Store) Put(ctx context.Context, obj appstorage.Object) error {
	if strings.TrimSpace(obj.Key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(obj.Key).NewWriter(ctx)
	if obj.ContentType != "" {
		writer.ContentType = obj.ContentType
	}
	if len(obj.Metadata) > 0 {
		writer.Metadata = obj.Metadata
	}
	if _, err := writer.Write(obj.Data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes key; an object that no longer exists is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
