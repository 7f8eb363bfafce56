// Package s3 provides a storage.Store backed by Amazon S3 or an S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

const defaultRegion = "us-east-1"

// Config captures the parameters required to reach the bucket.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the S3 client the store calls.
type API interface {
	awss3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Store mirrors objects into an S3 bucket.
type Store struct {
	api    API
	bucket string
}

var _ storage.Store = (*Store)(nil)

// NewClient loads the default AWS configuration and applies cfg's overrides.
// A custom endpoint implies an S3-compatible service and defaults the region.
func NewClient(ctx context.Context, cfg Config) (*awss3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	region := cfg.Region
	if region == "" && cfg.Endpoint != "" {
		region = defaultRegion
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(awscfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New wraps an S3 API client.
func New(api API, cfg Config) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{api: api, bucket: cfg.Bucket}, nil
}

// List follows ListObjectsV2 continuation tokens until the listing is exhausted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	input := &awss3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	paginator := awss3.NewListObjectsV2Paginator(s.api, input)

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Exists issues a HeadObject for key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("head s3://%s/%s: %w", s.bucket, key, err)
	}
}

// Put uploads the whole object body.
func (s *Store) Put(ctx context.Context, obj storage.Object) error {
	if strings.TrimSpace(obj.Key) == "" {
		return fmt.Errorf("key is required")
	}
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if len(obj.Metadata) > 0 {
		input.Metadata = obj.Metadata
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, obj.Key, err)
	}
	return nil
}

// Delete removes key. S3 reports success for absent keys; some compatible
// services answer NoSuchKey instead, which is treated the same way.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Close implements storage.Store; the SDK client holds no resources to release.
func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}
