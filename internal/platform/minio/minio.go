// Package minio stores conflict backups in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phrazzld/meetscribe/internal/conflict"
)

// DefaultBucket is used when none is configured.
const DefaultBucket = "meetscribe-conflicts"

// ErrEndpointRequired is returned by New without an endpoint.
var ErrEndpointRequired = errors.New("minio endpoint is required")

// Config holds connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectStore is the subset of *minio.Client the sink uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Sink writes one JSON object per conflict under conflicts/<conflict id>.json.
type Sink struct {
	client objectStore
	bucket string
	logger *slog.Logger
}

// New creates a Sink for cfg. Call EnsureBucket before the first backup.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newSink(client, cfg.Bucket, logger), nil
}

func newSink(client objectStore, bucket string, logger *slog.Logger) *Sink {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Sink{
		client: client,
		bucket: bucket,
		logger: logger.With("component", "minio_backup", "bucket", bucket),
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created conflict backup bucket")
	return nil
}

// ObjectName returns the object a conflict is backed up to.
func ObjectName(conflictID string) string {
	return "conflicts/" + conflictID + ".json"
}

// Backup uploads every version of c and returns an s3:// reference.
func (s *Sink) Backup(ctx context.Context, c *conflict.Conflict) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode conflict %s: %w", c.ID, err)
	}
	object := ObjectName(c.ID)
	_, err = s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"storage-key": c.Key},
		})
	if err != nil {
		s.logger.Error("failed to upload conflict backup", "conflict_id", c.ID, "error", err)
		return "", fmt.Errorf("failed to upload %s: %w", object, err)
	}
	s.logger.Info("conflict backed up", "conflict_id", c.ID, "object", object)
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}

var _ conflict.BackupSink = (*Sink)(nil)
