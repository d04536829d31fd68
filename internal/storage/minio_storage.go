package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes the S3-compatible endpoint backing a MinioStorage.
type MinioConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// MinioStorage is a Store implementation backed by any S3-compatible
// service. All logical buckets share a single S3 bucket; each payload lives
// under the key "<bucket>/<id>".
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage connects to the configured endpoint and makes sure the
// backing S3 bucket exists.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint must not be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket must not be empty")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	s := &MinioStorage{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket checks if the backing bucket exists, and creates it if it
// does not.
func (s *MinioStorage) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
		slog.Info("Created S3 bucket", "bucket", s.bucket)
	}
	return nil
}

func objectKey(bucket string, id string) (string, error) {
	if !bucketNamePattern.MatchString(bucket) {
		return "", fmt.Errorf("invalid bucket name: %q", bucket)
	}
	if !ValidID(id) {
		return "", fmt.Errorf("%w: invalid blob id %q", ErrNotFound, id)
	}
	return path.Join(bucket, id), nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStorage) Put(ctx context.Context, bucket string, r io.Reader, suggestedName string) (Blob, error) {
	id := NewID()
	key, err := objectKey(bucket, id)
	if err != nil {
		return Blob{}, err
	}

	// A size of -1 makes the client stream the body as a multipart upload,
	// which only becomes visible once every part has been committed.
	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"original-name": suggestedName},
	})
	if err != nil {
		return Blob{}, fmt.Errorf("failed to upload object %q to bucket %q: %w", key, s.bucket, err)
	}

	return Blob{ID: id, Bucket: bucket, Size: info.Size, ModifiedAt: info.LastModified.UTC()}, nil
}

func (s *MinioStorage) Get(ctx context.Context, bucket string, id string) (io.ReadCloser, error) {
	key, err := objectKey(bucket, id)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}

	// GetObject is lazy; Stat forces the request so a missing key surfaces
	// here rather than on the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
		}
		return nil, fmt.Errorf("failed to stat object %q: %w", key, err)
	}

	return obj, nil
}

func (s *MinioStorage) Delete(ctx context.Context, bucket string, id string) error {
	// S3 deletes are idempotent, so check existence first to report unknown
	// ids the same way the other stores do.
	if _, err := s.Stat(ctx, bucket, id); err != nil {
		return err
	}

	key, err := objectKey(bucket, id)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) Stat(ctx context.Context, bucket string, id string) (Blob, error) {
	key, err := objectKey(bucket, id)
	if err != nil {
		return Blob{}, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return Blob{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
		}
		return Blob{}, fmt.Errorf("failed to stat object %q: %w", key, err)
	}

	return Blob{ID: id, Bucket: bucket, Size: info.Size, ModifiedAt: info.LastModified.UTC()}, nil
}

func (s *MinioStorage) List(ctx context.Context, bucket string, fn func(Blob) error) error {
	if !bucketNamePattern.MatchString(bucket) {
		return fmt.Errorf("invalid bucket name: %q", bucket)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := bucket + "/"
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list objects in bucket %q: %w", s.bucket, info.Err)
		}

		id := strings.TrimPrefix(info.Key, prefix)
		if !ValidID(id) {
			continue
		}

		if err := fn(Blob{ID: id, Bucket: bucket, Size: info.Size, ModifiedAt: info.LastModified.UTC()}); err != nil {
			return err
		}
	}
	return nil
}
