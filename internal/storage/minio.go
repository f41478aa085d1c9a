package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/rollcall/internal/config"
)

// ErrObjectNotFound is returned for keys missing from the bucket.
var ErrObjectNotFound = errors.New("object not found")

// deleteBatch caps the keys sent per RemoveObjects call.
const deleteBatch = 1000

// MinIOStore holds camera frames, face snapshots and reference media
// addressed as minio://<key>.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("minio: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket unless it exists. Losing a creation race
// to another replica is not an error.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", s.bucket, err)
}

func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject reads the whole object into memory; frames and snapshots are
// small.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, objectError("get", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, objectError("read", key, err)
	}
	return data, nil
}

// FGetObject downloads key to a local file.
func (s *MinIOStore) FGetObject(ctx context.Context, key, path string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return objectError("download", key, err)
	}
	return nil
}

// ListObjectsBefore returns keys under prefix last modified before cutoff.
func (s *MinIOStore) ListObjectsBefore(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// DeleteObjects removes keys in batches and reports the first failure.
func (s *MinIOStore) DeleteObjects(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		batch := keys[start:min(start+deleteBatch, len(keys))]

		objs := make(chan minio.ObjectInfo, len(batch))
		for _, key := range batch {
			objs <- minio.ObjectInfo{Key: key}
		}
		close(objs)

		var first error
		for res := range s.client.RemoveObjects(ctx, s.bucket, objs, minio.RemoveObjectsOptions{}) {
			if res.Err != nil && first == nil {
				first = fmt.Errorf("delete object %s: %w", res.ObjectName, res.Err)
			}
		}
		if first != nil {
			return first
		}
	}
	return nil
}

// Ping fails when MinIO is unreachable or the bucket is missing.
func (s *MinIOStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func objectError(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s object %s: %w", op, key, ErrObjectNotFound)
	}
	return fmt.Errorf("%s object %s: %w", op, key, err)
}
