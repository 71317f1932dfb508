// Package objstore abstracts the object store used as the durable image
// archive. The Redis copy of an uploaded image is TTL-bound; when an archive
// bucket is configured, submissions also write the payload here keyed by
// content fingerprint, so a retried job can outlive the Redis TTL.
package objstore

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the minimal surface the pipeline needs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, obj string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, obj string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, obj string) error
}

// MinioObjectStore implements ObjectStore on a MinIO/S3 endpoint.
type MinioObjectStore struct {
	client *minio.Client
}

// NewMinioObjectStore wraps an initialized minio client.
func NewMinioObjectStore(client *minio.Client) *MinioObjectStore {
	return &MinioObjectStore{client: client}
}

func (m *MinioObjectStore) Put(ctx context.Context, bucket, obj string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, obj, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *MinioObjectStore) Get(ctx context.Context, bucket, obj string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, obj, minio.GetObjectOptions{})
}

func (m *MinioObjectStore) Delete(ctx context.Context, bucket, obj string) error {
	return m.client.RemoveObject(ctx, bucket, obj, minio.RemoveObjectOptions{})
}
