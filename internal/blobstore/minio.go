package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

// MinioStore keeps blobs as objects in a single MinIO bucket, keyed by
// locator.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore initializes the client and ensures the bucket exists.
func NewMinioStore(ctx context.Context, settings *conf.MinioStorageSettings) (*MinioStore, error) {
	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure: settings.UseSSL,
	})
	if err != nil {
		return nil, minioError(err, "connect", "")
	}

	exists, err := client.BucketExists(ctx, settings.Bucket)
	if err != nil {
		return nil, minioError(err, "bucket_exists", "")
	}
	if !exists {
		if err := client.MakeBucket(ctx, settings.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, minioError(err, "make_bucket", "")
		}
	}

	return &MinioStore{client: client, bucket: settings.Bucket}, nil
}

// Put uploads the blob under the locator key.
func (m *MinioStore) Put(ctx context.Context, locator string, data []byte) error {
	if err := validLocator(locator); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, m.bucket, locator, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return minioError(err, "put", locator)
	}
	return nil
}

// Get downloads the blob under the locator key.
func (m *MinioStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := validLocator(locator); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(err, "get", locator)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NotFoundError("blob %q not found", locator)
		}
		return nil, minioError(err, "read", locator)
	}
	return data, nil
}

// Delete removes the object; missing objects are a no-op like the disk store.
func (m *MinioStore) Delete(ctx context.Context, locator string) error {
	if err := validLocator(locator); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, locator, minio.RemoveObjectOptions{}); err != nil {
		return minioError(err, "delete", locator)
	}
	return nil
}

// Exists reports whether the object is present.
func (m *MinioStore) Exists(ctx context.Context, locator string) (bool, error) {
	if err := validLocator(locator); err != nil {
		return false, err
	}
	_, err := m.client.StatObject(ctx, m.bucket, locator, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, minioError(err, "stat", locator)
	}
	return true, nil
}

func minioError(err error, operation, locator string) error {
	return errors.New(err).
		Component("blobstore").
		Category(errors.CategoryBlobStorage).
		Context("operation", operation).
		Context("locator", locator).
		Build()
}
