// Package blobstore abstracts where image files physically live. Locators are
// opaque, forward-slash relative paths minted by the caller; the pipeline
// stores them in the image record and never interprets them.
package blobstore

import (
	"context"

	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

// Interface is the blob storage contract the orchestrators consume. Every
// operation is bounded by the caller's context.
type Interface interface {
	Put(ctx context.Context, locator string, data []byte) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	Exists(ctx context.Context, locator string) (bool, error)
}

// New creates the configured blob store backend.
func New(ctx context.Context, settings *conf.Settings) (Interface, error) {
	switch settings.Storage.Backend {
	case conf.StorageBackendDisk:
		return NewDiskStore(settings.Storage.Disk.BaseDir)
	case conf.StorageBackendMinio:
		return NewMinioStore(ctx, &settings.Storage.Minio)
	default:
		return nil, errors.Newf("unknown storage backend %q", settings.Storage.Backend).
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
