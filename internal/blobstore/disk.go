package blobstore

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tkoskela/imagevault-go/internal/errors"
)

// DiskStore keeps blobs under a base directory, using Go's os.Root for
// OS-level filesystem sandboxing. The sandbox enforces the access boundary at
// the OS level: locators cannot escape the base directory via "..", absolute
// paths or symlinks.
//
// Context cancellation is checked on entry to each operation; the disk I/O
// itself is not interruptible. Local filesystem reads and writes of
// image-sized blobs complete fast enough that a mid-syscall cancel is not
// worth the complexity of a deadline-aware wrapper.
type DiskStore struct {
	baseDir string
	root    *os.Root
}

// NewDiskStore creates the base directory if needed and opens the sandbox.
// Directory creation happens here, once, and nowhere else.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, diskError(err, "resolve_base", baseDir)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, diskError(err, "create_base", absPath)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, diskError(err, "open_root", absPath)
	}

	return &DiskStore{baseDir: absPath, root: root}, nil
}

// BaseDir returns the absolute base directory of the store.
func (d *DiskStore) BaseDir() string {
	return d.baseDir
}

// Close releases the sandbox handle.
func (d *DiskStore) Close() error {
	return d.root.Close()
}

// validLocator rejects locators that are empty, absolute or attempt
// traversal. os.Root would refuse these anyway; checking up front turns them
// into validation failures before any filesystem work.
func validLocator(locator string) error {
	if locator == "" || path.IsAbs(locator) || strings.Contains(locator, "\\") {
		return errors.ValidationError("invalid blob locator %q", locator)
	}
	cleaned := path.Clean(locator)
	if cleaned != locator || cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return errors.ValidationError("invalid blob locator %q", locator)
	}
	return nil
}

// Put writes data to the locator, creating parent directories inside the
// sandbox as needed.
func (d *DiskStore) Put(ctx context.Context, locator string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validLocator(locator); err != nil {
		return err
	}
	if dir := path.Dir(locator); dir != "." {
		if err := d.root.MkdirAll(dir, 0o750); err != nil {
			return diskError(err, "mkdir", locator)
		}
	}
	if err := d.root.WriteFile(locator, data, 0o640); err != nil {
		return diskError(err, "write", locator)
	}
	return nil
}

// Get reads the blob at the locator.
func (d *DiskStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validLocator(locator); err != nil {
		return nil, err
	}
	data, err := d.root.ReadFile(locator)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFoundError("blob %q not found", locator)
		}
		return nil, diskError(err, "read", locator)
	}
	return data, nil
}

// Delete removes the blob. Deleting a missing blob is a no-op so cleanup
// sequences can run unconditionally.
func (d *DiskStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validLocator(locator); err != nil {
		return err
	}
	if err := d.root.Remove(locator); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return diskError(err, "delete", locator)
	}
	return nil
}

// Exists reports whether the locator references a stored blob.
func (d *DiskStore) Exists(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validLocator(locator); err != nil {
		return false, err
	}
	if _, err := d.root.Stat(locator); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, diskError(err, "stat", locator)
	}
	return true, nil
}

func diskError(err error, operation, locator string) error {
	return errors.New(err).
		Component("blobstore").
		Category(errors.CategoryBlobStorage).
		Context("operation", operation).
		Context("locator", locator).
		Build()
}
