package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoskela/imagevault-go/internal/errors"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestDiskStoreRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("jpeg bytes")
	require.NoError(t, store.Put(ctx, "u1/img_abc.jpg", data))

	ok, err := store.Exists(ctx, "u1/img_abc.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "u1/img_abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, "u1/img_abc.jpg"))
	ok, err = store.Exists(ctx, "u1/img_abc.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStoreMissingBlob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "u1/nope.jpg")
	assert.True(t, errors.IsNotFound(err))

	// Deleting a missing blob must be a no-op for cleanup sequences.
	assert.NoError(t, store.Delete(ctx, "u1/nope.jpg"))
}

func TestDiskStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A file outside the sandbox that must stay unreachable.
	outside := filepath.Join(filepath.Dir(store.BaseDir()), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	tests := []struct {
		name    string
		locator string
	}{
		{name: "parent traversal", locator: "../secret.txt"},
		{name: "nested traversal", locator: "u1/../../secret.txt"},
		{name: "absolute path", locator: outside},
		{name: "empty", locator: ""},
		{name: "dot", locator: "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Get(ctx, tt.locator)
			assert.True(t, errors.IsValidation(err), "locator %q must be rejected", tt.locator)

			err = store.Put(ctx, tt.locator, []byte("x"))
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestDiskStoreContextCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "u1/img.jpg", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
