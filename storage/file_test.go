package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	return b
}

func TestFileBackendRoundTrip(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	data := []byte("encrypted content bytes")
	require.NoError(t, b.Put(ctx, "tenant-a/item-1/v1", data))

	got, err := b.Get(ctx, "tenant-a/item-1/v1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := b.Stat(ctx, "tenant-a/item-1/v1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)

	require.NoError(t, b.Delete(ctx, "tenant-a/item-1/v1"))
	_, err = b.Get(ctx, "tenant-a/item-1/v1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestFileBackendOverwrite(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "blob", []byte("v1")))
	require.NoError(t, b.Put(ctx, "blob", []byte("v2")))

	got, err := b.Get(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestFileBackendMissingBlob(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "never-stored")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = b.Stat(ctx, "never-stored")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.NoError(t, b.Delete(ctx, "never-stored"), "deleting a missing blob is not an error")
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	err := b.Put(ctx, "../outside", []byte("x"))
	assert.Error(t, err, "paths escaping the base directory must be rejected")
}

func TestFileBackendAvailable(t *testing.T) {
	b := newFileBackend(t)
	assert.True(t, b.Available(context.Background()))
}
