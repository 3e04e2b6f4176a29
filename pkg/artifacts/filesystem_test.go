package artifacts

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFilesystemTest(t *testing.T) *FilesystemStorage {
	t.Helper()
	store, err := NewFilesystemStorage(t.TempDir(), "http://localhost:8080/artifacts", nil)
	require.NoError(t, err)
	return store
}

func TestFilesystemStorage_RoundTrip(t *testing.T) {
	store := setupFilesystemTest(t)
	ctx := context.Background()

	url, err := store.Store(ctx, "markdown-tools/1.0.0.tar.gz", []byte("archive-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/artifacts/markdown-tools/1.0.0.tar.gz", url)

	exists, err := store.Exists(ctx, "markdown-tools/1.0.0.tar.gz")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, "markdown-tools/1.0.0.tar.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("archive-bytes"), data)
}

func TestFilesystemStorage_GetMissing(t *testing.T) {
	store := setupFilesystemTest(t)

	_, err := store.Get(context.Background(), "ghost/1.0.0.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(context.Background(), "ghost/1.0.0.tar.gz")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesystemStorage_Delete(t *testing.T) {
	store := setupFilesystemTest(t)
	ctx := context.Background()

	_, err := store.Store(ctx, "markdown-tools/1.0.0.tar.gz", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "markdown-tools/1.0.0.tar.gz"))
	assert.ErrorIs(t, store.Delete(ctx, "markdown-tools/1.0.0.tar.gz"), ErrNotFound)
}

func TestFilesystemStorage_RejectsTraversal(t *testing.T) {
	store := setupFilesystemTest(t)

	// cleaned paths stay inside the root
	url, err := store.Store(context.Background(), "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Contains(t, url, "/artifacts/")

	exists, err := store.Exists(context.Background(), "etc/passwd")
	require.NoError(t, err)
	assert.True(t, exists, "traversal segments are stripped, not honored")
}
