package history_test

import (
	"context"
	"testing"

	"tryonapi/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBlobStore(t *testing.T) {
	blobs, err := history.NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "history/a/result", []byte("png"), "image/png"))
	data, err := blobs.Get(ctx, "history/a/result")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	require.NoError(t, blobs.Delete(ctx, "history/a/result"))
	_, err = blobs.Get(ctx, "history/a/result")
	assert.Error(t, err)

	assert.NoError(t, blobs.Delete(ctx, "history/a/result"), "deleting twice is fine")
}

func TestFileBlobStoreRejectsEscapingKeys(t *testing.T) {
	blobs, err := history.NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b"} {
		assert.Error(t, blobs.Put(ctx, key, []byte("x"), "text/plain"), key)
	}
}

func TestMemoryStoreLimit(t *testing.T) {
	store := history.NewMemoryStore(0)
	ctx := context.Background()
	for i := 1; i <= history.DefaultLimit+3; i++ {
		require.NoError(t, store.Append(ctx, entry(i, nowPlus(i))))
	}

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, history.DefaultLimit)
	assert.Equal(t, "entry-13", entries[0].ID)

	require.NoError(t, store.Clear(ctx))
	entries, _ = store.List(ctx)
	assert.Empty(t, entries)
}
