package history_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tryonapi/dbhelper"
	"tryonapi/history"
	"tryonapi/models"
	"tryonapi/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStore(t *testing.T, limit int) (*history.SQLiteStore, *gorm.DB, string) {
	dir := t.TempDir()
	blobs, err := history.NewFileBlobStore(dir)
	require.NoError(t, err)
	store, db := setupStoreWithBlobs(t, limit, blobs)
	return store, db, dir
}

func setupStoreWithBlobs(t *testing.T, limit int, blobs services.BlobStore) (*history.SQLiteStore, *gorm.DB) {
	db, err := dbhelper.SetupTestDB()
	require.NoError(t, err)

	store := history.NewSQLiteStore(db, blobs, limit)
	t.Cleanup(func() {
		store.Close()
		dbhelper.Close(db)
	})
	return store, db
}

func entry(n int, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:           fmt.Sprintf("entry-%02d", n),
		Timestamp:    at,
		SubjectImage: []byte(fmt.Sprintf("subject-%d", n)),
		GarmentImage: []byte(fmt.Sprintf("garment-%d", n)),
		ResultImage:  []byte(fmt.Sprintf("result-%d", n)),
	}
}

func TestAppendAndList(t *testing.T) {
	store, _, _ := setupStore(t, 10)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Append(ctx, entry(1, base)))
	require.NoError(t, store.Append(ctx, entry(2, base.Add(time.Second))))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry-02", entries[0].ID)
	assert.Equal(t, []byte("result-2"), entries[0].ResultImage)
	assert.Equal(t, []byte("subject-1"), entries[1].SubjectImage)
	assert.Equal(t, models.MimePNG, entries[0].ResultMimeType)
	assert.Equal(t, base.Add(time.Second).UnixNano(), entries[0].Timestamp.UnixNano())
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	store, _, _ := setupStore(t, 10)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, models.HistoryEntry{ResultImage: []byte("r")}))
	entries, err := store.ListIndex(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Nil(t, entries[0].ResultImage)
}

func TestAppendTrimsOldestAndDeletesBlobs(t *testing.T) {
	store, _, dir := setupStore(t, 10)
	ctx := context.Background()
	base := time.Now()

	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Append(ctx, entry(i, base.Add(time.Duration(i)*time.Second))))
	}

	entries, err := store.ListIndex(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, "entry-12", entries[0].ID)
	assert.Equal(t, "entry-03", entries[9].ID)

	for _, id := range []string{"entry-01", "entry-02"} {
		_, err := os.Stat(filepath.Join(dir, "history", id))
		assert.True(t, os.IsNotExist(err), id)
	}
	_, err = os.Stat(filepath.Join(dir, "history", "entry-03", "result"))
	assert.NoError(t, err)
}

func TestAppendDuplicateIDKeepsOriginalImages(t *testing.T) {
	store, _, _ := setupStore(t, 10)
	ctx := context.Background()
	first := entry(1, time.Now())
	require.NoError(t, store.Append(ctx, first))

	duplicate := entry(2, time.Now())
	duplicate.ID = first.ID
	assert.Error(t, store.Append(ctx, duplicate))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("subject-1"), entries[0].SubjectImage)
	assert.Equal(t, []byte("result-1"), entries[0].ResultImage)
}

// flakyBlobs fails every Put of a result blob.
type flakyBlobs struct {
	*history.FileBlobStore
}

func (f flakyBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if filepath.Base(key) == "result" {
		return errors.New("disk full")
	}
	return f.FileBlobStore.Put(ctx, key, data, contentType)
}

func TestAppendBlobFailureLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	blobs, err := history.NewFileBlobStore(dir)
	require.NoError(t, err)
	store, _ := setupStoreWithBlobs(t, 10, flakyBlobs{blobs})
	ctx := context.Background()

	assert.Error(t, store.Append(ctx, entry(1, time.Now())))

	entries, err := store.ListIndex(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(filepath.Join(dir, "history", "entry-01", "subject.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestConcurrentAppendsKeepLimit(t *testing.T) {
	store, _, _ := setupStore(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx, entry(n, time.Now())))
		}(i)
	}
	wg.Wait()

	entries, err := store.ListIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestClear(t *testing.T) {
	store, _, dir := setupStore(t, 10)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, entry(1, time.Now())))

	require.NoError(t, store.Clear(ctx))
	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(dir, "history", "entry-01"))
	assert.True(t, os.IsNotExist(err))
}

func TestUsageLedger(t *testing.T) {
	store, _, _ := setupStore(t, 10)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.RecordUse(ctx, now.Add(-48*time.Hour)))
	require.NoError(t, store.RecordUse(ctx, now.Add(-time.Minute)))
	require.NoError(t, store.RecordUse(ctx, now))

	count, err := store.CountUsesSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClosedStore(t *testing.T) {
	store, _, _ := setupStore(t, 10)
	store.Close()

	_, err := store.List(context.Background())
	assert.ErrorIs(t, err, history.ErrClosed)
}

func nowPlus(seconds int) time.Time {
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
