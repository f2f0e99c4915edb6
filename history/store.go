package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tryonapi/models"
	"tryonapi/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const DefaultLimit = 10

var ErrClosed = errors.New("history store closed")

type op struct {
	fn   func(db *gorm.DB) error
	done chan error
}

// SQLiteStore keeps the history index in sqlite and image bytes in a
// BlobStore. One goroutine owns the database; every read and write is sent to
// it, so append-and-trim sequences never interleave.
type SQLiteStore struct {
	blobs services.BlobStore
	limit int

	ops    chan op
	quit   chan struct{}
	closed chan struct{}
}

func NewSQLiteStore(db *gorm.DB, blobs services.BlobStore, limit int) *SQLiteStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &SQLiteStore{
		blobs:  blobs,
		limit:  limit,
		ops:    make(chan op),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.loop(db)
	return s
}

func (s *SQLiteStore) loop(db *gorm.DB) {
	defer close(s.closed)
	for {
		select {
		case o := <-s.ops:
			o.done <- o.fn(db)
		case <-s.quit:
			return
		}
	}
}

func (s *SQLiteStore) do(ctx context.Context, fn func(db *gorm.DB) error) error {
	o := op{fn: fn, done: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the owner goroutine. The database itself is closed by the caller.
func (s *SQLiteStore) Close() {
	select {
	case <-s.closed:
	default:
		close(s.quit)
		<-s.closed
	}
}

func blobKeys(id string) (string, string, string) {
	prefix := "history/" + id
	return prefix + "/subject.jpg", prefix + "/garment.jpg", prefix + "/result"
}

// Append stores entry and drops the oldest entries beyond the limit. The index
// row is inserted before any blob is written; a failed blob write rolls the
// row back and removes the blobs written so far.
func (s *SQLiteStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ResultMimeType == "" {
		entry.ResultMimeType = models.MimePNG
	}
	return s.do(ctx, func(db *gorm.DB) error {
		subjectKey, garmentKey, resultKey := blobKeys(entry.ID)
		record := models.HistoryRecord{
			ID:             entry.ID,
			CreatedAtNano:  entry.Timestamp.UnixNano(),
			SubjectKey:     subjectKey,
			GarmentKey:     garmentKey,
			ResultKey:      resultKey,
			ResultMimeType: entry.ResultMimeType,
		}

		var written []string
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to insert history entry: %w", err)
			}
			for _, blob := range []struct {
				key, contentType string
				data             []byte
			}{
				{subjectKey, models.MimeJPEG, entry.SubjectImage},
				{garmentKey, models.MimeJPEG, entry.GarmentImage},
				{resultKey, entry.ResultMimeType, entry.ResultImage},
			} {
				if err := s.blobs.Put(ctx, blob.key, blob.data, blob.contentType); err != nil {
					return err
				}
				written = append(written, blob.key)
			}
			return nil
		})
		if err != nil {
			s.deleteBlobs(ctx, written...)
			return err
		}
		return s.trim(ctx, db)
	})
}

func (s *SQLiteStore) deleteBlobs(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to delete history blob")
		}
	}
}

func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at_nano DESC, rowid DESC")
}

func (s *SQLiteStore) trim(ctx context.Context, db *gorm.DB) error {
	var ids []string
	err := newestFirst(db.WithContext(ctx).Model(&models.HistoryRecord{})).Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("failed to select expired history: %w", err)
	}
	if len(ids) <= s.limit {
		return nil
	}
	for _, id := range ids[s.limit:] {
		if err := s.remove(ctx, db, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) remove(ctx context.Context, db *gorm.DB, id string) error {
	if err := db.WithContext(ctx).Delete(&models.HistoryRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	subjectKey, garmentKey, resultKey := blobKeys(id)
	s.deleteBlobs(ctx, subjectKey, garmentKey, resultKey)
	return nil
}

func (s *SQLiteStore) listIndex(ctx context.Context, db *gorm.DB) ([]models.HistoryEntry, error) {
	var records []models.HistoryRecord
	if err := newestFirst(db.WithContext(ctx)).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	entries := make([]models.HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, models.HistoryEntry{
			ID:             record.ID,
			Timestamp:      time.Unix(0, record.CreatedAtNano),
			ResultMimeType: record.ResultMimeType,
			SubjectKey:     record.SubjectKey,
			GarmentKey:     record.GarmentKey,
			ResultKey:      record.ResultKey,
		})
	}
	return entries, nil
}

// ListIndex returns entries newest first without loading image bytes.
func (s *SQLiteStore) ListIndex(ctx context.Context) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.do(ctx, func(db *gorm.DB) error {
		var err error
		entries, err = s.listIndex(ctx, db)
		return err
	})
	return entries, err
}

// List returns entries newest first with their images loaded.
func (s *SQLiteStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.do(ctx, func(db *gorm.DB) error {
		var err error
		entries, err = s.listIndex(ctx, db)
		if err != nil {
			return err
		}
		for i := range entries {
			entry := &entries[i]
			if entry.SubjectImage, err = s.blobs.Get(ctx, entry.SubjectKey); err != nil {
				return err
			}
			if entry.GarmentImage, err = s.blobs.Get(ctx, entry.GarmentKey); err != nil {
				return err
			}
			if entry.ResultImage, err = s.blobs.Get(ctx, entry.ResultKey); err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// Clear removes every entry and its blobs.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.do(ctx, func(db *gorm.DB) error {
		entries, err := s.listIndex(ctx, db)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := s.remove(ctx, db, entry.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) CountUsesSince(ctx context.Context, since time.Time) (int, error) {
	var count int64
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&models.UsageEvent{}).Where("used_at >= ?", since.UnixNano()).Count(&count).Error
	})
	return int(count), err
}

func (s *SQLiteStore) RecordUse(ctx context.Context, at time.Time) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(&models.UsageEvent{UsedAt: at.UnixNano()}).Error
	})
}

var _ services.UsageLedger = (*SQLiteStore)(nil)
