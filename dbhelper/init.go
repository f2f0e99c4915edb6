package dbhelper

import (
	"fmt"
	"os"
	"path/filepath"

	"tryonapi/models"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupDB opens the sqlite database at dbPath and migrates the history tables.
func SetupDB(dbPath string) (*gorm.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps in-memory databases shared and writes ordered
	sqlDB.SetMaxOpenConns(1)

	for _, model := range []interface{}{&models.HistoryRecord{}, &models.UsageEvent{}} {
		if err := Migrate(db, model); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return db, nil
}

func SetupTestDB() (*gorm.DB, error) {
	return SetupDB(":memory:")
}

func Migrate(db *gorm.DB, model interface{}) error {
	if err := db.AutoMigrate(model); err != nil {
		log.Error().Err(err).Msgf("migration of %T failed", model)
		return fmt.Errorf("failed to migrate %T: %w", model, err)
	}
	return nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// SetupCleaner returns a func that empties every table.
func SetupCleaner(db *gorm.DB) func() {
	return func() {
		for _, model := range []interface{}{&models.HistoryRecord{}, &models.UsageEvent{}} {
			if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				log.Error().Err(err).Msgf("failed to clean %T", model)
			}
		}
	}
}
