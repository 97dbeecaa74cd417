package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

// ConnectSQLite opens a SQLite database, e.g. "file:jobby-dev.db?cache=shared" or "file::memory:?cache=shared".
func ConnectSQLite(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn must not be empty")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Connect opens the devserver database for the configured driver.
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return ConnectPostgres(dsn)
	case "sqlite", "":
		return ConnectSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates or updates the devserver tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.UserRecord{}, &models.ConversationRecord{}, &models.MessageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate messaging tables: %w", err)
	}
	return nil
}
