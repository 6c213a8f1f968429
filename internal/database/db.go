package database

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Open opens (creating if needed) the client-local SQLite database at path
// and migrates the offline queue schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// SQLite allows a single writer
	db.DB().SetMaxOpenConns(1)

	if err := db.AutoMigrate(&mutationRecord{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}
	return db, nil
}
