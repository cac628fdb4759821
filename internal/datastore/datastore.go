// Package datastore opens the liferaft sqlite database and runs
// migrations for the bundle asset and state tables.
package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/meshchat/liferaft/internal/datastore/entities"
)

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}
	if err := db.AutoMigrate(&entities.BundleAsset{}, &entities.StateEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}
