// Package database opens the backing database and runs migrations.
package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vesselworks/drydock/internal/model"
)

// DB wraps the GORM handle.
type DB struct {
	*gorm.DB
}

// Open connects to the database selected by driver ("sqlite" or "postgres")
// and migrates the schema.
func Open(driver, dsn string) (*DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := gdb.AutoMigrate(
		&model.Project{},
		&model.SandboxRecord{},
		&model.Fragment{},
		&model.CommitRef{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &DB{DB: gdb}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
