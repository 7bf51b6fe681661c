// Package repo implements the data persistence layer for the helpline,
// backed by GORM. This file contains database bootstrapping helpers for
// PostgreSQL (production) and SQLite (development and tests), plus schema
// migrations.
//
// The pairing and invitation repositories rely on relation-level locks and
// row pinning (`LOCK TABLE`, `SELECT ... FOR SHARE`), which only PostgreSQL
// speaks. Those statements are emitted only when the session's dialector is
// postgres; SQLite has a single writer and serializes mutations on its own,
// which is what makes the SQLite test setup below sound.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
)

// OpenPostgres opens a PostgreSQL database from a DSN and configures the
// connection pool.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
// Intended for local development and tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// SQLite serializes writers; keep the pool at one connection so GORM
	// transactions never contend with themselves.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all domain models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Pairing{},
		&domain.Invitation{},
	)
}

// isPostgres reports whether the session talks to PostgreSQL. Lock and
// row-pinning statements are only valid there.
func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
