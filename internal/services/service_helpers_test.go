package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/helpline/go-helpline-backend/internal/notify"
	"github.com/helpline/go-helpline-backend/internal/repo"
)

// newServiceDB opens a fresh SQLite database with the full schema for
// service-level tests.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	// One connection: concurrent transactions queue instead of failing
	// with SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestEngine wires a Coordinator over a fresh database with an in-process
// notifier, registering the given chat ids as operators.
func newTestEngine(t *testing.T, operatorIDs ...int64) (*Coordinator, *notify.Memory, *gorm.DB) {
	t.Helper()

	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := NewInvitationLedger(notifier, notify.NewCopy("en"), zerolog.Nop())
	coord := NewCoordinator(db, ledger, zerolog.Nop())

	directory := NewUserDirectory(db, zerolog.Nop())
	if err := directory.Bootstrap(context.Background(), operatorIDs, nil); err != nil {
		t.Fatalf("bootstrap operators: %v", err)
	}
	return coord, notifier, db
}
