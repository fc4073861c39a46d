package store

import (
	"testing"

	_ "github.com/glebarez/go-sqlite" // pure-Go sqlite driver, registers as "sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens a fresh in-memory sqlite database and migrates this
// package's entities, standing in for postgres in transactional tests
// that exercise gorm.DB.Transaction end to end without a running server.
// Uses glebarez/go-sqlite (registered under driver name "sqlite") instead
// of gorm.io/driver/sqlite's default mattn/go-sqlite3 binding, so the
// test suite needs no cgo toolchain.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: "file::memory:?cache=shared"}, &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite test db: %v", err)
	}
	db := &DB{DB: gdb}
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func insertTestRoom(t *testing.T, db *DB, r Room) Room {
	t.Helper()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("inserting room: %v", err)
	}
	return r
}
