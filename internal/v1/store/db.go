// Package store implements the relational entities and transactional
// queries of spec §3, backed by gorm/postgres. Every operation the spec
// marks atomic (placement + recording insert, writer-config update +
// snapshot, offline + disconnect + delete, ...) runs inside a single
// gorm.DB.Transaction closure; read-modify-write on room.backend_id and
// on reader/writer config rows uses ON CONFLICT DO UPDATE upserts.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps a *gorm.DB with the entities this package owns.
type DB struct {
	*gorm.DB
}

// Open connects to dsn and configures the connection pool.
func Open(dsn string, gormLogger logger.Interface) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrapping sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)

	return &DB{DB: gdb}, nil
}

// AutoMigrate creates/updates every table this package owns. Used by
// local dev and integration tests, and run by cmd/conferenced at every
// startup.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&Room{},
		&Rtc{},
		&Agent{},
		&AgentConnection{},
		&JanusBackend{},
		&JanusRtcStream{},
		&Recording{},
		&RtcReaderConfig{},
		&RtcWriterConfig{},
		&RtcWriterConfigSnapshot{},
		&GroupAgent{},
		&OrphanedRoom{},
	)
}
