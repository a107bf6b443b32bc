// Package store is the SQLite-backed Document Store the daemon serves by
// default. Documents are kept as JSON rows keyed by (collection, id).
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/docstore"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB is a document store over a single SQLite file.
type DB struct {
	sql    *sql.DB
	hub    *docstore.Hub
	logger *zap.Logger

	writeMu sync.Mutex
	now     func() time.Time
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string, b *bus.Bus, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	sdb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sdb.Ping(); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{
		sql:    sdb,
		hub:    docstore.NewHub(b, logger),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close ends live subscriptions and closes the database.
func (db *DB) Close() error {
	db.hub.Close()
	return db.sql.Close()
}
