// Package sqlite provides the indexeddb storage tier on an embedded SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
	"github.com/phrazzld/meetscribe/internal/store"
)

// TableName is the key/value table holding records.
const TableName = "storage_records"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		key        TEXT PRIMARY KEY CHECK (length(key) > 0),
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + TableName + `_updated_at_idx ON ` + TableName + ` (updated_at)`,
}

// Open opens (creating if needed) the database at path and applies the schema.
// path ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	err = store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("SQLite storage opened", "component", "sqlite", "path", path)
	return db, nil
}

// NewAdapter returns the indexeddb tier adapter over db.
func NewAdapter(db *sql.DB, clock clockwork.Clock, logger *slog.Logger) *store.KV {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return store.NewKV(db, store.SQLiteQueries(TableName),
		logger.With("component", "sqlite_adapter"),
		store.WithClock(clock))
}
