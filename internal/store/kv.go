package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Queries holds the dialect-specific statements for a key/value table with
// the columns (key, value, updated_at).
type Queries struct {
	Get    string
	Upsert string
	Delete string
	Clear  string
	Keys   string
}

// PostgresQueries returns the statements for a PostgreSQL table.
func PostgresQueries(table string) Queries {
	return Queries{
		Get:    fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, table),
		Upsert: fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, table),
		Delete: fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table),
		Clear:  fmt.Sprintf(`DELETE FROM %s`, table),
		Keys:   fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, table),
	}
}

// SQLiteQueries returns the statements for a SQLite table.
func SQLiteQueries(table string) Queries {
	return Queries{
		Get:    fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table),
		Upsert: fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, table),
		Delete: fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table),
		Clear:  fmt.Sprintf(`DELETE FROM %s`, table),
		Keys:   fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, table),
	}
}

// KV stores opaque values in a SQL table. It satisfies the storage layer
// adapter contract: a missing key is reported with ok == false.
type KV struct {
	db       DBTX
	queries  Queries
	mapError func(error) error
	clock    clockwork.Clock
	logger   *slog.Logger
}

// KVOption customises a KV.
type KVOption func(*KV)

// WithErrorMapper translates driver errors, for example PostgreSQL constraint
// violations, into store errors.
func WithErrorMapper(f func(error) error) KVOption {
	return func(kv *KV) { kv.mapError = f }
}

// WithClock sets the clock used for updated_at.
func WithClock(clock clockwork.Clock) KVOption {
	return func(kv *KV) { kv.clock = clock }
}

// NewKV creates a KV over db.
func NewKV(db DBTX, queries Queries, logger *slog.Logger, opts ...KVOption) *KV {
	kv := &KV{
		db:       db,
		queries:  queries,
		mapError: func(err error) error { return err },
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Get returns the value stored under key.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := kv.db.QueryRowContext(ctx, kv.queries.Get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewStoreError("storage_record", "get", key, kv.mapError(err))
	}
	return value, true, nil
}

// Set inserts or replaces the value stored under key.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	_, err := kv.db.ExecContext(ctx, kv.queries.Upsert, key, value, kv.clock.Now().UTC())
	if err != nil {
		kv.logger.Error("failed to write storage record", "key", key, "error", err)
		return NewStoreError("storage_record", "set", key, kv.mapError(err))
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (kv *KV) Remove(ctx context.Context, key string) error {
	if _, err := kv.db.ExecContext(ctx, kv.queries.Delete, key); err != nil {
		return NewStoreError("storage_record", "delete", key, kv.mapError(err))
	}
	return nil
}

// Clear deletes every record.
func (kv *KV) Clear(ctx context.Context) error {
	res, err := kv.db.ExecContext(ctx, kv.queries.Clear)
	if err != nil {
		return NewStoreError("storage_record", "clear", "all keys", kv.mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil {
		kv.logger.Info("storage table cleared", "rows", n)
	}
	return nil
}

// Keys lists every stored key in order.
func (kv *KV) Keys(ctx context.Context) ([]string, error) {
	rows, err := kv.db.QueryContext(ctx, kv.queries.Keys)
	if err != nil {
		return nil, NewStoreError("storage_record", "list", "keys", kv.mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, NewStoreError("storage_record", "list", "scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreError("storage_record", "list", "iterate keys", kv.mapError(err))
	}
	return keys, nil
}

// Ping checks the connection when db supports it.
func (kv *KV) Ping(ctx context.Context) error {
	if p, ok := kv.db.(interface{ PingContext(context.Context) error }); ok {
		return p.PingContext(ctx)
	}
	return nil
}

// Close closes db when it is closable.
func (kv *KV) Close() error {
	if c, ok := kv.db.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
