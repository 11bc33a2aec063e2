package testdb

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/meetscribe/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout bounds setup operations against test databases.
const TestTimeout = 10 * time.Second

// GetTestDB opens the PostgreSQL database named by DATABASE_URL (or
// MEETSCRIBE_TEST_DB_URL), applies the migrations and empties the storage
// table. The connection is closed when the test ends.
func GetTestDB(t testing.TB) *sql.DB {
	t.Helper()
	dbURL := RequireEnv(t, DatabaseURLVars...)

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := postgres.Open(ctx, postgres.Config{URL: dbURL, MaxOpenConns: 4}, logger)
	require.NoError(t, err, "failed to open test database %s", postgres.MaskDatabaseURL(dbURL))
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close test database: %v", err)
		}
	})

	require.NoError(t, postgres.Migrate(ctx, db, "up", logger), "failed to migrate test database")
	_, err = db.ExecContext(ctx, "DELETE FROM "+postgres.TableName)
	require.NoError(t, err, "failed to empty %s", postgres.TableName)
	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t testing.TB, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "failed to begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("failed to roll back transaction: %v", err)
		}
	}()
	fn(tx)
}
