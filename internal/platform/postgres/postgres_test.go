package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		expectedError error
	}{
		{
			name: "nil_error",
		},
		{
			name:          "sql_no_rows",
			err:           sql.ErrNoRows,
			expectedError: store.ErrNotFound,
		},
		{
			name:          "unique_violation",
			err:           &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "storage_records_pkey"},
			expectedError: store.ErrDuplicate,
		},
		{
			name:          "check_violation",
			err:           &pgconn.PgError{Code: checkViolationCode, ConstraintName: "storage_records_key_not_blank"},
			expectedError: store.ErrInvalidEntity,
		},
		{
			name:          "not_null_violation",
			err:           &pgconn.PgError{Code: notNullViolationCode, ColumnName: "value"},
			expectedError: store.ErrInvalidEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := MapError(tc.err)
			if tc.expectedError == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.expectedError)
		})
	}

	other := errors.New("connection reset")
	assert.Same(t, other, MapError(other))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsNotFoundError(MapError(sql.ErrNoRows)))
}

func TestAdapter_RoundTripThroughSQL(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	adapter := NewAdapter(db, clockwork.NewFakeClockAt(now), discardLogger())
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO storage_records (key, value, updated_at)`)).
		WithArgs("job:42", []byte(`{"data":"x"}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM storage_records WHERE key = $1`)).
		WithArgs("job:42").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"data":"x"}`)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO storage_records`)).
		WithArgs("", []byte(`{}`), now).
		WillReturnError(&pgconn.PgError{Code: checkViolationCode, ConstraintName: "storage_records_key_not_blank"})

	require.NoError(t, adapter.Set(ctx, "job:42", []byte(`{"data":"x"}`)))
	value, ok, err := adapter.Get(ctx, "job:42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"data":"x"}`, string(value))

	err = adapter.Set(ctx, "", []byte(`{}`))
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaskDatabaseURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "postgres://meet:****@db:5432/meetscribe",
		MaskDatabaseURL("postgres://meet:secret@db:5432/meetscribe"))
	assert.Equal(t, "postgres://db/meetscribe", MaskDatabaseURL("postgres://db/meetscribe"))
	assert.Equal(t, "invalid-url", MaskDatabaseURL("postgres://%zz"))
}

func TestOpen_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{}, discardLogger())
	assert.ErrorContains(t, err, "database URL is empty")
}

func TestMigrations_Embedded(t *testing.T) {
	t.Parallel()
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrationsFS, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+TableName)
}

func TestMigrate_UnknownCommand(t *testing.T) {
	t.Parallel()
	err := Migrate(context.Background(), nil, "sideways", discardLogger())
	assert.ErrorContains(t, err, "unknown migration command")
}
