package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockKV(t *testing.T, opts ...KVOption) (*KV, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewKV(db, PostgresQueries("storage_records"), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), mock
}

func TestKV_Get(t *testing.T) {
	t.Parallel()
	query := regexp.QuoteMeta(`SELECT value FROM storage_records WHERE key = $1`)

	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantValue []byte
		wantOK    bool
		wantErr   bool
	}{
		{
			name: "hit",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("job:1").
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"data":1}`)))
			},
			wantValue: []byte(`{"data":1}`),
			wantOK:    true,
		},
		{
			name: "miss",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("job:1").
					WillReturnRows(sqlmock.NewRows([]string{"value"}))
			},
		},
		{
			name: "driver error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("job:1").WillReturnError(errors.New("conn reset"))
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kv, mock := newMockKV(t)
			tc.setup(mock)

			value, ok, err := kv.Get(context.Background(), "job:1")
			if tc.wantErr {
				var storeErr *StoreError
				require.ErrorAs(t, err, &storeErr)
				assert.Equal(t, "get", storeErr.Operation)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantValue, value)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKV_SetUsesClockAndMapsErrors(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	kv, mock := newMockKV(t,
		WithClock(clockwork.NewFakeClockAt(now)),
		WithErrorMapper(func(err error) error { return errors.Join(ErrInvalidEntity, err) }))

	upsert := regexp.QuoteMeta(`INSERT INTO storage_records (key, value, updated_at) VALUES ($1, $2, $3)`)
	mock.ExpectExec(upsert).WithArgs("k", []byte("v"), now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WithArgs("k", []byte("v"), now).WillReturnError(errors.New("check violation"))

	require.NoError(t, kv.Set(context.Background(), "k", []byte("v")))
	err := kv.Set(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_RemoveClearKeys(t *testing.T) {
	t.Parallel()
	kv, mock := newMockKV(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM storage_records WHERE key = $1`)).
		WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key FROM storage_records ORDER BY key`)).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM storage_records`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectPing()

	require.NoError(t, kv.Remove(ctx, "gone"))
	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	require.NoError(t, kv.Clear(ctx))
	assert.NoError(t, kv.Ping(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteQueriesUsePositionalPlaceholders(t *testing.T) {
	t.Parallel()
	q := SQLiteQueries("records")
	assert.Equal(t, "SELECT value FROM records WHERE key = ?", q.Get)
	assert.Contains(t, q.Upsert, "excluded.value")
	assert.NotContains(t, q.Upsert, "$1")
}
