//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/platform/postgres"
	"github.com/phrazzld/meetscribe/internal/store"
	"github.com/phrazzld/meetscribe/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Integration(t *testing.T) {
	db := testdb.GetTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := postgres.NewAdapter(db, clockwork.NewFakeClock(), logger)

	require.NoError(t, kv.Ping(ctx))
	require.NoError(t, kv.Set(ctx, "job:b", []byte(`{"n":1}`)))
	require.NoError(t, kv.Set(ctx, "job:a", []byte(`{"n":2}`)))
	require.NoError(t, kv.Set(ctx, "job:b", []byte(`{"n":3}`)))

	value, ok, err := kv.Get(ctx, "job:b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"n":3}`, string(value))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:a", "job:b"}, keys)

	require.NoError(t, kv.Remove(ctx, "job:a"))
	_, ok, err = kv.Get(ctx, "job:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Clear(ctx))
	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAdapter_IntegrationBlankKeyRejected(t *testing.T) {
	db := testdb.GetTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	testdb.WithTx(t, db, func(tx *sql.Tx) {
		kv := store.NewKV(tx, store.PostgresQueries(postgres.TableName), logger,
			store.WithErrorMapper(postgres.MapError))
		err := kv.Set(context.Background(), "", []byte("x"))
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}
