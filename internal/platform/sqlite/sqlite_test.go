//go:build integration

package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_FileRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "indexeddb.sqlite")

	db, err := Open(ctx, path, logger)
	require.NoError(t, err)
	adapter := NewAdapter(db, nil, logger)

	require.NoError(t, adapter.Set(ctx, "b", []byte("2")))
	require.NoError(t, adapter.Set(ctx, "a", []byte("1")))
	require.NoError(t, adapter.Set(ctx, "a", []byte("one")))

	value, ok, err := adapter.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", string(value))

	keys, err := adapter.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, adapter.Remove(ctx, "a"))
	_, ok, err = adapter.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, adapter.Set(ctx, "", []byte("x")), "blank keys violate the check constraint")
	require.NoError(t, adapter.Close())

	// Data survives reopening.
	db, err = Open(ctx, path, logger)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	value, ok, err = NewAdapter(db, nil, logger).Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", string(value))
}
