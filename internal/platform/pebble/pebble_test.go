package pebble

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/phrazzld/meetscribe/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ storage.Adapter   = (*Adapter)(nil)
	_ storage.KeyLister = (*Adapter)(nil)
	_ storage.Closer    = (*Adapter)(nil)
)

func openMem(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(Options{Path: "/local", FS: vfs.NewMem()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := openMem(t)

	_, ok, err := a.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Set(ctx, "job:2", []byte(`{"id":"2"}`)))
	require.NoError(t, a.Set(ctx, "job:1", []byte(`{"id":"1"}`)))

	value, ok, err := a.Get(ctx, "job:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"1"}`, string(value))

	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:1", "job:2"}, keys)

	require.NoError(t, a.Remove(ctx, "job:1"))
	_, ok, err = a.Get(ctx, "job:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_ClearLeavesOtherKeys(t *testing.T) {
	ctx := context.Background()
	a := openMem(t)

	require.NoError(t, a.Set(ctx, "a", []byte("1")))
	require.NoError(t, a.Set(ctx, "b", []byte("2")))
	require.NoError(t, a.db.Set([]byte("meta/version"), []byte("1"), nil))

	require.NoError(t, a.Clear(ctx))

	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	val, closer, err := a.db.Get([]byte("meta/version"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(val))
	require.NoError(t, closer.Close())
}
