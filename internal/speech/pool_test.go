package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	connected   atomic.Bool
	disconnects atomic.Int32
	connectErr  error
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.connected.Store(false)
	f.disconnects.Add(1)
	return nil
}

func (f *fakeClient) StartTranscription(ctx context.Context, req Request, progress ProgressFunc) (*Transcript, error) {
	if !f.connected.Load() {
		return nil, ErrNotConnected
	}
	return &Transcript{Text: "hello"}, nil
}

func (f *fakeClient) StopTranscription(ctx context.Context) error {
	return nil
}

func newTestPool(cfg PoolConfig, connectErr error) (*Pool, *[]*fakeClient) {
	var made []*fakeClient
	factory := func(ctx context.Context) (Client, error) {
		c := &fakeClient{connectErr: connectErr}
		made = append(made, c)
		return c, nil
	}
	return NewPool(cfg, factory, slog.New(slog.NewTextHandler(io.Discard, nil))), &made
}

func TestPool_ReusesHealthyClients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, made := newTestPool(PoolConfig{Size: 2, MaxIdle: 1}, nil)

	c1, release1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	tr, err := c1.StartTranscription(ctx, Request{AudioURL: "https://x/a.mp3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	release1(true)
	release1(true)

	c2, release2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	release2(false)

	assert.Len(t, *made, 1)
	assert.Equal(t, int32(1), (*made)[0].disconnects.Load())
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Discards)
	assert.Equal(t, 0, stats.InUse)
}

func TestPool_BoundsCheckouts(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(PoolConfig{Size: 1}, nil)

	_, release, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release(true)
	_, release, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	release(true)
}

func TestPool_ConnectFailureFreesSlot(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(PoolConfig{Size: 1}, errors.New("dial tcp: refused"))

	_, _, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, 0, pool.Stats().InUse)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = pool.Acquire(ctx)
	assert.NotErrorIs(t, err, context.DeadlineExceeded, "slot released after connect failure")
}

func TestPool_Stop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, made := newTestPool(PoolConfig{Size: 2, MaxIdle: 2}, nil)

	_, release, err := pool.Acquire(ctx)
	require.NoError(t, err)
	release(true)

	require.NoError(t, pool.Stop(ctx))
	assert.False(t, (*made)[0].connected.Load())
	assert.ErrorIs(t, pool.HealthCheck(ctx), ErrPoolClosed)

	_, _, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
