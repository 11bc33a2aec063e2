package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_RollbackOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStack(t)
	s.sync.failKeys["C"] = true

	txID := s.coord.BeginTransaction(TransactionOptions{})
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerLocal, Key: "A", Data: 1}))
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerLocal, Key: "B", Data: 2}))
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSync, Key: "C", Data: 3}))

	_, ok, _ := s.local.Get(ctx, "A")
	require.False(t, ok, "operations do not run before commit")

	err := s.coord.CommitTransaction(ctx, txID)
	require.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, errLayerDown)

	for _, key := range []string{"A", "B"} {
		_, ok, _ := s.local.Get(ctx, key)
		assert.False(t, ok, key)
	}

	tx, ok := s.coord.GetTransaction(txID)
	require.True(t, ok)
	assert.Equal(t, TxFailed, tx.Status)
	assert.Equal(t, []OperationStatus{OpStatusRolledBack, OpStatusRolledBack, OpStatusFailed}, []OperationStatus{
		tx.Operations[0].Status, tx.Operations[1].Status, tx.Operations[2].Status,
	})
}

func TestTransaction_RollbackRestoresSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStack(t)
	s.sync.failKeys["boom"] = true

	seed(t, s.local, "profile", "v1", s.clock.Now())
	seed(t, s.local, "token", "secret", s.clock.Now())

	txID := s.coord.BeginTransaction(TransactionOptions{Isolation: Serializable})
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerLocal, Key: "profile", Data: "v2"}))
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpDelete, Layer: LayerLocal, Key: "token"}))
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSync, Key: "boom", Data: 0}))

	require.Error(t, s.coord.CommitTransaction(ctx, txID))

	res, err := s.coord.Read(ctx, "profile", ReadOptions{Layers: []Layer{LayerLocal}})
	require.NoError(t, err)
	assert.JSONEq(t, `"v1"`, string(res.Data))
	res, err = s.coord.Read(ctx, "token", ReadOptions{Layers: []Layer{LayerLocal}})
	require.NoError(t, err, "deleted key restored from its snapshot")
	assert.JSONEq(t, `"secret"`, string(res.Data))

	tx, _ := s.coord.GetTransaction(txID)
	assert.Equal(t, Serializable, tx.Isolation)
}

func TestTransaction_NoRollbackWhenDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStack(t)
	s.sync.failKeys["C"] = true

	off := false
	txID := s.coord.BeginTransaction(TransactionOptions{RollbackOnFailure: &off})
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerLocal, Key: "A", Data: 1}))
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSync, Key: "C", Data: 3}))

	require.Error(t, s.coord.CommitTransaction(ctx, txID))
	_, ok, _ := s.local.Get(ctx, "A")
	assert.True(t, ok)
	tx, _ := s.coord.GetTransaction(txID)
	assert.Equal(t, TxFailed, tx.Status)
}

func TestTransaction_CommitAndStateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStack(t)

	txID := s.coord.BeginTransaction(TransactionOptions{})
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSession, Key: "k", Data: "v"}))
	require.NoError(t, s.coord.CommitTransaction(ctx, txID))

	tx, ok := s.coord.GetTransaction(txID)
	require.True(t, ok)
	assert.Equal(t, TxCommitted, tx.Status)
	assert.Equal(t, OpStatusCompleted, tx.Operations[0].Status)

	assert.ErrorIs(t, s.coord.CommitTransaction(ctx, txID), ErrTransactionNotPending)
	assert.ErrorIs(t, s.coord.AbortTransaction(ctx, txID), ErrTransactionNotPending)
	assert.ErrorIs(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSession, Key: "x"}), ErrTransactionNotPending)
	assert.ErrorIs(t, s.coord.CommitTransaction(ctx, "nope"), ErrTransactionNotFound)

	other := s.coord.BeginTransaction(TransactionOptions{})
	assert.ErrorIs(t, s.coord.AddOperation(other, OperationRequest{Type: "merge", Layer: LayerSession, Key: "k"}), ErrInvalidOperation)
	assert.ErrorIs(t, s.coord.AddOperation(other, OperationRequest{Type: OpWrite, Layer: LayerSession}), ErrInvalidOperation)
	assert.ErrorIs(t, s.coord.AddOperation(other, OperationRequest{Type: OpWrite, Layer: LayerIndexedDB, Key: "k"}), ErrLayerNotRegistered)

	require.NoError(t, s.coord.AbortTransaction(ctx, other))
	tx, _ = s.coord.GetTransaction(other)
	assert.Equal(t, TxAborted, tx.Status)
}

func TestTransaction_TimeoutAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStack(t)

	txID := s.coord.BeginTransaction(TransactionOptions{Timeout: time.Second})
	require.NoError(t, s.coord.AddOperation(txID, OperationRequest{Type: OpWrite, Layer: LayerSession, Key: "k", Data: "v"}))

	s.clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		tx, _ := s.coord.GetTransaction(txID)
		return tx.Status == TxAborted
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, s.coord.CommitTransaction(ctx, txID), ErrTransactionNotPending)
	_, ok, _ := s.session.Get(ctx, "k")
	assert.False(t, ok)

	s.clock.Advance(time.Minute)
	s.coord.Sweep()
	_, ok = s.coord.GetTransaction(txID)
	assert.False(t, ok, "finished transactions are forgotten after the timeout window")
}

func TestTransaction_ImmediateTimeoutAborts(t *testing.T) {
	t.Parallel()
	coord := NewCoordinator(DefaultConfig(), clockwork.NewRealClock(), testLogger())

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = coord.BeginTransaction(TransactionOptions{Timeout: time.Nanosecond})
	}
	for _, id := range ids {
		assert.Eventually(t, func() bool {
			tx, ok := coord.GetTransaction(id)
			return ok && tx.Status == TxAborted
		}, time.Second, time.Millisecond, "transaction %s never expired", id)
	}
}
