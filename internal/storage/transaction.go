package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IsolationLevel is recorded on a transaction. Transactions are not
// coordinated with each other, so the level is informational.
type IsolationLevel string

// Isolation levels
const (
	ReadUncommitted IsolationLevel = "read_uncommitted"
	ReadCommitted   IsolationLevel = "read_committed"
	RepeatableRead  IsolationLevel = "repeatable_read"
	Serializable    IsolationLevel = "serializable"
)

// TxStatus is the state of a transaction.
type TxStatus string

// Transaction statuses
const (
	TxPending   TxStatus = "pending"
	TxCommitted TxStatus = "committed"
	TxAborted   TxStatus = "aborted"
	TxFailed    TxStatus = "failed"
)

// OperationType is the kind of a transaction operation.
type OperationType string

// Operation types
const (
	OpWrite  OperationType = "write"
	OpDelete OperationType = "delete"
)

// OperationStatus is the state of one operation.
type OperationStatus string

// Operation statuses
const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusCompleted  OperationStatus = "completed"
	OpStatusFailed     OperationStatus = "failed"
	OpStatusRolledBack OperationStatus = "rolled_back"
)

// TransactionOptions configure BeginTransaction.
type TransactionOptions struct {
	Isolation IsolationLevel
	// Timeout defaults to the coordinator's TransactionTimeout.
	Timeout time.Duration
	// RollbackOnFailure defaults to true.
	RollbackOnFailure *bool
}

// OperationRequest is one queued operation.
type OperationRequest struct {
	Type  OperationType
	Layer Layer
	Key   string
	// Data is the value for writes; it is wrapped in a Record at commit.
	Data any
}

// Operation is a queued or executed operation.
type Operation struct {
	Type   OperationType   `json:"type"`
	Layer  Layer           `json:"layer"`
	Key    string          `json:"key"`
	Status OperationStatus `json:"status"`
	Error  string          `json:"error,omitempty"`

	data     any
	prior    []byte
	hadPrior bool
}

// Transaction is a point-in-time copy of a transaction record.
type Transaction struct {
	ID                string         `json:"id"`
	Isolation         IsolationLevel `json:"isolation_level"`
	Operations        []Operation    `json:"operations"`
	Status            TxStatus       `json:"status"`
	Timeout           time.Duration  `json:"timeout"`
	RollbackOnFailure bool           `json:"rollback_on_failure"`
	CreatedAt         time.Time      `json:"created_at"`
	FinishedAt        time.Time      `json:"finished_at,omitempty"`
	Error             string         `json:"error,omitempty"`

	committing bool
	timedOut   bool
	timer      clockwork.Timer
}

// BeginTransaction creates a pending transaction and arms its timeout.
func (c *Coordinator) BeginTransaction(opts TransactionOptions) string {
	if opts.Isolation == "" {
		opts.Isolation = ReadCommitted
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.cfg.TransactionTimeout
	}
	rollback := true
	if opts.RollbackOnFailure != nil {
		rollback = *opts.RollbackOnFailure
	}

	tx := &Transaction{
		ID:                uuid.NewString(),
		Isolation:         opts.Isolation,
		Status:            TxPending,
		Timeout:           opts.Timeout,
		RollbackOnFailure: rollback,
		CreatedAt:         c.clock.Now(),
	}
	id := tx.ID

	// Register before arming so an immediate expiry finds the transaction.
	c.txMu.Lock()
	c.transactions[id] = tx
	tx.timer = c.clock.AfterFunc(opts.Timeout, func() { c.expire(id) })
	c.txMu.Unlock()

	c.logger.Debug("transaction started",
		"transaction_id", id,
		"isolation_level", opts.Isolation,
		"timeout", opts.Timeout)
	return id
}

// AddOperation appends an operation to a pending transaction without running it.
func (c *Coordinator) AddOperation(txID string, req OperationRequest) error {
	if req.Type != OpWrite && req.Type != OpDelete {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, req.Type)
	}
	if req.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidOperation)
	}
	if _, ok := c.layer(req.Layer); !ok {
		return fmt.Errorf("%w: %s", ErrLayerNotRegistered, req.Layer)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()
	tx, ok := c.transactions[txID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if tx.Status != TxPending || tx.committing {
		return fmt.Errorf("%w: %s is %s", ErrTransactionNotPending, txID, tx.Status)
	}
	tx.Operations = append(tx.Operations, Operation{
		Type:   req.Type,
		Layer:  req.Layer,
		Key:    req.Key,
		Status: OpStatusPending,
		data:   req.Data,
	})
	return nil
}

// CommitTransaction runs the operations in insertion order. Each operation
// first snapshots the key's current value in its layer. When an operation
// fails, or the timeout passes mid-commit, completed operations are undone in
// reverse order by restoring their snapshot (or deleting the key if it had
// none), provided RollbackOnFailure is set.
func (c *Coordinator) CommitTransaction(ctx context.Context, txID string) (err error) {
	ctx, span := c.tracer.Start(ctx, "storage.CommitTransaction",
		trace.WithAttributes(attribute.String("storage.transaction_id", txID)))
	defer func() { endSpan(span, err) }()

	c.txMu.Lock()
	tx, ok := c.transactions[txID]
	if !ok {
		c.txMu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if tx.Status != TxPending || tx.committing {
		c.txMu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTransactionNotPending, txID, tx.Status)
	}
	tx.committing = true
	ops := tx.Operations
	c.txMu.Unlock()

	span.SetAttributes(attribute.Int("storage.operations", len(ops)))

	var failure error
	done := 0
	for i := range ops {
		if c.isTimedOut(txID) {
			failure = ErrTransactionTimedOut
			break
		}
		prior, hadPrior, opErr := c.apply(ctx, ops[i])
		c.txMu.Lock()
		ops[i].prior, ops[i].hadPrior = prior, hadPrior
		c.txMu.Unlock()
		if opErr != nil {
			c.txMu.Lock()
			ops[i].Status = OpStatusFailed
			ops[i].Error = opErr.Error()
			c.txMu.Unlock()
			failure = fmt.Errorf("operation %d (%s %s on %s): %w", i, ops[i].Type, ops[i].Key, ops[i].Layer, opErr)
			break
		}
		c.txMu.Lock()
		ops[i].Status = OpStatusCompleted
		c.txMu.Unlock()
		done++
	}

	c.txMu.Lock()
	if tx.timer != nil {
		tx.timer.Stop()
	}
	rollback := tx.RollbackOnFailure
	c.txMu.Unlock()

	if failure == nil {
		c.finish(tx, TxCommitted, "")
		c.logger.Debug("transaction committed",
			"transaction_id", txID,
			"operations", len(ops))
		return nil
	}

	if rollback {
		c.rollback(ctx, tx, ops[:done])
	}
	status := TxFailed
	if errors.Is(failure, ErrTransactionTimedOut) {
		status = TxAborted
	}
	c.finish(tx, status, failure.Error())
	c.logger.Warn("transaction failed",
		"transaction_id", txID,
		"status", status,
		"rolled_back", rollback,
		"error", failure)
	return fmt.Errorf("%w: %w", ErrTransactionFailed, failure)
}

// AbortTransaction discards a pending transaction. Operations are never run
// before commit, so there is nothing to undo.
func (c *Coordinator) AbortTransaction(ctx context.Context, txID string) error {
	c.txMu.Lock()
	tx, ok := c.transactions[txID]
	if !ok {
		c.txMu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if tx.Status != TxPending || tx.committing {
		c.txMu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTransactionNotPending, txID, tx.Status)
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	c.finishLocked(tx, TxAborted, "aborted")
	c.txMu.Unlock()

	c.logger.Debug("transaction aborted", "transaction_id", txID)
	return nil
}

// GetTransaction returns a copy of the transaction record.
func (c *Coordinator) GetTransaction(txID string) (Transaction, bool) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	tx, ok := c.transactions[txID]
	if !ok {
		return Transaction{}, false
	}
	out := *tx
	out.Operations = append([]Operation(nil), tx.Operations...)
	out.timer = nil
	return out, true
}

// expire is the timeout callback. A pending transaction is aborted; one that
// is committing is flagged so the commit stops and rolls back.
func (c *Coordinator) expire(txID string) {
	c.txMu.Lock()
	tx, ok := c.transactions[txID]
	if !ok || tx.Status != TxPending {
		c.txMu.Unlock()
		return
	}
	if tx.committing {
		tx.timedOut = true
		c.txMu.Unlock()
		return
	}
	c.finishLocked(tx, TxAborted, ErrTransactionTimedOut.Error())
	c.txMu.Unlock()

	c.logger.Warn("transaction timed out", "transaction_id", txID, "timeout", tx.Timeout)
}

func (c *Coordinator) isTimedOut(txID string) bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	tx, ok := c.transactions[txID]
	return ok && tx.timedOut
}

func (c *Coordinator) finish(tx *Transaction, status TxStatus, msg string) {
	c.txMu.Lock()
	c.finishLocked(tx, status, msg)
	c.txMu.Unlock()
}

func (c *Coordinator) finishLocked(tx *Transaction, status TxStatus, msg string) {
	tx.committing = false
	tx.Status = status
	tx.Error = msg
	tx.FinishedAt = c.clock.Now()
}

// apply snapshots the key in the operation's layer and then runs the
// operation, returning the snapshot.
func (c *Coordinator) apply(ctx context.Context, op Operation) ([]byte, bool, error) {
	reg, ok := c.layer(op.Layer)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrLayerNotRegistered, op.Layer)
	}

	prior, found, err := reg.adapter.Get(ctx, op.Key)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: %w", err)
	}

	switch op.Type {
	case OpWrite:
		rec, err := newRecord(op.data, c.clock.Now())
		if err != nil {
			return prior, found, err
		}
		raw, err := EncodeRecord(rec)
		if err != nil {
			return prior, found, err
		}
		return prior, found, c.setOn(ctx, reg, op.Key, raw, reg.config.TTL)
	case OpDelete:
		return prior, found, reg.adapter.Remove(ctx, op.Key)
	default:
		return prior, found, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
}

// rollback undoes completed operations in reverse order. Failures are logged
// and do not stop the remaining compensations.
func (c *Coordinator) rollback(ctx context.Context, tx *Transaction, completed []Operation) {
	for i := len(completed) - 1; i >= 0; i-- {
		op := &completed[i]
		reg, ok := c.layer(op.Layer)
		if !ok {
			continue
		}
		var err error
		switch {
		case op.hadPrior:
			err = reg.adapter.Set(ctx, op.Key, op.prior)
		case op.Type == OpWrite:
			err = reg.adapter.Remove(ctx, op.Key)
		}
		if err != nil {
			c.logger.Error("rollback operation failed",
				"transaction_id", tx.ID,
				"layer", op.Layer,
				"key", op.Key,
				"error", err)
			continue
		}
		c.txMu.Lock()
		op.Status = OpStatusRolledBack
		c.txMu.Unlock()
	}
}
