package storage

import "errors"

// Common errors returned by the storage package
var (
	ErrNotFound              = errors.New("key not found")
	ErrAllLayersFailed       = errors.New("operation failed on every layer")
	ErrUnknownLayer          = errors.New("unknown storage layer")
	ErrLayerNotRegistered    = errors.New("storage layer not registered")
	ErrNoLayers              = errors.New("no enabled storage layers")
	ErrCorruptRecord         = errors.New("corrupt storage record")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionNotPending = errors.New("transaction is not pending")
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrTransactionTimedOut   = errors.New("transaction timed out")
	ErrInvalidOperation      = errors.New("invalid transaction operation")
)
