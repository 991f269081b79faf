// Package undo implements the compensating-undo engine over the operation log.
package undo

import (
	"errors"
	"fmt"
)

var (
	// ErrLimitExceeded rejects an undo once the consecutive-undo cap is
	// reached for the actor/scope without an intervening new mutation.
	ErrLimitExceeded = errors.New("consecutive undo limit exceeded")

	// ErrNothingToUndo means no eligible non-undone record exists in scope.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// ValidationError rejects a request before any record is touched. It never
// enters the log.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// StorageError wraps a persistence failure. It aborts the current single
// operation; during batch restore it aborts only the item at hand.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// UndoError is a strategy-specific compensation failure, e.g. the referenced
// order no longer exists. Per-item; never aborts a batch.
type UndoError struct {
	RecordID string
	Reason   string
	Err      error
}

func (e *UndoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("undo %s: %s: %v", e.RecordID, e.Reason, e.Err)
	}
	return fmt.Sprintf("undo %s: %s", e.RecordID, e.Reason)
}

func (e *UndoError) Unwrap() error { return e.Err }
