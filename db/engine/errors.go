package engine

import "errors"

var (
	// ErrNotFound reports that a key is absent, or deleted, as of the queried
	// snapshot. It is a normal result, not a failure.
	ErrNotFound = errors.New("engine: key not found")

	// ErrConflict reports a write-write conflict detected at commit time.
	// The transaction has been aborted; the caller must rerun its whole logic
	// against a fresh transaction, not just retry the commit.
	ErrConflict = errors.New("engine: transaction conflict")

	// ErrTxnFinished reports an operation on a committed or aborted
	// transaction.
	ErrTxnFinished = errors.New("engine: transaction already finished")

	// ErrClosed reports an operation on a closed engine.
	ErrClosed = errors.New("engine: database is closed")
)
