package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-document reads that match nothing.
// Zero matches in a list query is an empty page, not an error.
var ErrNotFound = errors.New("docstore: document not found")

// ValidationError reports a write rejected by this layer: an empty update
// payload, a filter mixing predicate forms, or a uniqueness constraint
// that cannot be satisfied.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("docstore: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("docstore: %s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransactionError wraps a failure from a transaction callback or from the
// commit itself. The original cause is preserved for diagnostics.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("docstore: transaction failed: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
