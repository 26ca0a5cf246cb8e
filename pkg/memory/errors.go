package memory

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when an entry or collection is not found
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidDimension is returned when vector dimension doesn't match the collection
	ErrInvalidDimension = errors.New("invalid vector dimension")

	// ErrTimeout is returned when an operation exceeds its deadline
	ErrTimeout = errors.New("operation timed out")
)

// SchemaError reports a record that failed validation: a missing required
// field, a type mismatch, or a vector of the wrong length.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

// EmbeddingError reports a failure of the embedding provider, including a
// returned vector of the wrong dimension.
type EmbeddingError struct {
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("embedding: %s", e.Reason)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// QueryError reports malformed or ambiguous query and prune arguments.
type QueryError struct {
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("query: %s", e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// StorageError wraps a table engine failure.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// OpError wraps errors with operation and collection context.
type OpError struct {
	Op         string // Operation name
	Collection string // Collection name, if any
	Err        error  // Underlying error
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("agentmem: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("agentmem: %s: collection %q: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying error
func (e *OpError) Unwrap() error { return e.Err }

// Is checks if the error matches the target
func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapOp wraps an error with operation context, mapping context deadline
// expiry to ErrTimeout so callers see one timeout condition.
func wrapOp(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return &OpError{Op: op, Collection: collection, Err: err}
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Err: err}
}
