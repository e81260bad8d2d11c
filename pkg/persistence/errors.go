// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrProductNotFound indicates no product record exists for the given UUID.
	ErrProductNotFound = errors.New("product not found")

	// ErrScoreNotFound indicates no aggregated score exists for the given UUID.
	ErrScoreNotFound = errors.New("score not found")

	// ErrSequenceConflict indicates an append reused a sequence number already
	// present in the instance's history.
	ErrSequenceConflict = errors.New("history sequence number already used")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g., "AppendEvents", "SaveInstance")
	Key string // Instance ID, product UUID, or other key if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{
		Op:  op,
		Key: key,
		Err: err,
	}
}

// IsInstanceNotFound checks if an error indicates a workflow instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsProductNotFound checks if an error indicates a product record was not found.
func IsProductNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}

// IsScoreNotFound checks if an error indicates an aggregated score was not found.
func IsScoreNotFound(err error) bool {
	return errors.Is(err, ErrScoreNotFound)
}

// IsSequenceConflict checks if an error indicates a history append conflict.
func IsSequenceConflict(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}
