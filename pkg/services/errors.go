// Package services provides the business operations behind the HTTP API.
package services

import (
	"errors"

	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

// ErrInvalidRequest marks client errors that should map to HTTP 400.
var ErrInvalidRequest = errors.New("invalid request")

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		workflow.IsInvalidInput(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsInstanceNotFound(err) ||
		persistence.IsProductNotFound(err) ||
		persistence.IsScoreNotFound(err)
}
