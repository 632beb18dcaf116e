package service

import (
	"errors"
	"fmt"

	"casedraft-backend/repository"
)

var (
	ErrValidation        = errors.New("invalid event")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrStalledCase       = errors.New("case is stalled")
	ErrCaseClosed        = errors.New("case is closed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCaseNotFound      = errors.New("case not found")
	ErrDraftNotFound     = errors.New("draft not found")

	// ErrVersionConflict is the store's conflict error, surfaced when the
	// bounded retry gives up
	ErrVersionConflict = repository.ErrVersionConflict
)

// ValidationError describes a malformed event. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
