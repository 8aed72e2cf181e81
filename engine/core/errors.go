package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoRollbackAvailable = errors.New("no rollback available")
	ErrInvalidInput        = errors.New("invalid input")
)

// NotFoundError reports a missing record identified by Kind and Key.
type NotFoundError struct {
	Kind string
	Key  string
}

func NewNotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NoRollbackAvailableError is returned when an applied migration stored no rollback statement.
type NoRollbackAvailableError struct {
	Name string
}

func (e *NoRollbackAvailableError) Error() string {
	return fmt.Sprintf("migration %q has no rollback statement", e.Name)
}

func (e *NoRollbackAvailableError) Is(target error) bool {
	return target == ErrNoRollbackAvailable
}

type InvalidInputError struct {
	Field  string
	Reason string
}

func NewInvalidInput(field, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: reason}
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}
