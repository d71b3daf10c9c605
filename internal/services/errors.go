package services

import "fmt"

// Internal error taxonomy. Handlers map these to HTTP statuses; every
// other error is treated as a 500.

type NotFoundError struct {
	Entity string
	Id     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.Id)
}

func NewNotFoundError(entity string, id interface{}) *NotFoundError {
	return &NotFoundError{Entity: entity, Id: id}
}

// BusinessLogicError is a rule violation on an otherwise valid request,
// e.g. an illegal channel state transition or a non-redeemable reward.
type BusinessLogicError struct {
	Message string
}

func (e *BusinessLogicError) Error() string {
	return e.Message
}

func NewBusinessLogicError(format string, args ...interface{}) *BusinessLogicError {
	return &BusinessLogicError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError is malformed or missing input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError signals an optimistic-concurrency version mismatch on a
// channel transition. The caller should reload and retry.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
