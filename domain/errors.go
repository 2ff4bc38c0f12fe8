package domain

import (
	"fmt"
	"strings"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Entity not found")
	ErrLockConflict = NewDomainError("LOCK_CONFLICT", "Entity was modified by another writer")
	ErrUnknownField = NewDomainError("UNKNOWN_FIELD", "Field is not declared on the schema")
	ErrImmutableID  = NewDomainError("IMMUTABLE_ID", "Entity ID cannot be changed once assigned")
	ErrPartialWrite = NewDomainError("PARTIAL_WRITE", "A partial entity cannot be saved")
)

// NotLoadedError is returned when accessing a field that was never fetched:
// any field other than entity_id on a partial entity, or a many-to-many
// collection that has not been populated.
type NotLoadedError struct {
	Entity  string
	Field   string
	Partial bool
}

// Error implements the error interface
func (e *NotLoadedError) Error() string {
	if e.Partial {
		return fmt.Sprintf(
			"%s is a partial entity; only entity_id is available, accessed: %s",
			e.Entity, e.Field)
	}
	return fmt.Sprintf(
		"%s.%s is a many-to-many collection that has not been loaded",
		e.Entity, e.Field)
}

// FieldError describes a single field-level validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every field-level problem found during a
// validation pass. A save either applies fully or fails with the full list.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Entity, strings.Join(parts, "; "))
}

// AdapterError wraps a backend error with enough context to diagnose it
// without leaking backend-specific error types into application code.
type AdapterError struct {
	Table string
	Op    string
	Err   error
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s on table %q failed: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying backend error
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError wraps err with the table and operation it came from
func NewAdapterError(table, op string, err error) *AdapterError {
	return &AdapterError{Table: table, Op: op, Err: err}
}
