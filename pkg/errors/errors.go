// Package errors provides custom error types for the ledgermap system.
// These errors enable programmatic error checking and keep the distinction
// between recoverable mapping conditions and fatal structural invariant
// violations explicit throughout the engine.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the ledgermap system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrAmbiguousKey indicates a business key resolved to more than one
	// header-grain row within a single source. Fatal for that entity's run.
	ErrAmbiguousKey = errors.New("ambiguous business key")

	// ErrFlattenMismatch indicates the flatten/aggregate round-trip invariant
	// failed. Fatal: the run must halt rather than emit possibly-wrong data.
	ErrFlattenMismatch = errors.New("flatten round-trip mismatch")

	// ErrBelowConfidence indicates a field mapping candidate scored under the
	// configured threshold. Non-fatal: recorded as absence of a mapping.
	ErrBelowConfidence = errors.New("mapping below confidence threshold")

	// ErrMissingTimestamp indicates a record carried no usable observed
	// timestamp. Non-fatal: the freshness comparator treats it as oldest.
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// AmbiguousKeyError reports a business key that matched more than one
// header-grain row within a single source. The reconciliation run for the
// affected entity aborts; silent deduplication could hide an upstream
// identity bug.
type AmbiguousKeyError struct {
	Entity string
	Source string
	Key    string
	Count  int
}

// Error implements the error interface
func (e *AmbiguousKeyError) Error() string {
	return fmt.Sprintf("ambiguous business key %q in %s source for entity %s: %d header rows",
		e.Key, e.Source, e.Entity, e.Count)
}

// Is implements errors.Is support
func (e *AmbiguousKeyError) Is(target error) bool {
	return target == ErrAmbiguousKey
}

// NewAmbiguousKeyError creates a new AmbiguousKeyError
func NewAmbiguousKeyError(entity, source, key string, count int) *AmbiguousKeyError {
	return &AmbiguousKeyError{Entity: entity, Source: source, Key: key, Count: count}
}

// FlattenMismatchError reports that re-aggregating a flattened row set did
// not reproduce the original header and line items.
type FlattenMismatchError struct {
	Key     string
	Message string
}

// Error implements the error interface
func (e *FlattenMismatchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("flatten round-trip mismatch for key %q: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("flatten round-trip mismatch: %s", e.Message)
}

// Is implements errors.Is support
func (e *FlattenMismatchError) Is(target error) bool {
	return target == ErrFlattenMismatch
}

// NewFlattenMismatchError creates a new FlattenMismatchError
func NewFlattenMismatchError(key, message string) *FlattenMismatchError {
	return &FlattenMismatchError{Key: key, Message: message}
}

// MappingError represents a failure while building or applying field mappings
type MappingError struct {
	Entity         string
	CanonicalField string
	Source         string
	Confidence     float64
	Err            error
}

// Error implements the error interface
func (e *MappingError) Error() string {
	if e.CanonicalField != "" {
		return fmt.Sprintf("mapping error for %s.%s (%s source, confidence %.2f): %v",
			e.Entity, e.CanonicalField, e.Source, e.Confidence, e.Err)
	}
	return fmt.Sprintf("mapping error for %s (%s source): %v", e.Entity, e.Source, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *MappingError) Unwrap() error {
	return e.Err
}

// NewMappingError creates a new MappingError
func NewMappingError(entity, canonicalField, source string, confidence float64, err error) *MappingError {
	return &MappingError{
		Entity:         entity,
		CanonicalField: canonicalField,
		Source:         source,
		Confidence:     confidence,
		Err:            err,
	}
}

// ParseError represents an error when parsing data formats
type ParseError struct {
	Format  string // "json", "yaml", "csv", "timestamp"
	File    string
	Line    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("parse error in %s at %s:%d: %s", e.Format, e.File, e.Line, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(format, file string, message string, err error) *ParseError {
	return &ParseError{
		Format:  format,
		File:    file,
		Message: message,
		Err:     err,
	}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// StoreError represents an error during store operations
type StoreError struct {
	Operation string // "migrate", "save", "query", "delete"
	Table     string
	Err       error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store error during %s of %s: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError
func NewStoreError(operation, table string, err error) *StoreError {
	return &StoreError{Operation: operation, Table: table, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsAmbiguousKey checks if an error is an ambiguous key error
func IsAmbiguousKey(err error) bool {
	return errors.Is(err, ErrAmbiguousKey)
}

// IsFlattenMismatch checks if an error is a flatten round-trip error
func IsFlattenMismatch(err error) bool {
	return errors.Is(err, ErrFlattenMismatch)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, file, err.Error(), err)
}

// WrapStore wraps an error as a StoreError
func WrapStore(operation, table string, err error) error {
	if err == nil {
		return nil
	}
	return NewStoreError(operation, table, err)
}
