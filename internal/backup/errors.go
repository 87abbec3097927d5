package backup

import (
	"errors"
	"fmt"
	"strings"
)

// BackupError represents errors that occur during backup and restore operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeValidation     BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeDependency     BackupErrorType = "DEPENDENCY_UNAVAILABLE"
	BackupErrorTypeIntegrity      BackupErrorType = "INTEGRITY_ERROR"
	BackupErrorTypeCompliance     BackupErrorType = "COMPLIANCE_ERROR"
	BackupErrorTypeNotImplemented BackupErrorType = "NOT_IMPLEMENTED"
	BackupErrorTypePartialFailure BackupErrorType = "PARTIAL_FAILURE"
	BackupErrorTypeStorage        BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeCompression    BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption     BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeConflict       BackupErrorType = "CONFLICT_ERROR"
	BackupErrorTypeRollback       BackupErrorType = "ROLLBACK_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewDependencyError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDependency, message, cause)
}

func NewIntegrityError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeIntegrity, message, cause)
}

func NewComplianceError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompliance, message, cause)
}

// NewNotImplementedError reports an operation that is deliberately unsupported.
// The message must name the supported alternative so callers are never left
// guessing why the operation refused to run.
func NewNotImplementedError(operation, alternative string) *BackupError {
	return NewBackupError(BackupErrorTypeNotImplemented,
		fmt.Sprintf("%s is not implemented, use %s instead", operation, alternative), nil)
}

func NewPartialFailureError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypePartialFailure, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewConflictError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConflict, message, cause)
}

func NewRollbackError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRollback, message, cause)
}

// ErrorType extracts the BackupErrorType from an error chain, or "" if the
// chain contains no BackupError.
func ErrorType(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

// IsNotFound reports whether an error chain denotes a missing stored object.
// Storage backends normalize their provider-specific not-found conditions
// into this message form.
func IsNotFound(err error) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type == BackupErrorTypeStorage &&
			strings.Contains(backupErr.Message, "not found")
	}
	return false
}

// IsRetryable determines if an error is worth retrying by the caller.
// The engine itself never retries; retry policy belongs to the scheduler.
func IsRetryable(err error) bool {
	switch ErrorType(err) {
	case BackupErrorTypeDependency, BackupErrorTypeStorage:
		return true
	default:
		return false
	}
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	switch ErrorType(err) {
	case BackupErrorTypeValidation, BackupErrorTypeIntegrity,
		BackupErrorTypeCompliance, BackupErrorTypeNotImplemented:
		return true
	default:
		return false
	}
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
