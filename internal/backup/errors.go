package backup

import (
	"errors"
	"fmt"
)

// BackupError represents errors that occur during backup and restore operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Table   string                 `json:"table,omitempty"`
	Phase   string                 `json:"phase,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	msg := e.Message
	if e.Table != "" {
		if e.Phase != "" {
			msg = fmt.Sprintf("%s (table %s, %s phase)", msg, e.Table, e.Phase)
		} else {
			msg = fmt.Sprintf("%s (table %s)", msg, e.Table)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeMissingKey    BackupErrorType = "MISSING_KEY"
	BackupErrorTypeIntegrity     BackupErrorType = "INTEGRITY_ERROR"
	BackupErrorTypeDecryption    BackupErrorType = "DECRYPTION_ERROR"
	BackupErrorTypeMalformed     BackupErrorType = "MALFORMED_ARTIFACT"
	BackupErrorTypeVersion       BackupErrorType = "VERSION_MISMATCH"
	BackupErrorTypeTableRestore  BackupErrorType = "TABLE_RESTORE_ERROR"
	BackupErrorTypeSnapshotRead  BackupErrorType = "SNAPSHOT_READ_ERROR"
	BackupErrorTypeStorage       BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeConfiguration BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeValidation    BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression   BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeNotFound      BackupErrorType = "NOT_FOUND_ERROR"
)

// Restore phases reported by TableRestoreError
const (
	PhaseDelete = "delete"
	PhaseDecode = "decode"
	PhaseInsert = "insert"
	PhaseCommit = "commit"
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

const missingKeyMessage = "backup encryption key is not configured"

// Common error constructors

// NewMissingKeyError is returned whenever an operation needs the encryption key and none was supplied
func NewMissingKeyError() *BackupError {
	return NewBackupError(BackupErrorTypeMissingKey, missingKeyMessage, nil)
}

func NewIntegrityError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeIntegrity, message, cause)
}

func NewDecryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDecryption, message, cause)
}

func NewMalformedArtifactError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeMalformed, message, cause)
}

func NewVersionMismatchError(got, want string) *BackupError {
	return NewBackupError(BackupErrorTypeVersion,
		fmt.Sprintf("snapshot version %q does not match expected version %q", got, want), nil).
		WithContext("snapshot_version", got).
		WithContext("expected_version", want)
}

// NewTableRestoreError tags a failure with the table and phase being processed
func NewTableRestoreError(table, phase string, cause error) *BackupError {
	err := NewBackupError(BackupErrorTypeTableRestore, "failed to restore table", cause)
	err.Table = table
	err.Phase = phase
	return err
}

func NewSnapshotReadError(table string, cause error) *BackupError {
	err := NewBackupError(BackupErrorTypeSnapshotRead, "failed to read table", cause)
	err.Table = table
	return err
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

// IsType reports whether err, or any error it wraps, is a BackupError of the given type
func IsType(err error, errorType BackupErrorType) bool {
	var backupErr *BackupError
	for err != nil {
		if !errors.As(err, &backupErr) {
			return false
		}
		if backupErr.Type == errorType {
			return true
		}
		err = backupErr.Cause
	}
	return false
}

// TypeOf returns the type of the outermost BackupError in err's chain
func TypeOf(err error) (BackupErrorType, bool) {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type, true
	}
	return "", false
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
