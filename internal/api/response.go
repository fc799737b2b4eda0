package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"crm-backup/internal/backup"
	"crm-backup/internal/logging"
)

// APIResponse is the JSON envelope of every non-binary response
type APIResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Errors   []string    `json:"errors,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`

	// RecordsRestored is set on restore responses only, zero when the restore failed
	RecordsRestored *int64 `json:"recordsRestored,omitempty"`
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, logger *logging.Logger, status int, response *APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logger.Errorf("Failed to marshal JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Errorf("Failed to write JSON response: %v", err)
	}
}

// respondError sends an error response with a public message only
func respondError(w http.ResponseWriter, logger *logging.Logger, status int, message string, errs ...string) {
	respondJSON(w, logger, status, &APIResponse{
		Success: false,
		Message: message,
		Errors:  errs,
	})
}

// statusForError maps a backup error to an HTTP status
func statusForError(err error) int {
	errorType, ok := backup.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch errorType {
	case backup.BackupErrorTypeMissingKey:
		return http.StatusServiceUnavailable
	case backup.BackupErrorTypeIntegrity,
		backup.BackupErrorTypeDecryption,
		backup.BackupErrorTypeMalformed,
		backup.BackupErrorTypeCompression,
		backup.BackupErrorTypeValidation:
		return http.StatusBadRequest
	case backup.BackupErrorTypeVersion:
		return http.StatusUnprocessableEntity
	case backup.BackupErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageForError returns the caller facing summary of err
func messageForError(operation string, err error) string {
	errorType, _ := backup.TypeOf(err)
	switch errorType {
	case backup.BackupErrorTypeMissingKey:
		return "Backup encryption is not configured"
	case backup.BackupErrorTypeIntegrity:
		return "Backup file failed the integrity check"
	case backup.BackupErrorTypeDecryption:
		return "Backup file could not be decrypted with the configured key"
	case backup.BackupErrorTypeMalformed, backup.BackupErrorTypeCompression:
		return "Backup file is malformed"
	case backup.BackupErrorTypeVersion:
		return "Backup snapshot version is not supported"
	case backup.BackupErrorTypeTableRestore:
		return "Restore failed, no changes were committed"
	default:
		return operation + " failed"
	}
}
