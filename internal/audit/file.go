package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// FileRecorder appends entries as JSON lines to a file
type FileRecorder struct {
	logger *logrus.Logger
	file   *os.File
}

// NewFileRecorder opens path for appending, creating its directory if needed
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetLevel(logrus.InfoLevel)

	return &FileRecorder{logger: logger, file: file}, nil
}

// Record writes entry as one JSON line
func (r *FileRecorder) Record(ctx context.Context, entry Entry) error {
	entry = entry.complete()

	fields := logrus.Fields{
		"audit_id":   entry.ID,
		"action":     entry.Action,
		"resource":   entry.Resource,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
	}
	optional := map[string]string{
		"user_id":     entry.UserID,
		"actor":       entry.Actor,
		"resource_id": entry.ResourceID,
		"ip_address":  entry.IPAddress,
		"user_agent":  entry.UserAgent,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	if len(entry.Before) > 0 {
		fields["before"] = entry.Before
	}
	if len(entry.After) > 0 {
		fields["after"] = entry.After
	}
	if len(entry.Metadata) > 0 {
		fields["metadata"] = entry.Metadata
	}

	r.logger.WithContext(ctx).WithFields(fields).Info("Audit log entry")
	return nil
}

// Close closes the underlying file
func (r *FileRecorder) Close() error {
	return r.file.Close()
}
