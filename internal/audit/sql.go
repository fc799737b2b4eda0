package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
)

const insertEntryQuery = "INSERT INTO `audit_logs` " +
	"(`id`, `user_id`, `action`, `resource`, `resource_id`, `before`, `after`, `metadata`, `ip_address`, `user_agent`, `created_at`) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// SQLRecorder writes entries into the audit_logs table
type SQLRecorder struct {
	db *sql.DB
}

// NewSQLRecorder creates a recorder writing to db
func NewSQLRecorder(db *sql.DB) *SQLRecorder {
	return &SQLRecorder{db: db}
}

// Record inserts entry. user_id references users, so it is NULL unless the
// entry names a user; the free-form actor goes into metadata.
func (r *SQLRecorder) Record(ctx context.Context, entry Entry) error {
	entry = entry.complete()

	before, err := jsonColumn(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to encode audit before state: %w", err)
	}
	after, err := jsonColumn(entry.After)
	if err != nil {
		return fmt.Errorf("failed to encode audit after state: %w", err)
	}
	metadata, err := jsonColumn(entry.metadata())
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, insertEntryQuery,
		entry.ID,
		nullString(entry.UserID),
		entry.Action,
		entry.Resource,
		nullString(entry.ResourceID),
		before,
		after,
		metadata,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func jsonColumn(v map[string]interface{}) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
