package backup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"crm-backup/internal/logging"
	"crm-backup/internal/schema"
)

// Store opens the single transaction a restore runs in
type Store interface {
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx is the mutation surface used by the restore orchestrator.
// Nothing is visible to other readers until Commit.
type StoreTx interface {
	DeleteAll(ctx context.Context, table *schema.Table) (int64, error)
	InsertRows(ctx context.Context, table *schema.Table, records []schema.Record) (int64, error)
	Commit() error
	Rollback() error
}

// TableSource is the read surface used by the snapshot reader
type TableSource interface {
	ReadPage(ctx context.Context, table *schema.Table, offset, limit int) ([]Row, error)
}

// SQLStore implements Store and TableSource on a MySQL database
type SQLStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLStore wraps an open database handle
func NewSQLStore(db *sql.DB, logger *logging.Logger) *SQLStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SQLStore{db: db, logger: logger}
}

// Begin starts the restore transaction
func (s *SQLStore) Begin(ctx context.Context) (StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, logger: s.logger}, nil
}

// ReadPage reads one page of a table ordered by its key.
// Values are converted to forms that survive a JSON round trip.
func (s *SQLStore) ReadPage(ctx context.Context, table *schema.Table, offset, limit int) ([]Row, error) {
	query := buildSelectQuery(table)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		s.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, fmt.Errorf("failed to query %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []Row
	values := make([]interface{}, len(table.Columns))
	ptrs := make([]interface{}, len(table.Columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table.Name, err)
		}
		row := make(Row, len(table.Columns))
		for i, c := range table.Columns {
			row[c.Field] = snapshotValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table.Name, err)
	}

	s.logger.LogSQLExecution(query, time.Since(start), int64(len(out)), nil)
	return out, nil
}

// snapshotValue converts a driver value into its snapshot representation
func snapshotValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	default:
		return value
	}
}

type sqlTx struct {
	tx     *sql.Tx
	logger *logging.Logger
}

// DeleteAll removes every row of a table.
// Self references are cleared first so rows can be deleted in any order.
func (t *sqlTx) DeleteAll(ctx context.Context, table *schema.Table) (int64, error) {
	if table.SelfRef != "" {
		if col, ok := table.Column(table.SelfRef); ok {
			update := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s IS NOT NULL",
				quoteIdent(table.Name), quoteIdent(col.Name), quoteIdent(col.Name))
			if _, err := t.exec(ctx, update); err != nil {
				return 0, err
			}
		}
	}

	return t.exec(ctx, "DELETE FROM "+quoteIdent(table.Name))
}

// InsertRows writes all records with one multi-row INSERT
func (t *sqlTx) InsertRows(ctx context.Context, table *schema.Table, records []schema.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := buildInsertQuery(table, len(records))
	args := make([]interface{}, 0, len(records)*len(table.Columns))
	for _, r := range records {
		if len(r) != len(table.Columns) {
			return 0, fmt.Errorf("record has %d values, table %s has %d columns", len(r), table.Name, len(table.Columns))
		}
		args = append(args, r...)
	}

	return t.exec(ctx, query, args...)
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	start := time.Now()
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		t.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	t.logger.LogSQLExecution(query, time.Since(start), affected, nil)
	return affected, nil
}

func buildSelectQuery(table *schema.Table) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	keys := table.KeyColumns()
	for i, k := range keys {
		keys[i] = quoteIdent(k)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		strings.Join(cols, ", "), quoteIdent(table.Name), strings.Join(keys, ", "))
}

func buildInsertQuery(table *schema.Table, rowCount int) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = quoteIdent(c.Name)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
	}
	return b.String()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
