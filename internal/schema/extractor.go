package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LiveColumns maps each table of the connected database to its column names
type LiveColumns map[string]map[string]bool

// Extractor reads the live table layout from INFORMATION_SCHEMA
type Extractor struct {
	queryTimeout time.Duration
}

// NewExtractor creates a new schema extractor
func NewExtractor() *Extractor {
	return &Extractor{
		queryTimeout: 30 * time.Second,
	}
}

// NewExtractorWithTimeout creates a new schema extractor with custom timeout
func NewExtractorWithTimeout(timeout time.Duration) *Extractor {
	return &Extractor{
		queryTimeout: timeout,
	}
}

// ExtractColumns returns the base-table columns of the current database
func (e *Extractor) ExtractColumns(ctx context.Context, db *sql.DB) (LiveColumns, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := `
		SELECT c.TABLE_NAME, c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
			ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE c.TABLE_SCHEMA = DATABASE() AND t.TABLE_TYPE = 'BASE TABLE'
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	live := make(LiveColumns)
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("failed to scan column data: %w", err)
		}
		if live[tableName] == nil {
			live[tableName] = make(map[string]bool)
		}
		live[tableName][columnName] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}

	return live, nil
}

// Drift lists governed tables and columns that the live database lacks
type Drift struct {
	MissingTables  []string            `json:"missing_tables,omitempty"`
	MissingColumns map[string][]string `json:"missing_columns,omitempty"`
}

// IsEmpty reports whether the live database has every governed column
func (d *Drift) IsEmpty() bool {
	return d == nil || (len(d.MissingTables) == 0 && len(d.MissingColumns) == 0)
}

// String summarizes the drift on one line
func (d *Drift) String() string {
	if d.IsEmpty() {
		return "no drift"
	}

	var parts []string
	if len(d.MissingTables) > 0 {
		parts = append(parts, "missing tables: "+strings.Join(d.MissingTables, ", "))
	}

	tables := make([]string, 0, len(d.MissingColumns))
	for name := range d.MissingColumns {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		parts = append(parts, fmt.Sprintf("%s missing columns: %s", name, strings.Join(d.MissingColumns[name], ", ")))
	}
	return strings.Join(parts, "; ")
}

// Compare checks every governed table and column against live.
// Extra live tables and columns are not drift.
func (r *Registry) Compare(live LiveColumns) *Drift {
	drift := &Drift{}
	for _, table := range r.InsertionOrder() {
		cols, ok := live[table.Name]
		if !ok {
			drift.MissingTables = append(drift.MissingTables, table.Name)
			continue
		}
		for _, name := range table.ColumnNames() {
			if cols[name] {
				continue
			}
			if drift.MissingColumns == nil {
				drift.MissingColumns = make(map[string][]string)
			}
			drift.MissingColumns[table.Name] = append(drift.MissingColumns[table.Name], name)
		}
	}
	sort.Strings(drift.MissingTables)
	return drift
}
