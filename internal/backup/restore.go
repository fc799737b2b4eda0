package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"crm-backup/internal/logging"
	"crm-backup/internal/schema"
)

const (
	// DefaultBatchSize is the number of rows per INSERT statement
	DefaultBatchSize = 50
	// DefaultMaxParams is the MySQL prepared statement placeholder ceiling
	DefaultMaxParams = 65535
)

// RestoreResult reports the outcome of a restore.
// On failure Success is false, RecordsRestored is zero and Errors explains why.
type RestoreResult struct {
	Success         bool                          `json:"success" yaml:"success"`
	RecordsRestored int64                         `json:"recordsRestored" yaml:"records_restored"`
	RecordsDeleted  int64                         `json:"recordsDeleted" yaml:"records_deleted"`
	SnapshotVersion string                        `json:"snapshotVersion,omitempty" yaml:"snapshot_version,omitempty"`
	Tables          map[string]*TableRestoreStats `json:"tables,omitempty" yaml:"tables,omitempty"`
	Warnings        []string                      `json:"warnings" yaml:"warnings"`
	Errors          []string                      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration        time.Duration                 `json:"-" yaml:"-"`
}

// TableRestoreStats holds the per-table counters of a restore
type TableRestoreStats struct {
	Deleted  int64 `json:"deleted" yaml:"deleted"`
	Restored int64 `json:"restored" yaml:"restored"`
	Batches  int   `json:"batches" yaml:"batches"`
}

// Restorer replaces every governed table with the contents of a snapshot inside one transaction
type Restorer struct {
	store         Store
	registry      *schema.Registry
	batchSize     int
	maxParams     int
	strictVersion bool
	logger        *logging.Logger
}

// RestoreOption configures a Restorer
type RestoreOption func(*Restorer)

// WithBatchSize sets the preferred number of rows per INSERT
func WithBatchSize(n int) RestoreOption {
	return func(r *Restorer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxParams sets the per-statement placeholder ceiling of the target engine
func WithMaxParams(n int) RestoreOption {
	return func(r *Restorer) {
		if n > 0 {
			r.maxParams = n
		}
	}
}

// WithStrictVersion makes a snapshot version mismatch fatal
func WithStrictVersion(strict bool) RestoreOption {
	return func(r *Restorer) {
		r.strictVersion = strict
	}
}

// WithRestoreLogger sets the restorer logger
func WithRestoreLogger(logger *logging.Logger) RestoreOption {
	return func(r *Restorer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRestorer creates a restorer writing to store
func NewRestorer(store Store, registry *schema.Registry, opts ...RestoreOption) *Restorer {
	r := &Restorer{
		store:     store,
		registry:  registry,
		batchSize: DefaultBatchSize,
		maxParams: DefaultMaxParams,
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchSize returns the number of rows per INSERT for table, bounded by the placeholder ceiling
func (r *Restorer) BatchSize(table *schema.Table) int {
	size := r.batchSize
	if cols := len(table.Columns); cols > 0 {
		if limit := r.maxParams / cols; limit < size {
			size = limit
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

type decodedTable struct {
	table   *schema.Table
	records []schema.Record
}

// Restore deletes all governed rows children-first and reinserts the snapshot parents-first.
// Every check that can fail without touching the store runs before the transaction opens.
func (r *Restorer) Restore(ctx context.Context, snapshot *Snapshot) (*RestoreResult, error) {
	start := time.Now()
	result := &RestoreResult{
		Tables:   make(map[string]*TableRestoreStats, r.registry.Len()),
		Warnings: []string{},
	}

	if snapshot == nil {
		return r.fail(result, start, NewMalformedArtifactError("snapshot is empty", nil))
	}
	result.SnapshotVersion = snapshot.Version

	if snapshot.Version != SnapshotVersion {
		mismatch := NewVersionMismatchError(snapshot.Version, SnapshotVersion)
		if r.strictVersion {
			return r.fail(result, start, mismatch)
		}
		r.logger.Warn(mismatch.Message)
		result.Warnings = append(result.Warnings, mismatch.Message)
	}

	for _, name := range snapshot.TableNames() {
		if _, ok := r.registry.Lookup(name); !ok {
			msg := fmt.Sprintf("snapshot table %q is not governed and was ignored", name)
			r.logger.Warn(msg)
			result.Warnings = append(result.Warnings, msg)
		}
	}

	decoded, warnings, err := r.decode(snapshot)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		return r.fail(result, start, err)
	}

	// The transaction runs to completion or fails on its own; a cancelled caller does not abort it.
	txCtx := context.WithoutCancel(ctx)

	tx, err := r.store.Begin(txCtx)
	if err != nil {
		return r.fail(result, start, NewStorageError("failed to start restore transaction", err))
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Errorf("Failed to roll back restore transaction: %v", rbErr)
			}
		}
	}()

	for _, table := range r.registry.DeletionOrder() {
		stepStart := time.Now()
		deleted, err := tx.DeleteAll(txCtx, table)
		r.logger.LogTableRestore(table.Name, PhaseDelete, deleted, time.Since(stepStart), err)
		if err != nil {
			return r.fail(result, start, NewTableRestoreError(table.Name, PhaseDelete, err))
		}
		r.stats(result, table.Name).Deleted = deleted
		result.RecordsDeleted += deleted
	}

	var restored int64
	for _, d := range decoded {
		stats := r.stats(result, d.table.Name)
		batch := r.BatchSize(d.table)

		stepStart := time.Now()
		for lo := 0; lo < len(d.records); lo += batch {
			hi := lo + batch
			if hi > len(d.records) {
				hi = len(d.records)
			}

			n, err := tx.InsertRows(txCtx, d.table, d.records[lo:hi])
			if err != nil {
				r.logger.LogTableRestore(d.table.Name, PhaseInsert, stats.Restored, time.Since(stepStart), err)
				return r.fail(result, start, NewTableRestoreError(d.table.Name, PhaseInsert, err).
					WithContext("batch_start", lo))
			}
			stats.Restored += n
			stats.Batches++
			restored += n
		}
		r.logger.LogTableRestore(d.table.Name, PhaseInsert, stats.Restored, time.Since(stepStart), nil)
	}

	err = tx.Commit()
	committed = true
	if err != nil {
		commitErr := NewBackupError(BackupErrorTypeTableRestore, "failed to commit restore transaction", err)
		commitErr.Phase = PhaseCommit
		return r.fail(result, start, commitErr)
	}

	result.Success = true
	result.RecordsRestored = restored
	result.Duration = time.Since(start)
	return result, nil
}

// decode converts every governed table's rows into records in insertion order
func (r *Restorer) decode(snapshot *Snapshot) ([]decodedTable, []string, error) {
	var warnings []string
	out := make([]decodedTable, 0, r.registry.Len())

	for _, table := range r.registry.InsertionOrder() {
		rows := snapshot.Rows(table.Name)
		records := make([]schema.Record, 0, len(rows))
		ignored := make(map[string]bool)

		for i, row := range rows {
			record, unknown, err := table.Decode(row)
			if err != nil {
				return nil, warnings, NewTableRestoreError(table.Name, PhaseDecode, err).WithContext("row", i)
			}
			for _, f := range unknown {
				ignored[f] = true
			}
			records = append(records, record)
		}

		if len(ignored) > 0 {
			fields := make([]string, 0, len(ignored))
			for f := range ignored {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			warnings = append(warnings, fmt.Sprintf("table %s: ignored unknown fields %s", table.Name, strings.Join(fields, ", ")))
		}

		if table.SelfRef != "" {
			records = orderParentsFirst(table, records)
		}

		out = append(out, decodedTable{table: table, records: records})
	}

	return out, warnings, nil
}

func (r *Restorer) stats(result *RestoreResult, table string) *TableRestoreStats {
	s, ok := result.Tables[table]
	if !ok {
		s = &TableRestoreStats{}
		result.Tables[table] = s
	}
	return s
}

func (r *Restorer) fail(result *RestoreResult, start time.Time, err error) (*RestoreResult, error) {
	result.Success = false
	result.RecordsRestored = 0
	result.RecordsDeleted = 0
	result.Errors = append(result.Errors, err.Error())
	result.Duration = time.Since(start)
	for _, s := range result.Tables {
		s.Restored = 0
		s.Deleted = 0
		s.Batches = 0
	}
	return result, err
}

// orderParentsFirst sorts the rows of a self-referencing table so that every row
// comes after the row it references. Rows that are part of a reference cycle keep
// their relative order at the end.
func orderParentsFirst(table *schema.Table, records []schema.Record) []schema.Record {
	keyIdx, refIdx := -1, -1
	for i, c := range table.Columns {
		if len(table.Key) > 0 && c.Field == table.Key[0] {
			keyIdx = i
		}
		if c.Field == table.SelfRef {
			refIdx = i
		}
	}
	if keyIdx < 0 || refIdx < 0 {
		return records
	}

	present := make(map[string]bool, len(records))
	for _, rec := range records {
		present[fmt.Sprint(rec[keyIdx])] = true
	}

	children := make(map[string][]int)
	var queue []int
	for i, rec := range records {
		parent := rec[refIdx]
		if parent == nil || !present[fmt.Sprint(parent)] {
			queue = append(queue, i)
			continue
		}
		p := fmt.Sprint(parent)
		children[p] = append(children[p], i)
	}

	ordered := make([]schema.Record, 0, len(records))
	placed := make([]bool, len(records))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if placed[i] {
			continue
		}
		placed[i] = true
		ordered = append(ordered, records[i])
		queue = append(queue, children[fmt.Sprint(records[i][keyIdx])]...)
	}

	for i, rec := range records {
		if !placed[i] {
			ordered = append(ordered, rec)
		}
	}
	return ordered
}
