package backup

import (
	"context"
	"fmt"
	"sync"

	"crm-backup/internal/schema"
)

// memStore is an in-memory Store and TableSource that enforces foreign keys
// and only publishes a transaction's changes on Commit.
type memStore struct {
	mu       sync.Mutex
	registry *schema.Registry
	tables   map[string][]schema.Record

	failDelete map[string]error
	failInsert map[string]error
	failRead   map[string]error

	begins    int
	reads     int
	deletes   []string
	inserts   []string
	batches   map[string][]int
	rollbacks int
	commits   int
}

func newMemStore(registry *schema.Registry) *memStore {
	return &memStore{
		registry:   registry,
		tables:     make(map[string][]schema.Record),
		failDelete: make(map[string]error),
		failInsert: make(map[string]error),
		failRead:   make(map[string]error),
		batches:    make(map[string][]int),
	}
}

// seed decodes rows into a table outside of any transaction
func (m *memStore) seed(table string, rows ...Row) {
	t, ok := m.registry.Lookup(table)
	if !ok {
		panic("unknown table " + table)
	}
	for _, row := range rows {
		record, _, err := t.Decode(row)
		if err != nil {
			panic(err)
		}
		m.tables[table] = append(m.tables[table], record)
	}
}

func (m *memStore) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *memStore) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rows := range m.tables {
		n += len(rows)
	}
	return n
}

// value returns the stored value of field for the row whose first key equals key
func (m *memStore) value(table, key, field string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _ := m.registry.Lookup(table)
	keyIdx, fieldIdx := fieldIndex(t, t.Key[0]), fieldIndex(t, field)
	for _, rec := range m.tables[table] {
		if fmt.Sprint(rec[keyIdx]) == key {
			return rec[fieldIdx], true
		}
	}
	return nil, false
}

func fieldIndex(t *schema.Table, field string) int {
	for i, c := range t.Columns {
		if c.Field == field {
			return i
		}
	}
	panic("unknown field " + field)
}

func (m *memStore) Begin(ctx context.Context) (StoreTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++

	working := make(map[string][]schema.Record, len(m.tables))
	for name, rows := range m.tables {
		working[name] = append([]schema.Record(nil), rows...)
	}
	return &memTx{store: m, working: working}, nil
}

func (m *memStore) ReadPage(ctx context.Context, table *schema.Table, offset, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	if err := m.failRead[table.Name]; err != nil {
		return nil, err
	}

	rows := m.tables[table.Name]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}

	out := make([]Row, 0, end-offset)
	for _, rec := range rows[offset:end] {
		row := make(Row, len(table.Columns))
		for i, c := range table.Columns {
			row[c.Field] = snapshotValue(rec[i])
		}
		out = append(out, row)
	}
	return out, nil
}

type memTx struct {
	store   *memStore
	working map[string][]schema.Record
	done    bool
}

func (tx *memTx) DeleteAll(ctx context.Context, table *schema.Table) (int64, error) {
	m := tx.store
	m.mu.Lock()
	m.deletes = append(m.deletes, table.Name)
	failure := m.failDelete[table.Name]
	m.mu.Unlock()

	if failure != nil {
		return 0, failure
	}

	// rows of other tables still pointing here would violate a foreign key
	for _, other := range m.registry.InsertionOrder() {
		if other.Name == table.Name {
			continue
		}
		for ci, c := range other.Columns {
			if c.References != table.Name {
				continue
			}
			for _, rec := range tx.working[other.Name] {
				if rec[ci] != nil {
					return 0, fmt.Errorf("foreign key violation: %s.%s still references %s", other.Name, c.Field, table.Name)
				}
			}
		}
	}

	n := int64(len(tx.working[table.Name]))
	tx.working[table.Name] = nil
	return n, nil
}

func (tx *memTx) InsertRows(ctx context.Context, table *schema.Table, records []schema.Record) (int64, error) {
	m := tx.store
	m.mu.Lock()
	m.inserts = append(m.inserts, table.Name)
	m.batches[table.Name] = append(m.batches[table.Name], len(records))
	failure := m.failInsert[table.Name]
	m.mu.Unlock()

	if failure != nil {
		return 0, failure
	}

	for _, rec := range records {
		if len(rec) != len(table.Columns) {
			return 0, fmt.Errorf("record width %d does not match %d columns", len(rec), len(table.Columns))
		}
		for ci, c := range table.Columns {
			if c.References == "" || rec[ci] == nil {
				continue
			}
			if !tx.exists(c.References, rec[ci]) {
				return 0, fmt.Errorf("foreign key violation: %s.%s=%v has no parent in %s", table.Name, c.Field, rec[ci], c.References)
			}
		}
		tx.working[table.Name] = append(tx.working[table.Name], rec)
	}
	return int64(len(records)), nil
}

func (tx *memTx) exists(table string, key interface{}) bool {
	t, ok := tx.store.registry.Lookup(table)
	if !ok {
		return false
	}
	idx := fieldIndex(t, t.Key[0])
	for _, rec := range tx.working[table] {
		if fmt.Sprint(rec[idx]) == fmt.Sprint(key) {
			return true
		}
	}
	return false
}

func (tx *memTx) Commit() error {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	m.commits++
	m.tables = tx.working
	return nil
}

func (tx *memTx) Rollback() error {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	m.rollbacks++
	return nil
}
