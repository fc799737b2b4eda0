package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind describes how a snapshot value is coerced before it is written back to the store
type Kind string

const (
	KindText      Kind = "text"
	KindInt       Kind = "int"
	KindDecimal   Kind = "decimal"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp"
	KindEnum      Kind = "enum"
	KindJSON      Kind = "json"
)

// SizeClass groups tables of similar expected size for snapshot reads
type SizeClass int

const (
	SizeSmall SizeClass = iota
	SizeMedium
	SizeLarge
)

// String returns the size class name
func (s SizeClass) String() string {
	switch s {
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	case SizeLarge:
		return "large"
	default:
		return fmt.Sprintf("size(%d)", int(s))
	}
}

// Column describes one governed column.
// Field is the key used in snapshot rows, Name is the column name in the store.
type Column struct {
	Field      string      `json:"field"`
	Name       string      `json:"name"`
	Kind       Kind        `json:"kind"`
	References string      `json:"references,omitempty"`
	Default    interface{} `json:"default,omitempty"`
}

// Table describes a governed table: its columns, key, foreign keys and read size class
type Table struct {
	Name    string    `json:"name"`
	Columns []Column  `json:"columns"`
	Key     []string  `json:"key"`
	Size    SizeClass `json:"size"`

	// SelfRef is the field that references another row of the same table, if any
	SelfRef string `json:"self_ref,omitempty"`

	fieldIndex map[string]int
}

// Record is a snapshot row decoded into store-ready values aligned with Table.Columns
type Record []interface{}

// NewTable creates a table descriptor and indexes its columns
func NewTable(name string, size SizeClass, key []string, columns ...Column) *Table {
	t := &Table{
		Name:    name,
		Columns: columns,
		Key:     key,
		Size:    size,
	}
	t.reindex()
	return t
}

// WithSelfRef marks field as a reference to a row of the same table
func (t *Table) WithSelfRef(field string) *Table {
	t.SelfRef = field
	return t
}

func (t *Table) reindex() {
	t.fieldIndex = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.fieldIndex[c.Field] = i
	}
}

// ColumnNames returns store column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// FieldNames returns snapshot field names in declaration order
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Field
	}
	return names
}

// KeyColumns returns the store column names of the table key
func (t *Table) KeyColumns() []string {
	cols := make([]string, 0, len(t.Key))
	for _, field := range t.Key {
		if c, ok := t.Column(field); ok {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Column looks up a column by snapshot field name
func (t *Table) Column(field string) (Column, bool) {
	if t.fieldIndex == nil {
		t.reindex()
	}
	i, ok := t.fieldIndex[field]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// Dependencies returns the distinct tables referenced by foreign keys, excluding the table itself
func (t *Table) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	for _, c := range t.Columns {
		if c.References == "" || c.References == t.Name || seen[c.References] {
			continue
		}
		seen[c.References] = true
		deps = append(deps, c.References)
	}
	sort.Strings(deps)
	return deps
}

// Decode converts an untyped snapshot row into a Record.
// Fields the descriptor does not know are returned as ignored rather than failing the row.
func (t *Table) Decode(row map[string]interface{}) (Record, []string, error) {
	record := make(Record, len(t.Columns))
	for i, c := range t.Columns {
		raw, present := row[c.Field]
		value, err := Normalize(c.Kind, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", c.Field, err)
		}
		if (!present || isBlank(value)) && c.Default != nil {
			value = c.Default
		}
		record[i] = value
	}

	var ignored []string
	for field := range row {
		if _, ok := t.Column(field); !ok {
			ignored = append(ignored, field)
		}
	}
	sort.Strings(ignored)

	return record, ignored, nil
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Col declares a column whose kind is inferred from its field name
func Col(field string) Column {
	return Column{
		Field: field,
		Name:  ToSnake(field),
		Kind:  InferKind(field),
	}
}

// Ref declares a foreign key column referencing table
func Ref(field, table string) Column {
	c := Col(field)
	c.References = table
	return c
}

// Enum declares an enumeration-typed column
func Enum(field string) Column {
	c := Col(field)
	c.Kind = KindEnum
	return c
}

// EnumDefault declares an enumeration column backfilled with def when absent
func EnumDefault(field, def string) Column {
	c := Enum(field)
	c.Default = def
	return c
}

// Typed declares a column with an explicit kind
func Typed(field string, kind Kind) Column {
	c := Col(field)
	c.Kind = kind
	return c
}

// ToSnake converts a camelCase field name to its snake_case column name
func ToSnake(field string) string {
	var b strings.Builder
	b.Grow(len(field) + 4)
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
