package backup

import (
	"sort"
	"time"
)

// SnapshotVersion is the snapshot format this build writes and expects on restore
const SnapshotVersion = "1.0"

// Row is one untyped table row keyed by snapshot field name
type Row map[string]interface{}

// Snapshot is the in-memory copy of every governed table.
// Tables missing from a decoded snapshot are treated as empty on restore.
type Snapshot struct {
	Version   string           `json:"version"`
	Timestamp string           `json:"timestamp"`
	Tables    map[string][]Row `json:"tables"`
}

// NewSnapshot creates an empty snapshot stamped with the current format version
func NewSnapshot(takenAt time.Time) *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Timestamp: takenAt.UTC().Format(time.RFC3339Nano),
		Tables:    make(map[string][]Row),
	}
}

// Rows returns the rows of a table, or nil when the snapshot does not carry it
func (s *Snapshot) Rows(table string) []Row {
	if s == nil || s.Tables == nil {
		return nil
	}
	return s.Tables[table]
}

// TableNames returns the tables carried by the snapshot in sorted order
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the number of rows per table
func (s *Snapshot) Counts() map[string]int {
	counts := make(map[string]int, len(s.Tables))
	for name, rows := range s.Tables {
		counts[name] = len(rows)
	}
	return counts
}

// RowCount returns the total number of rows across all tables
func (s *Snapshot) RowCount() int64 {
	var total int64
	for _, rows := range s.Tables {
		total += int64(len(rows))
	}
	return total
}

// TakenAt parses the snapshot timestamp
func (s *Snapshot) TakenAt() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
