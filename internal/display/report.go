package display

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"crm-backup/internal/backup"
)

// Format selects how reports are written
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an output format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid output format %q, must be one of: table, json, yaml", name)
	}
}

// Renderer writes backup reports in one format
type Renderer struct {
	out    io.Writer
	format Format
	colors ColorSystem
}

// NewRenderer creates a renderer; colors may be nil for plain output
func NewRenderer(out io.Writer, format Format, colors ColorSystem) *Renderer {
	if colors == nil {
		colors = NewPlainColorSystem()
	}
	return &Renderer{out: out, format: format, colors: colors}
}

// Colors returns the color system of the renderer
func (r *Renderer) Colors() ColorSystem {
	return r.colors
}

// Success prints a success line
func (r *Renderer) Success(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Sprintf(r.colors.Theme().Success, "✓ "+format, args...))
}

// Warning prints a warning line
func (r *Renderer) Warning(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Sprintf(r.colors.Theme().Warning, "⚠ "+format, args...))
}

// Error prints an error line
func (r *Renderer) Error(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Sprintf(r.colors.Theme().Error, "✗ "+format, args...))
}

// RenderArtifact reports a created backup and where it was written
func (r *Renderer) RenderArtifact(a *backup.Artifact, location string) error {
	if r.format != FormatTable {
		return r.encode(struct {
			backup.Artifact `yaml:",inline"`
			Size            int    `json:"size" yaml:"size"`
			Location        string `json:"location,omitempty" yaml:"location,omitempty"`
		}{*a, len(a.Data), location})
	}

	r.Success("Backup created: %s", a.Filename)
	r.keyValues([][2]string{
		{"Location", location},
		{"Checksum", a.Checksum},
		{"Size", FormatBytes(int64(len(a.Data)))},
		{"Created", a.CreatedAt.UTC().Format(time.RFC3339)},
		{"Records", strconv.FormatInt(a.Records, 10)},
	})
	r.countsTable("Rows", a.Tables)
	r.warnings(a.Warnings)
	return nil
}

// RenderSummary reports the contents of an artifact
func (r *Renderer) RenderSummary(s *backup.ArtifactSummary) error {
	if r.format != FormatTable {
		return r.encode(s)
	}

	version := s.Version
	if !s.VersionMatches {
		version = r.colors.Colorize(version+" (differs from "+backup.SnapshotVersion+")", r.colors.Theme().Warning)
	}

	r.keyValues([][2]string{
		{"Checksum", s.Checksum},
		{"Size", FormatBytes(int64(s.Size))},
		{"Compression", string(s.Compression)},
		{"Payload", FormatBytes(int64(s.PayloadSize))},
		{"Version", version},
		{"Taken", s.Timestamp},
		{"Records", strconv.FormatInt(s.Records, 10)},
	})
	r.countsTable("Rows", s.Tables)
	if len(s.Ungoverned) > 0 {
		r.Warning("Tables not restored by this version: %s", strings.Join(s.Ungoverned, ", "))
	}
	return nil
}

// RenderRestoreResult reports the outcome of a restore
func (r *Renderer) RenderRestoreResult(res *backup.RestoreResult) error {
	if r.format != FormatTable {
		return r.encode(res)
	}

	if res.Success {
		r.Success("Restore completed: %d records restored, %d deleted in %s",
			res.RecordsRestored, res.RecordsDeleted, res.Duration.Round(time.Millisecond))
	} else {
		r.Error("Restore failed, no changes were committed")
	}

	if len(res.Tables) > 0 {
		names := make([]string, 0, len(res.Tables))
		for name := range res.Tables {
			names = append(names, name)
		}
		sort.Strings(names)

		t := NewTable(r.colors, "Table", "Deleted", "Restored", "Batches").AlignRight(1, 2, 3)
		for _, name := range names {
			s := res.Tables[name]
			t.AddRow(name, strconv.FormatInt(s.Deleted, 10), strconv.FormatInt(s.Restored, 10), strconv.Itoa(s.Batches))
		}
		t.SetFooter("Total", strconv.FormatInt(res.RecordsDeleted, 10), strconv.FormatInt(res.RecordsRestored, 10), "")
		t.RenderTo(r.out)
	}

	r.warnings(res.Warnings)
	for _, e := range res.Errors {
		r.Error("%s", e)
	}
	return nil
}

// RenderArtifactList reports stored artifacts
func (r *Renderer) RenderArtifactList(items []backup.ArtifactInfo) error {
	if r.format != FormatTable {
		if items == nil {
			items = []backup.ArtifactInfo{}
		}
		return r.encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(r.out, "No backups found")
		return nil
	}

	t := NewTable(r.colors, "Name", "Size", "Modified", "Location").AlignRight(1)
	for _, it := range items {
		t.AddRow(it.Name, FormatBytes(it.Size), it.ModifiedAt.UTC().Format("2006-01-02 15:04:05"), it.Location)
	}
	t.RenderTo(r.out)
	return nil
}

// RenderRetentionResult reports what a prune kept and deleted
func (r *Renderer) RenderRetentionResult(res *backup.RetentionResult) error {
	if r.format != FormatTable {
		return r.encode(res)
	}

	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	if res.Processed == 0 {
		fmt.Fprintln(r.out, "No backups found")
		return nil
	}

	t := NewTable(r.colors, "Name", "Size", "Action")
	for _, it := range res.Kept {
		t.AddRow(it.Name, FormatBytes(it.Size), "keep")
	}
	for _, it := range res.Deleted {
		t.AddRow(it.Name, FormatBytes(it.Size), strings.ToLower(verb))
	}
	t.RenderTo(r.out)

	r.Success("%s %d of %d backups, kept %d", verb, len(res.Deleted), res.Processed, len(res.Kept))
	for _, e := range res.Errors {
		r.Error("%s", e)
	}
	return nil
}

// RenderVerification reports a successful keyless integrity check
func (r *Renderer) RenderVerification(name, checksum string, size int) error {
	if r.format != FormatTable {
		return r.encode(map[string]interface{}{
			"name":     name,
			"checksum": checksum,
			"size":     size,
			"valid":    true,
		})
	}
	r.Success("%s: checksum OK", name)
	r.keyValues([][2]string{{"Checksum", checksum}, {"Size", FormatBytes(int64(size))}})
	return nil
}

func (r *Renderer) encode(v interface{}) error {
	switch r.format {
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(r.out, string(data))
		return err
	}
}

func (r *Renderer) keyValues(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		label := r.colors.Colorize(fmt.Sprintf("%-*s", width, p[0]), r.colors.Theme().Muted)
		fmt.Fprintf(r.out, "  %s  %s\n", label, p[1])
	}
}

func (r *Renderer) countsTable(header string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	t := NewTable(r.colors, "Table", header).AlignRight(1)
	total := 0
	for _, name := range names {
		t.AddRow(name, strconv.Itoa(counts[name]))
		total += counts[name]
	}
	t.SetFooter("Total", strconv.Itoa(total))
	t.RenderTo(r.out)
}

func (r *Renderer) warnings(warnings []string) {
	for _, w := range warnings {
		r.Warning("%s", w)
	}
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
