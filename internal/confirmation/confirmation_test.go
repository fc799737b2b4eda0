package confirmation

import (
	"bytes"
	"strings"
	"testing"

	"crm-backup/internal/backup"
)

func testSummary() *backup.ArtifactSummary {
	return &backup.ArtifactSummary{
		Checksum:       strings.Repeat("c", 64),
		Size:           4096,
		Compression:    backup.CompressionTypeZstd,
		Version:        backup.SnapshotVersion,
		VersionMatches: true,
		Timestamp:      "2024-03-05T14:07:09Z",
		Tables:         map[string]int{"accounts": 2, "contacts": 5},
		Records:        7,
	}
}

func newTestService(input string, interactive bool) (ConfirmationService, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewConfirmationServiceWithIO(strings.NewReader(input), out, nil, interactive), out
}

func TestConfirmRestore_Input(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"yes", "y\n", true},
		{"yes long", "YES\n", true},
		{"no", "n\n", false},
		{"empty declines", "\n", false},
		{"eof declines", "", false},
		{"yes without newline", "y", true},
		{"invalid then yes", "maybe\ny\n", true},
		{"details then no", "d\nno\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, _ := newTestService(tt.input, true)
			ok, err := cs.ConfirmRestore(testSummary(), "crm@db:3306/crm", false)
			if err != nil {
				t.Fatalf("ConfirmRestore returned error: %v", err)
			}
			if ok != tt.expected {
				t.Errorf("expected %v for input %q, got %v", tt.expected, tt.input, ok)
			}
		})
	}
}

func TestConfirmRestore_InvalidInputReprompts(t *testing.T) {
	cs, out := newTestService("maybe\nn\n", true)
	if _, err := cs.ConfirmRestore(testSummary(), "target", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Invalid input 'maybe'") {
		t.Errorf("expected invalid input message, got:\n%s", out.String())
	}
	if c := strings.Count(out.String(), "[y/N/d]"); c != 2 {
		t.Errorf("expected 2 prompts, got %d", c)
	}
}

func TestConfirmRestore_DetailsShowsTableCounts(t *testing.T) {
	cs, out := newTestService("d\nn\n", true)
	if _, err := cs.ConfirmRestore(testSummary(), "target", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "| contacts |") {
		t.Errorf("expected per-table counts in details, got:\n%s", out.String())
	}
}

func TestConfirmRestore_AutoApprove(t *testing.T) {
	cs, out := newTestService("", false)
	ok, err := cs.ConfirmRestore(testSummary(), "target", true)
	if err != nil || !ok {
		t.Fatalf("expected auto approval, got %v, %v", ok, err)
	}
	if strings.Contains(out.String(), "[y/N/d]") {
		t.Error("auto approval should not prompt")
	}
}

func TestConfirmRestore_NonInteractive(t *testing.T) {
	cs, _ := newTestService("y\n", false)
	ok, err := cs.ConfirmRestore(testSummary(), "target", false)
	if err != ErrNonInteractive {
		t.Fatalf("expected ErrNonInteractive, got %v", err)
	}
	if ok {
		t.Error("non-interactive restore must not be approved")
	}
}

func TestDisplayRestoreSummary(t *testing.T) {
	cs, out := newTestService("", true)
	summary := testSummary()
	summary.VersionMatches = false
	summary.Version = "0.9"
	summary.Ungoverned = []string{"legacy_notes"}

	if err := cs.DisplayRestoreSummary(summary, "crm@db:3306/crm"); err != nil {
		t.Fatalf("DisplayRestoreSummary failed: %v", err)
	}

	for _, want := range []string{
		"Target database:  crm@db:3306/crm",
		"Records:          7",
		"Snapshot version 0.9 differs",
		"legacy_notes",
		"DESTRUCTIVE OPERATION",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestDisplayRestoreSummary_Nil(t *testing.T) {
	cs, _ := newTestService("", true)
	if err := cs.DisplayRestoreSummary(nil, "target"); err == nil {
		t.Error("expected error for nil summary")
	}
}
