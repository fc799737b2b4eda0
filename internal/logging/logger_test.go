package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level LogLevel, format string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: level, Output: &buf, Format: format})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return logger, &buf
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{"default config", Config{Level: LogLevelNormal, Format: "text"}, LogLevelNormal},
		{"verbose config", Config{Level: LogLevelVerbose, Format: "json"}, LogLevelVerbose},
		{"quiet config", Config{Level: LogLevelQuiet, Format: "text"}, LogLevelQuiet},
		{"empty level", Config{Format: "text"}, LogLevelNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"quiet", LogLevelQuiet, false},
		{"Normal", LogLevelNormal, false},
		{"", LogLevelNormal, false},
		{" verbose ", LogLevelVerbose, false},
		{"debug", LogLevelDebug, false},
		{"loud", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoggerWithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose, "text")

	ctx := CreateContextWithRequestID(context.Background(), "req-123")
	logger.WithContext(ctx).Info("with context")

	if !strings.Contains(buf.String(), "request_id=req-123") {
		t.Errorf("expected request id in output, got: %s", buf.String())
	}
	if got := GetRequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("GetRequestIDFromContext() = %q", got)
	}
	if got := GetRequestIDFromContext(context.Background()); got != "" {
		t.Errorf("GetRequestIDFromContext() on empty context = %q", got)
	}
}

func TestLogTableRestore(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose, "text")

	logger.LogTableRestore("accounts", "insert", 12, time.Millisecond, nil)
	if !strings.Contains(buf.String(), "table=accounts") || !strings.Contains(buf.String(), "phase=insert") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	logger.LogTableRestore("contacts", "delete", 0, time.Millisecond, errors.New("boom"))
	if !strings.Contains(buf.String(), "level=error") || !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestLogBackupOperationJSON(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal, "json")

	logger.LogBackupOperation("backup", 42, 1024, time.Second, nil)

	out := buf.String()
	for _, want := range []string{`"operation":"backup"`, `"records":42`, `"bytes":1024`, `"success":true`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestQuietLevelSuppressesInfo(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelQuiet, "text")

	logger.Info("hidden")
	logger.LogTableRead("users", 3, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}

	logger.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected error output, got: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	logger, _ := newBufferLogger(t, LogLevelNormal, "text")

	if logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("verbose should be disabled at normal level")
	}

	logger.SetLevel(LogLevelDebug)
	if !logger.IsLevelEnabled(LogLevelDebug) {
		t.Error("debug should be enabled after SetLevel")
	}
	if logger.GetLevel() != LogLevelDebug {
		t.Errorf("GetLevel() = %v", logger.GetLevel())
	}
}

func TestLogOperationStart(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal, "text")

	done := logger.LogOperationStart("restore", map[string]interface{}{"actor": "admin"})
	done(nil)

	if !strings.Contains(buf.String(), "Operation completed") || !strings.Contains(buf.String(), "actor=admin") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"crm:secret@tcp(db:3306)/crm?parseTime=true", "crm:***@tcp(db:3306)/crm?parseTime=true"},
		{"crm@tcp(db:3306)/crm", "crm@tcp(db:3306)/crm"},
		{"crm:p@ss@tcp(db:3306)/crm", "crm:***@tcp(db:3306)/crm"},
		{"/crm", "/crm"},
	}

	for _, tt := range tests {
		if got := SanitizeDSN(tt.input); got != tt.want {
			t.Errorf("SanitizeDSN(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
