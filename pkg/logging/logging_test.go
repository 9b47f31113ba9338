package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"DEBUG", DEBUG, false},
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"WARN", WARNING, false},
		{"WARNING", WARNING, false},
		{"ERROR", ERROR, false},
		{"CRITICAL", CRITICAL, false},
		{"FATAL", CRITICAL, false},
		{"VERBOSE", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: WARNING, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warning("warning message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("Expected entries below WARNING to be dropped")
	}
	if !strings.Contains(output, "warning message") || !strings.Contains(output, "error message") {
		t.Error("Expected WARNING and ERROR entries to pass")
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&Config{Level: DEBUG, Output: &buf})

	logger.Info("job succeeded", map[string]interface{}{
		"path":   "/iplant/s1.fastq",
		"action": "compress",
	})

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("Expected level tag in output: %q", output)
	}
	if !strings.Contains(output, "job succeeded") {
		t.Errorf("Expected message in output: %q", output)
	}
	// Field keys are sorted, so action precedes path.
	if !strings.Contains(output, "{action=compress, path=/iplant/s1.fastq}") {
		t.Errorf("Expected sorted fields in output: %q", output)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&Config{Level: DEBUG, Output: &buf, Format: FormatJSON})

	logger.Error("job failed", map[string]interface{}{"code": "LOCK_TIMEOUT"})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", buf.String(), err)
	}
	if entry.Level != "ERROR" {
		t.Errorf("Expected level ERROR, got %s", entry.Level)
	}
	if entry.Message != "job failed" {
		t.Errorf("Expected message 'job failed', got %s", entry.Message)
	}
	if entry.Fields["code"] != "LOCK_TIMEOUT" {
		t.Errorf("Expected code field, got %v", entry.Fields)
	}
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&Config{Level: DEBUG, Output: &buf})

	derived := logger.WithComponent("lockfile").WithField("object", "/iplant/s1.fastq")
	derived.Info("acquired")

	output := buf.String()
	if !strings.Contains(output, "component=lockfile") {
		t.Errorf("Expected component field: %q", output)
	}
	if !strings.Contains(output, "object=/iplant/s1.fastq") {
		t.Errorf("Expected object field: %q", output)
	}

	// The parent logger is unaffected.
	buf.Reset()
	logger.Info("bare")
	if strings.Contains(buf.String(), "component=") {
		t.Error("Expected parent logger to carry no context fields")
	}
}

func TestLogger_FileMirror(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "packfs.log")

	var buf bytes.Buffer
	logger, err := New(&Config{Level: INFO, Output: &buf, File: logPath})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("mirrored entry")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Expected mirror file to exist: %v", err)
	}
	if !strings.Contains(string(data), "mirrored entry") {
		t.Errorf("Expected entry in mirror file, got %q", string(data))
	}
	if !strings.Contains(buf.String(), "mirrored entry") {
		t.Error("Expected entry on the primary writer as well")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	// Must not panic and must accept entries at every level.
	logger.Debug("dropped")
	logger.Critical("dropped", map[string]interface{}{"k": "v"})
}
