package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{" Debug ", slog.LevelDebug},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.input, tt.want, got)
		}
	}
}

func TestNewLogger_Filtering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantTrace bool
	}{
		{"info", false, false},
		{"debug", true, false},
		{"trace", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("placed synapse")
			if got := strings.Contains(buf.String(), "placed synapse"); got != tt.wantDebug {
				t.Errorf("expected debug visible=%v, got %v", tt.wantDebug, got)
			}
			buf.Reset()

			logger.Log(t.Context(), LevelTrace, "mapped segment")
			out := buf.String()
			if got := strings.Contains(out, "mapped segment"); got != tt.wantTrace {
				t.Errorf("expected trace visible=%v, got %v", tt.wantTrace, got)
			}
			if tt.wantTrace && !strings.Contains(out, "level=TRACE") {
				t.Errorf("expected TRACE label, got %q", out)
			}
		})
	}
}

func TestNewDecisionLogger_InfoLevelIsNil(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "info")
	if dl != nil {
		t.Fatal("expected nil DecisionLogger at info level")
	}
	dl.Log("merge", map[string]any{"synapse": 1})
	dl.Close()

	if _, err := os.Stat(filepath.Join(dir, DecisionsFile)); err == nil {
		t.Error("expected no decisions file at info level")
	}
}

func TestNewDecisionLogger_WritesJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".cablex")
	dl := NewDecisionLogger(dir, "debug")
	if dl == nil {
		t.Fatal("expected DecisionLogger at debug level")
	}
	dl.Log("placement", map[string]any{"synapse": 3, "x": 0.25})
	dl.Log("merge", map[string]any{"synapse": 4, "into": 3})
	dl.Close()
	dl.Log("after_close", nil)

	path := filepath.Join(dir, DecisionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading decisions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("parsing line: %v", err)
	}
	if first["event"] != "placement" || first["x"] != 0.25 {
		t.Errorf("unexpected entry %v", first)
	}
	if _, ok := first["time"]; !ok {
		t.Error("expected time field")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}
}

func TestDecisionWriter_DoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDecisionWriter(&buf)
	dl.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	fields := map[string]any{"segment": "apic[0](0.5)"}
	dl.Log("orphan", fields)
	if len(fields) != 1 {
		t.Errorf("expected caller map untouched, got %v", fields)
	}
	if !strings.Contains(buf.String(), `"time":"2026-01-02T03:04:05Z"`) {
		t.Errorf("expected fixed timestamp, got %q", buf.String())
	}
	dl.Close()
	buf.Reset()
	dl.Log("orphan", fields)
	if buf.Len() != 0 {
		t.Errorf("expected no output after Close, got %q", buf.String())
	}
}
