package mcp

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readAudit(t *testing.T, dir string) []AuditEntry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ".cablex", "audit.jsonl"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	var entries []AuditEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("parsing audit entry %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestAuditLogger_NilSafety(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditEntry{Tool: "test"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger returned error: %v", err)
	}
}

func TestAuditLogger_RoutesByScope(t *testing.T) {
	localDir, globalDir := t.TempDir(), t.TempDir()
	logger := NewAuditLogger(localDir, globalDir)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	defer logger.Close()

	logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "cablex_expand", DurationMs: 42, Status: "success", Scope: ScopeLocal})
	logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "cablex_runs", Status: "success", Scope: ScopeGlobal})
	logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "cablex_inspect", Status: "success"})

	local := readAudit(t, localDir)
	if len(local) != 2 || local[0].Tool != "cablex_expand" || local[0].DurationMs != 42 || local[1].Tool != "cablex_inspect" {
		t.Errorf("unexpected local entries %+v", local)
	}
	global := readAudit(t, globalDir)
	if len(global) != 1 || global[0].Tool != "cablex_runs" {
		t.Errorf("unexpected global entries %+v", global)
	}
}

func TestAuditLogger_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir, "")
	defer logger.Close()
	logger.Log(AuditEntry{Tool: "cablex_runs"})

	info, err := os.Stat(filepath.Join(dir, ".cablex", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir, "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "cablex_inspect", Status: "success"})
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readAudit(t, dir)); got != 50 {
		t.Errorf("expected 50 entries, got %d", got)
	}
}

func TestAuditLogger_BadPaths(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}
	// a regular file cannot hold a .cablex directory
	if logger := NewAuditLogger(file, file); logger != nil {
		t.Error("expected nil logger when both paths are unusable")
	}
	good := t.TempDir()
	logger := NewAuditLogger(file, good)
	if logger == nil {
		t.Fatal("expected logger when one path works")
	}
	defer logger.Close()
	logger.Log(AuditEntry{Tool: "cablex_expand", Scope: ScopeLocal})
	logger.Log(AuditEntry{Tool: "cablex_runs", Scope: ScopeGlobal})
	if got := readAudit(t, good); len(got) != 1 {
		t.Errorf("expected the global entry only, got %+v", got)
	}
}

func TestSanitizeToolParams(t *testing.T) {
	got := sanitizeToolParams(map[string]any{
		"input_path": "/home/user/secret/cell.json",
		"format":     "dot",
		"subtrees":   2,
		"unknown":    "dropped",
	})
	want := map[string]string{
		"input_path":   "(set)",
		"format":       "dot",
		"subtrees":     "2",
		"_param_count": "4",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if sanitizeToolParams(nil) != nil {
		t.Error("expected nil for nil params")
	}
}

func TestAuditTool_RecordsErrors(t *testing.T) {
	server, root := setupTestServer(t)

	start := time.Now().Add(-2 * time.Millisecond)
	server.auditTool("cablex_expand", start, errors.New("boom"), map[string]string{"format": "dot"}, "")

	entries := readAudit(t, root)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != "error" || e.Error != "boom" || e.Scope != ScopeLocal || e.DurationMs < 1 {
		t.Errorf("unexpected entry %+v", e)
	}
}
