package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Audit scopes route entries to the workspace or the home audit log.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// AuditEntry records one tool invocation. Params carries sanitized
// metadata only, never file contents or full paths.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Scope      string            `json:"scope"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

type auditFile struct {
	mu   sync.Mutex
	file *os.File
}

// openAuditFile opens .cablex/audit.jsonl under dir for appending. It
// returns nil, with a warning on stderr, when the file cannot be opened.
func openAuditFile(dir string) *auditFile {
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, ".cablex", "audit.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory: %v\n", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log: %v\n", err)
		return nil
	}
	return &auditFile{file: f}
}

func (af *auditFile) write(entry AuditEntry) {
	if af == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	af.mu.Lock()
	defer af.mu.Unlock()
	_, _ = af.file.Write(append(data, '\n'))
}

func (af *auditFile) close() error {
	if af == nil {
		return nil
	}
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.file.Close()
}

// AuditLogger appends tool invocations to JSONL audit logs. A nil
// *AuditLogger discards everything.
type AuditLogger struct {
	local  *auditFile
	global *auditFile
}

// NewAuditLogger opens the audit logs under localDir and globalDir. It
// returns nil if neither can be opened.
func NewAuditLogger(localDir, globalDir string) *AuditLogger {
	local, global := openAuditFile(localDir), openAuditFile(globalDir)
	if local == nil && global == nil {
		return nil
	}
	return &AuditLogger{local: local, global: global}
}

// Log writes entry to the log matching its scope; anything but
// ScopeGlobal goes to the local log.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	if entry.Scope == ScopeGlobal {
		a.global.write(entry)
		return
	}
	a.local.write(entry)
}

// Close closes both logs.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	err := a.local.close()
	if gerr := a.global.close(); gerr != nil && err == nil {
		err = gerr
	}
	return err
}

// valueParams are logged with their values; presenceParams only as "(set)".
// Anything else is dropped.
var (
	valueParams = map[string]bool{
		"format":         true,
		"frequency":      true,
		"total_segments": true,
		"seed":           true,
		"compress":       true,
		"report":         true,
		"limit":          true,
		"subtrees":       true,
	}
	presenceParams = map[string]bool{
		"input_path":  true,
		"output_path": true,
		"id":          true,
	}
)

// sanitizeToolParams reduces tool arguments to loggable metadata.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		switch {
		case valueParams[k]:
			out[k] = fmt.Sprintf("%v", v)
		case presenceParams[k]:
			out[k] = "(set)"
		}
	}
	out["_param_count"] = fmt.Sprintf("%d", len(params))
	return out
}

// auditTool records one invocation that started at start.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]string, scope string) {
	entry := AuditEntry{
		Timestamp:  start,
		Tool:       tool,
		Scope:      scope,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "success",
		Params:     params,
	}
	if entry.Scope == "" {
		entry.Scope = ScopeLocal
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.audit.Log(entry)
}
