package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/cablex/internal/config"
)

func TestConfig_SetGetList(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := runCmd(t, "config", "set", "expansion.frequency", "100"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "home", ".cablex", "config.yaml")); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	out, err := runCmd(t, "config", "get", "expansion.frequency")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "expansion.frequency = 100" {
		t.Errorf("unexpected get output %q", out)
	}

	out, err = runCmd(t, "config", "list")
	if err != nil {
		t.Fatalf("config list failed: %v", err)
	}
	for _, want := range []string{"expansion.frequency:", "store.enabled:", "logging.level:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in list output:\n%s", want, out)
		}
	}
}

func TestConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	tests := []struct {
		name string
		args []string
	}{
		{"get unknown key", []string{"config", "get", "llm.provider"}},
		{"set unknown key", []string{"config", "set", "llm.provider", "x"}},
		{"set non-numeric frequency", []string{"config", "set", "expansion.frequency", "fast"}},
		{"set negative frequency", []string{"config", "set", "expansion.frequency", "-5"}},
		{"set distance mapping", []string{"config", "set", "expansion.mapping", "distance"}},
		{"set bad log level", []string{"config", "set", "logging.level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := config.Default()
	for key, value := range map[string]string{
		"expansion.total_segments": "0.5",
		"expansion.seed":           "42",
		"expansion.report":         "true",
		"store.enabled":            "false",
		"store.path":               "/tmp/runs.db",
	} {
		if err := setConfigValue(cfg, key, value); err != nil {
			t.Fatalf("setConfigValue(%s) error = %v", key, err)
		}
	}
	if cfg.Expansion.TotalSegments != 0.5 || cfg.Expansion.Seed != 42 || !cfg.Expansion.Report {
		t.Errorf("unexpected expansion config %+v", cfg.Expansion)
	}
	if cfg.Store.Enabled || cfg.Store.Path != "/tmp/runs.db" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if v, ok := getConfigValue(cfg, "expansion.seed"); !ok || v != uint64(42) {
		t.Errorf("getConfigValue(expansion.seed) = %v, %v", v, ok)
	}
}

func TestLoadConfig_FlagFile(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	path := filepath.Join(tmpDir, "custom.yaml")
	if err := os.WriteFile(path, []byte("expansion:\n  frequency: 250\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "config", "get", "expansion.frequency", "--config", path)
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "expansion.frequency = 250" {
		t.Errorf("unexpected output %q", out)
	}
}
