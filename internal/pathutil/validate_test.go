package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()

	tests := []struct {
		name    string
		path    string
		dirs    []string
		wantErr bool
	}{
		{"file in allowed dir", filepath.Join(allowed, "cell.json"), []string{allowed}, false},
		{"nested missing dirs", filepath.Join(allowed, "a", "b", "cell.json"), []string{allowed}, false},
		{"allowed dir itself", allowed, []string{allowed}, false},
		{"outside", filepath.Join(other, "cell.json"), []string{allowed}, true},
		{"traversal", filepath.Join(allowed, "..", filepath.Base(other), "cell.json"), []string{allowed}, true},
		{"prefix sibling", allowed + "x/cell.json", []string{allowed}, true},
		{"second allowed dir", filepath.Join(other, "cell.json"), []string{allowed, other}, false},
		{"empty path", "", []string{allowed}, true},
		{"no allowed dirs", filepath.Join(allowed, "cell.json"), nil, true},
		{"null byte", filepath.Join(allowed, "ce\x00ll.json"), []string{allowed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.path, tt.dirs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err == nil && !filepath.IsAbs(got) {
				t.Errorf("expected absolute path, got %q", got)
			}
		})
	}
}

func TestResolve_OutsideIsSentinel(t *testing.T) {
	err := ValidatePath(filepath.Join(t.TempDir(), "x"), []string{t.TempDir()})
	if !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed, got %v", err)
	}
}

func TestResolve_Symlinks(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()

	escape := filepath.Join(allowed, "escape")
	if err := os.Symlink(outside, escape); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := ValidatePath(filepath.Join(escape, "cell.json"), []string{allowed}); err == nil {
		t.Error("expected symlink pointing outside to be rejected")
	}

	sub := filepath.Join(allowed, "sub")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatal(err)
	}
	inner := filepath.Join(allowed, "inner")
	if err := os.Symlink(sub, inner); err != nil {
		t.Fatal(err)
	}
	if err := ValidatePath(filepath.Join(inner, "cell.json"), []string{allowed}); err != nil {
		t.Errorf("expected symlink inside allowed dir to pass, got %v", err)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/home/user/.cablex/runs.db", ".../.cablex/runs.db"},
		{"/runs.db", "runs.db"},
		{"runs.db", "runs.db"},
		{"", ""},
		{"/home/user/.cablex/", ".../user/.cablex"},
	}
	for _, tt := range tests {
		if got := RedactPath(tt.in); got != tt.want {
			t.Errorf("RedactPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllowedDirs(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	root := t.TempDir()
	dirs, err := AllowedDirs(root)
	if err != nil {
		t.Fatalf("AllowedDirs() error = %v", err)
	}
	if len(dirs) != 2 || dirs[0] != filepath.Join(home, ".cablex") || dirs[1] != root {
		t.Errorf("unexpected dirs %v", dirs)
	}
	if dirs, _ := AllowedDirs(""); len(dirs) != 1 {
		t.Errorf("expected only the home dir without a project root, got %v", dirs)
	}
}
