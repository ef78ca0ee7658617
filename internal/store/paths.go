package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBName is the ledger file name inside a .cablex directory.
const DBName = "runs.db"

// GlobalPath returns the path to the global .cablex directory.
// On Unix: ~/.cablex
// On Windows: %USERPROFILE%\.cablex
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cablex"), nil
}

// LocalPath returns the .cablex directory for the given project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".cablex")
}

// DefaultDBPath returns the ledger path under projectRoot, or under the
// global directory when projectRoot is empty.
func DefaultDBPath(projectRoot string) (string, error) {
	if projectRoot != "" {
		return filepath.Join(LocalPath(projectRoot), DBName), nil
	}
	dir, err := GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBName), nil
}
