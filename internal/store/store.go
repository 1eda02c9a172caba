package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultDBFile = "userbook.db"
)

// CheckExists verifies if the datastore exists at the given path.
// Returns true if the store exists, false otherwise.
func CheckExists(storePath string) (bool, error) {
	dbPath := GetDBPath(storePath)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: check store existence: %w", ErrStore, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: datastore path is a directory, expected file: %s", ErrStore, dbPath)
	}
	return true, nil
}

// GetStorePath returns the path to the datastore directory.
// An empty dir falls back to the current working directory.
func GetStorePath(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// GetDBPath returns the full path to the database file.
func GetDBPath(storePath string) string {
	return filepath.Join(storePath, DefaultDBFile)
}
