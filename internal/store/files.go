// Package store owns the on-disk layout under the brokerhost home directory
// and the low-level file writes shared by the journal and the scheduler.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// Files under BROKERHOST_HOME.
	ConfigFilePath  = "config.toml"
	JobsFilePath    = "jobs.json"
	JournalFilePath = "journal.jsonl"

	// Directories under BROKERHOST_HOME.
	DataDirPath = "data"
	LogsDirPath = "logs"
)

var (
	pathLocksMu sync.Mutex
	pathLocks   = map[string]*sync.Mutex{}
)

// ReadFile reads a whole file as a string.
func ReadFile(path string) (string, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(clean)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// WriteFile atomically replaces a file's contents via a temp file and rename.
func WriteFile(path string, data []byte) error {
	return withPath(path, func(clean string) error {
		dir := filepath.Dir(clean)
		tmp, err := os.CreateTemp(dir, filepath.Base(clean)+".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp file for %q: %w", clean, err)
		}
		tmpPath := tmp.Name()
		defer os.Remove(tmpPath)

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp file for %q: %w", clean, err)
		}
		if err := tmp.Chmod(0o644); err != nil {
			tmp.Close()
			return fmt.Errorf("chmod temp file for %q: %w", clean, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file for %q: %w", clean, err)
		}
		if err := os.Rename(tmpPath, clean); err != nil {
			return fmt.Errorf("replace file %q: %w", clean, err)
		}
		return nil
	})
}

// AppendFile appends data to a file, creating it and its directory if missing.
func AppendFile(path string, data []byte) error {
	return withPath(path, func(clean string) error {
		f, err := os.OpenFile(clean, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open file %q for append: %w", clean, err)
		}
		defer f.Close()

		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("append file %q: %w", clean, err)
		}
		return nil
	})
}

// withPath serializes writers of one path and makes sure its directory exists.
func withPath(path string, fn func(clean string) error) error {
	clean, err := cleanPath(path)
	if err != nil {
		return err
	}

	lock := lockForPath(clean)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(clean)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return fn(clean)
}

func lockForPath(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()

	lock, ok := pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		pathLocks[path] = lock
	}
	return lock
}

func cleanPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}
	return filepath.Clean(trimmed), nil
}
