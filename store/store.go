// Package store persists harvester artifacts as a single JSON container
// of the form {"products": [...]}. Writes go through a temp file and a
// rename so a crash mid-write never loses previously persisted records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type container[T any] struct {
	Products []T `json:"products"`
}

// Init creates an empty container at path if none exists yet, creating
// parent directories as needed.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	return Overwrite(path, []struct{}{})
}

// Read loads every record from the container at path.
func Read[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	var c container[T]
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return c.Products, nil
}

// Overwrite replaces the container contents wholesale.
func Overwrite[T any](path string, items []T) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if items == nil {
		items = []T{}
	}
	return writeAtomic(path, container[T]{Products: items})
}

// Append merges items into the existing container without truncating
// prior entries. A missing container behaves as an empty one.
func Append[T any](path string, items []T) error {
	if len(items) == 0 {
		return nil
	}

	existing, err := Read[T](path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		existing = nil
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	return writeAtomic(path, container[T]{Products: append(existing, items...)})
}

// AppendOne adds a single record, used for the quarantine ledger.
func AppendOne[T any](path string, item T) error {
	return Append(path, []T{item})
}

func writeAtomic[T any](path string, c container[T]) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %q: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
