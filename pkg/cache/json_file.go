// Package cache persists small JSON snapshots to disk so the proxy can start
// with data from its previous run.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrNotFound = errors.New("cache file not found")

// Snapshot wraps cached data with the time it was produced.
type Snapshot[T any] struct {
	SavedAt time.Time `json:"saved_at"`
	Data    T         `json:"data"`
}

func (s Snapshot[T]) Age(now time.Time) time.Duration {
	if s.SavedAt.IsZero() {
		return 0
	}
	return now.Sub(s.SavedAt)
}

func Load[T any](path string) (Snapshot[T], error) {
	var snap Snapshot[T]
	if err := LoadJSON(path, &snap); err != nil {
		return Snapshot[T]{}, err
	}
	return snap, nil
}

func Save[T any](path string, data T, savedAt time.Time) error {
	return SaveJSON(path, Snapshot[T]{SavedAt: savedAt.UTC(), Data: data})
}

func LoadJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode cache file: %w", err)
	}
	return nil
}

// SaveJSON writes value through a temp file and rename so readers never see
// a partial file.
func SaveJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write cache temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
