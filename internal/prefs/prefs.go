// Package prefs persists user preferences in a small YAML file.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prefs is the persisted document.
type Prefs struct {
	AccessibilityMode bool `yaml:"accessibility_mode" json:"accessibility_mode"`
}

// Store guards a Prefs document backed by path. A missing file reads as
// the zero Prefs.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Prefs
}

// Open loads path if it exists.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Get returns the current preferences.
func (s *Store) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// AccessibilityMode reports the accessibility flag.
func (s *Store) AccessibilityMode() bool { return s.Get().AccessibilityMode }

// SetAccessibilityMode updates and persists the flag. The in-memory value
// only changes when the write succeeds.
func (s *Store) SetAccessibilityMode(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	next.AccessibilityMode = on
	if err := s.write(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// write replaces the file atomically.
func (s *Store) write(p Prefs) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
