// Package enablement implements the Enablement Store (C3): a persisted
// canonical-name -> bool table, durable-written on every mutation.
package enablement

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"localmind/internal/errs"
	"localmind/internal/logx"
	"localmind/internal/registry"
)

// Store is the persisted per-model enable/disable table. Unknown keys
// default to true on read; every write canonicalizes its key first.
type Store struct {
	mu   sync.RWMutex
	path string
	reg  *registry.Registry
	data map[string]bool
}

// Open loads (or initializes) the store at <appDir>/llm_state.json.
func Open(appDir string, reg *registry.Registry) (*Store, error) {
	path := filepath.Join(appDir, "llm_state.json")
	s := &Store{path: path, reg: reg, data: make(map[string]bool)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errs.New(errs.KindResource, "enablement", "check file permissions", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, errs.New(errs.KindInvariant, "enablement", "llm_state.json is corrupt; delete it to reset", err)
	}
	return s, nil
}

func (s *Store) canonicalize(name string) string {
	if s.reg == nil {
		return name
	}
	if m, ok := s.reg.CanonicalizeOne(name); ok {
		return m.Canonical
	}
	return name
}

// IsEnabled reports the enablement flag for name. Unknown keys default true.
func (s *Store) IsEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canon := s.canonicalize(name)
	v, ok := s.data[canon]
	if !ok {
		return true
	}
	return v
}

// Enable sets the flag for name to true and persists durably.
func (s *Store) Enable(name string) error { return s.set(name, true) }

// Disable sets the flag for name to false and persists durably.
func (s *Store) Disable(name string) error { return s.set(name, false) }

func (s *Store) set(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	canon := s.canonicalize(name)
	s.data[canon] = value
	return s.persistLocked()
}

// EnableAll sets every known model's flag to true.
func (s *Store) EnableAll() error { return s.setAll(true) }

// DisableAll sets every known model's flag to false.
func (s *Store) DisableAll() error { return s.setAll(false) }

func (s *Store) setAll(value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil {
		for _, m := range s.reg.All() {
			s.data[m.Canonical] = value
		}
	}
	return s.persistLocked()
}

// SetTier sets the flag for every model at the given tier.
func (s *Store) SetTier(tier int, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil {
		for _, m := range s.reg.All() {
			if m.Tier == tier {
				s.data[m.Canonical] = value
			}
		}
	}
	return s.persistLocked()
}

// persistLocked writes the table atomically: marshal to a temp file in the
// same directory, fsync it, then rename over the target. Callers must hold
// s.mu.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.KindResource, "enablement", "check disk space and permissions", err)
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errs.New(errs.KindInvariant, "enablement", "", err)
	}

	tmp, err := os.CreateTemp(dir, ".llm_state-*.json")
	if err != nil {
		return errs.New(errs.KindResource, "enablement", "check disk space and permissions", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "enablement", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "enablement", "", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindResource, "enablement", "", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return errs.New(errs.KindResource, "enablement", "", err)
	}

	logx.Get(logx.CategoryEnablement).Debug("persisted %d entries to %s", len(s.data), s.path)
	return nil
}

// Snapshot returns a copy of the raw canonical-name -> bool table, for
// display commands (e.g. "llm list").
func (s *Store) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
