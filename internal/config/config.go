// Package config resolves the per-user application directory and loads the
// general-purpose config.json settings (distinct from logx's own read of
// the "logging" key in the same file).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"localmind/internal/errs"
)

// Settings is the subset of config.json this core reads and writes.
// Unknown keys in the file (e.g. "logging") are preserved on save.
type Settings struct {
	BackupModelsDir string `json:"backup_models_dir,omitempty"`
}

// AppDir resolves the per-user application directory, creating it if
// necessary. Honors LOCALMIND_HOME for tests and containerized runs,
// otherwise uses the OS's standard per-user config location.
func AppDir() (string, error) {
	if dir := os.Getenv("LOCALMIND_HOME"); dir != "" {
		return dir, ensureDir(dir)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errs.New(errs.KindResource, "config", "set LOCALMIND_HOME to a writable directory", err)
	}
	dir := filepath.Join(base, "localmind")
	return dir, ensureDir(dir)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.KindResource, "config", "check disk space and permissions", err)
	}
	return nil
}

// Load reads <appDir>/config.json, returning zero-value Settings if the
// file does not yet exist. Unrecognized keys are ignored, not rejected.
func Load(appDir string) (Settings, error) {
	var s Settings
	raw, err := os.ReadFile(filepath.Join(appDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, errs.New(errs.KindResource, "config", "check file permissions", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, errs.New(errs.KindInvariant, "config", "config.json is corrupt; delete it to reset", err)
	}
	return s, nil
}

// Save merges Settings into config.json, preserving any other top-level
// keys already present (e.g. logx's "logging" block), and writes durably
// via a temp-file-then-rename, matching the enablement store's pattern.
func Save(appDir string, s Settings) error {
	path := filepath.Join(appDir, "config.json")

	merged := make(map[string]json.RawMessage)
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &merged)
	}

	ownFields, err := json.Marshal(s)
	if err != nil {
		return errs.New(errs.KindInvariant, "config", "", err)
	}
	var ownMap map[string]json.RawMessage
	if err := json.Unmarshal(ownFields, &ownMap); err != nil {
		return errs.New(errs.KindInvariant, "config", "", err)
	}
	for k, v := range ownMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return errs.New(errs.KindInvariant, "config", "", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.KindResource, "config", "check disk space and permissions", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return errs.New(errs.KindResource, "config", "check disk space and permissions", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "config", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "config", "", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindResource, "config", "", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.New(errs.KindResource, "config", "", err)
	}
	return nil
}
