package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppDirHonorsLocalmindHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOCALMIND_HOME", dir)

	got, err := AppDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Fatalf("expected %s, got %s", dir, got)
	}
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s.BackupModelsDir != "" {
		t.Fatalf("expected empty settings, got %+v", s)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Settings{BackupModelsDir: "/mnt/backup"}); err != nil {
		t.Fatal(err)
	}
	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.BackupModelsDir != "/mnt/backup" {
		t.Fatalf("expected round-tripped backup dir, got %q", s.BackupModelsDir)
	}
}

func TestSavePreservesUnrelatedKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"logging":{"debug_mode":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Save(dir, Settings{BackupModelsDir: "/x"}); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"debug_mode"`) {
		t.Fatalf("expected logging key preserved, got %s", raw)
	}
}
