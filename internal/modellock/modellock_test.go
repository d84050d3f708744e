package modellock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	lease, ok, err := m.Acquire("mistral")
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}

	_, ok2, err := m.Acquire("mistral")
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatal("second acquire of a held lock must fail (non-blocking)")
	}

	lease.Release()

	lease2, ok3, err := m.Acquire("mistral")
	if err != nil || !ok3 {
		t.Fatalf("acquire after release should succeed: ok=%v err=%v", ok3, err)
	}
	lease2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m, _ := New(dir)
	lease, ok, err := m.Acquire("tinyllama")
	if err != nil || !ok {
		t.Fatal("acquire failed")
	}
	lease.Release()
	lease.Release() // must not panic or double-free the semaphore
}

func TestGetLockedModelsExcludesOwn(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	lease, ok, err := m.Acquire("mistral")
	if err != nil || !ok {
		t.Fatal("acquire failed")
	}
	defer lease.Release()

	locked, err := m.GetLockedModels(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 1 || locked[0] != "mistral" {
		t.Fatalf("expected [mistral], got %v", locked)
	}

	excludeOwn, err := m.GetLockedModels(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(excludeOwn) != 0 {
		t.Fatalf("expected no locks when excluding own pid, got %v", excludeOwn)
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a lock left behind by a dead process (a pid very unlikely
	// to be alive, with a stale acquired-at timestamp).
	lockPath := filepath.Join(dir, "locks", "mistral.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := `{"pid": 999999, "acquired_at": "` + time.Now().Add(-time.Hour).Format(time.RFC3339) + `"}`
	if err := os.WriteFile(lockPath, []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}

	lease, ok, err := m.Acquire("mistral")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected to reclaim a stale lock from a dead pid")
	}
	lease.Release()
}
