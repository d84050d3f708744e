// Package modellock implements the Model Lock Manager (C4): a cross-process,
// per-model advisory lock backed by a lock file under a well-known
// directory, with stale-lock detection via pid liveness and an acquired-at
// grace window. A cooperative lock, not a hard mutex: callers that ignore
// it can still touch a model's files, but every well-behaved caller routes
// through Acquire/Release.
package modellock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"localmind/internal/errs"
	"localmind/internal/logx"
)

// StaleGrace is the clock-skew allowance for a lock record's acquired_at:
// a record stamped more than StaleGrace in the future is treated as stale.
// A record whose owning pid is dead is stale at once, however recent.
const StaleGrace = 2 * time.Second

type lockRecord struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager mediates model exclusivity across cooperating processes on one
// host. All methods are safe for concurrent use.
type Manager struct {
	dir string

	// localSem provides an intra-process fast-path: a process never needs
	// to touch the filesystem to discover it already holds a model's lock
	// under another goroutine's request.
	mu       sync.Mutex
	localSem map[string]*semaphore.Weighted
}

// New creates a Manager whose lock files live under <appDir>/locks.
func New(appDir string) (*Manager, error) {
	dir := filepath.Join(appDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindResource, "modellock", "check disk space and permissions", err)
	}
	return &Manager{dir: dir, localSem: make(map[string]*semaphore.Weighted)}, nil
}

func (m *Manager) lockPath(canonical string) string {
	return filepath.Join(m.dir, canonical+".lock")
}

func (m *Manager) semFor(canonical string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.localSem[canonical]
	if !ok {
		s = semaphore.NewWeighted(1)
		m.localSem[canonical] = s
	}
	return s
}

// Lease is a handle whose Release drops a held model lock. Release is
// idempotent and safe to call multiple times or via defer on every exit
// path, including after a panic recovery.
type Lease struct {
	m         *Manager
	canonical string
	path      string
	sem       *semaphore.Weighted
	once      sync.Once
}

// Acquire attempts to take the named lock immediately, without blocking.
// It returns (nil, false, nil) on contention; the caller is expected to
// reselect via GetLockedModels rather than wait.
func (m *Manager) Acquire(canonical string) (*Lease, bool, error) {
	sem := m.semFor(canonical)
	if !sem.TryAcquire(1) {
		return nil, false, nil
	}

	path := m.lockPath(canonical)
	rec := lockRecord{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		sem.Release(1)
		return nil, false, errs.New(errs.KindInvariant, "modellock", "", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if stolen, stealErr := m.reclaimIfStale(canonical, path, rec, data); stealErr == nil && stolen {
				logx.Get(logx.CategoryLock).Info("reclaimed stale lock for %s (pid=%d)", canonical, rec.PID)
				return &Lease{m: m, canonical: canonical, path: path, sem: sem}, true, nil
			}
			sem.Release(1)
			return nil, false, nil
		}
		sem.Release(1)
		return nil, false, errs.New(errs.KindResource, "modellock", "check lock directory permissions", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		sem.Release(1)
		os.Remove(path)
		return nil, false, errs.New(errs.KindResource, "modellock", "", err)
	}

	logx.Get(logx.CategoryLock).Info("acquired lock for %s (pid=%d)", canonical, rec.PID)
	return &Lease{m: m, canonical: canonical, path: path, sem: sem}, true, nil
}

// reclaimIfStale inspects an existing lock file; if its owning pid is dead
// or its acquired-at timestamp is implausible (in the future, or the
// record is corrupt), it overwrites the file with this process's record
// and reports success.
func (m *Manager) reclaimIfStale(canonical, path string, newRec lockRecord, newData []byte) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var existing lockRecord
	corrupt := json.Unmarshal(raw, &existing) != nil

	stale := corrupt || !pidAlive(existing.PID) || time.Since(existing.AcquiredAt) < -StaleGrace
	if !stale {
		return false, nil
	}

	if err := os.WriteFile(path, newData, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs no-op existence/permission checks only.
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			logx.Get(logx.CategoryLock).Warn("failed to remove lock file %s: %v", l.path, err)
		}
		l.sem.Release(1)
		logx.Get(logx.CategoryLock).Info("released lock for %s", l.canonical)
	})
}

// GetLockedModels returns the canonical names currently locked by *other*
// processes (or, if excludeOwn is false, by anyone including this
// process). Stale locks (dead owner) are not reported as locked.
func (m *Manager) GetLockedModels(excludeOwn bool) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindResource, "modellock", "", err)
	}

	var locked []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".lock"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		canonical := name[:len(name)-len(suffix)]

		raw, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			continue // lock released concurrently; not an error for the caller
		}
		var rec lockRecord
		if json.Unmarshal(raw, &rec) != nil {
			continue
		}
		if !pidAlive(rec.PID) {
			continue // stale, not actually held
		}
		if excludeOwn && rec.PID == os.Getpid() {
			continue
		}
		locked = append(locked, canonical)
	}
	return locked, nil
}

// IsLocked reports whether canonical is currently held by a live owner.
func (m *Manager) IsLocked(canonical string) (bool, error) {
	locked, err := m.GetLockedModels(false)
	if err != nil {
		return false, err
	}
	for _, c := range locked {
		if c == canonical {
			return true, nil
		}
	}
	return false, nil
}
