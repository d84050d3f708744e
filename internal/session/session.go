// Package session persists one event stream per terminal session under
// logs/sessions/session_YYYYMMDD_HHMMSS.json, and lists/loads them back for
// the `session *` CLI verbs.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"localmind/internal/errs"
)

// Event is one recorded turn within a session.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Request   string    `json:"request"`
	Kind      string    `json:"kind"`
	Chosen    string    `json:"chosen_model,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Record is the full persisted file for one session.
type Record struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Events    []Event   `json:"events"`
}

func sessionsDir(appDir string) string {
	return filepath.Join(appDir, "logs", "sessions")
}

// NewID mints a session id from a fixed instant, in the
// session_YYYYMMDD_HHMMSS.json naming convention (without the prefix/suffix).
func NewID(at time.Time) string {
	return at.Format("20060102_150405")
}

// Open creates a new in-memory Record for id, ready to accept events.
func Open(id string) *Record {
	return &Record{ID: id, StartedAt: time.Now()}
}

// Append adds an event to the record. Does not persist; call Save.
func (r *Record) Append(ev Event) {
	r.Events = append(r.Events, ev)
}

func fileNameFor(id string) string {
	return "session_" + id + ".json"
}

// Save durably writes the record to <appDir>/logs/sessions/session_<id>.json,
// via a temp-file-then-rename, matching the enablement store's write path.
func Save(appDir string, r *Record) error {
	dir := sessionsDir(appDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.KindResource, "session", "check disk space and permissions", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errs.New(errs.KindInvariant, "session", "", err)
	}

	path := filepath.Join(dir, fileNameFor(r.ID))
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return errs.New(errs.KindResource, "session", "check disk space and permissions", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "session", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.KindResource, "session", "", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindResource, "session", "", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.New(errs.KindResource, "session", "", err)
	}
	return nil
}

// List returns every session id found under logs/sessions, newest first.
func List(appDir string) ([]string, error) {
	dir := sessionsDir(appDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindResource, "session", "check directory permissions", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "session_"), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Load reads a single session's Record back by id.
func Load(appDir, id string) (Record, error) {
	var r Record
	path := filepath.Join(sessionsDir(appDir), fileNameFor(id))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, errs.New(errs.KindInput, "session", "run 'session list' to see available sessions", err)
		}
		return r, errs.New(errs.KindResource, "session", "check file permissions", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, errs.New(errs.KindInvariant, "session", "session file is corrupt", err)
	}
	return r, nil
}

// Stats summarizes every persisted session: total sessions, total events,
// and a per-model invocation count drawn from each event's Chosen field.
type Stats struct {
	TotalSessions int
	TotalEvents   int
	ByModel       map[string]int
}

// ComputeStats loads every session and aggregates Stats, matching the
// teacher's computeStats convention of a single read-everything pass.
func ComputeStats(appDir string) (Stats, error) {
	s := Stats{ByModel: make(map[string]int)}
	ids, err := List(appDir)
	if err != nil {
		return s, err
	}
	s.TotalSessions = len(ids)
	for _, id := range ids {
		r, err := Load(appDir, id)
		if err != nil {
			continue
		}
		s.TotalEvents += len(r.Events)
		for _, ev := range r.Events {
			if ev.Chosen != "" {
				s.ByModel[ev.Chosen]++
			}
		}
	}
	return s, nil
}
