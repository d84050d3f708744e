// Package trace implements the Execution Tracker (C12): an append-only
// recorder of every file, directory, resource, model, and consensus event
// that occurs while a single request runs.
package trace

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FileEvent records one file-affecting action.
type FileEvent struct {
	Timestamp   time.Time
	Path        string
	Action      string // created, modified, deleted, moved, overwritten
	SizeBytes   int64
	Destination string // populated only for "moved"
}

// DirectoryEvent records one directory-affecting action.
type DirectoryEvent struct {
	Timestamp   time.Time
	Path        string
	Action      string // created, modified, deleted, moved, overwritten
	Destination string // populated only for "moved"
}

// TemplateUse records a template consulted or applied during a request.
type TemplateUse struct {
	Timestamp time.Time
	Name      string
	Relevance int
	Source    string // "local" or "remote"
}

// FixUse records a fix consulted or applied during a request.
type FixUse struct {
	Timestamp   time.Time
	Name        string
	SuccessRate float64
}

// ModelInvocation records one call out to a backend.
type ModelInvocation struct {
	Timestamp time.Time
	Model     string
	Tier      int
	Purpose   string
	Tokens    int
	Estimated bool
}

// ConsensusUpload records one publish to the Template/Fix Cache's remote tier.
type ConsensusUpload struct {
	Timestamp time.Time
	Kind      string // "template" or "fix"
	Name      string
	Action    string // "uploaded", "updated", "merged"
}

// Tracker is a pure recorder: every Track* method appends, nothing derives
// from prior calls, and nothing here decides behavior elsewhere. Safe for
// concurrent use by multiple steps of the same request.
type Tracker struct {
	mu sync.Mutex

	files       []FileEvent
	directories []DirectoryEvent
	templates   []TemplateUse
	fixes       []FixUse
	models      []ModelInvocation
	consensus   []ConsensusUpload

	startTime time.Time
	endTime   time.Time

	MetricsEnabled bool
	modelInvocationsTotal prometheus.Counter
	modelTokensTotal      prometheus.Counter
	consensusUploadsTotal prometheus.Counter
}

// New creates a Tracker with its timer started.
func New() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// NewWithMetrics creates a Tracker that also increments the given
// prometheus collectors on every model invocation and consensus upload.
// This is strictly additional observability: the Tracker never reads
// these back, so it cannot affect any documented invariant.
func NewWithMetrics(invocations, tokens, uploads prometheus.Counter) *Tracker {
	t := New()
	t.MetricsEnabled = true
	t.modelInvocationsTotal = invocations
	t.modelTokensTotal = tokens
	t.consensusUploadsTotal = uploads
	return t
}

func (t *Tracker) TrackFileCreated(path string, sizeBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, FileEvent{Timestamp: time.Now(), Path: path, Action: "created", SizeBytes: sizeBytes})
}

func (t *Tracker) TrackFileModified(path string, sizeBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, FileEvent{Timestamp: time.Now(), Path: path, Action: "modified", SizeBytes: sizeBytes})
}

func (t *Tracker) TrackFileOverwritten(path string, sizeBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, FileEvent{Timestamp: time.Now(), Path: path, Action: "overwritten", SizeBytes: sizeBytes})
}

func (t *Tracker) TrackFileDeleted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, FileEvent{Timestamp: time.Now(), Path: path, Action: "deleted"})
}

func (t *Tracker) TrackFileMoved(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, FileEvent{Timestamp: time.Now(), Path: from, Action: "moved", Destination: to})
}

func (t *Tracker) TrackDirectoryCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directories = append(t.directories, DirectoryEvent{Timestamp: time.Now(), Path: path, Action: "created"})
}

func (t *Tracker) TrackDirectoryModified(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directories = append(t.directories, DirectoryEvent{Timestamp: time.Now(), Path: path, Action: "modified"})
}

func (t *Tracker) TrackDirectoryDeleted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directories = append(t.directories, DirectoryEvent{Timestamp: time.Now(), Path: path, Action: "deleted"})
}

func (t *Tracker) TrackDirectoryMoved(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directories = append(t.directories, DirectoryEvent{Timestamp: time.Now(), Path: from, Action: "moved", Destination: to})
}

func (t *Tracker) TrackDirectoryOverwritten(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directories = append(t.directories, DirectoryEvent{Timestamp: time.Now(), Path: path, Action: "overwritten"})
}

func (t *Tracker) TrackTemplateUsed(name string, relevance int, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates = append(t.templates, TemplateUse{Timestamp: time.Now(), Name: name, Relevance: relevance, Source: source})
}

func (t *Tracker) TrackFixUsed(name string, successRate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixes = append(t.fixes, FixUse{Timestamp: time.Now(), Name: name, SuccessRate: successRate})
}

func (t *Tracker) TrackModelInvocation(model string, tier int, purpose string, tokens int, estimated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models = append(t.models, ModelInvocation{
		Timestamp: time.Now(), Model: model, Tier: tier, Purpose: purpose, Tokens: tokens, Estimated: estimated,
	})
	if t.MetricsEnabled {
		if t.modelInvocationsTotal != nil {
			t.modelInvocationsTotal.Inc()
		}
		if t.modelTokensTotal != nil {
			t.modelTokensTotal.Add(float64(tokens))
		}
	}
}

func (t *Tracker) TrackConsensusUpload(kind, name, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consensus = append(t.consensus, ConsensusUpload{Timestamp: time.Now(), Kind: kind, Name: name, Action: action})
	if t.MetricsEnabled && t.consensusUploadsTotal != nil {
		t.consensusUploadsTotal.Inc()
	}
}

// StopTimer marks the request as finished. Safe to call more than once;
// only the first call is recorded.
func (t *Tracker) StopTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endTime.IsZero() {
		t.endTime = time.Now()
	}
}

// Elapsed returns the time since start, or since start until StopTimer was
// called if the timer has already been stopped.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.startTime)
}

// Summary is the counts-only projection used for a short end-of-request
// display.
type Summary struct {
	FilesAffected         int
	FilesCreated          int
	FilesModified         int
	FilesDeleted          int
	FilesMoved            int
	FilesOverwritten      int
	DirectoriesCreated    int
	DirectoriesModified   int
	DirectoriesDeleted    int
	DirectoriesMoved      int
	DirectoriesOverwritten int
	TemplatesUsed         int
	FixesUsed             int
	ModelsUsed            int
	ConsensusUploads      int
	ElapsedSeconds        float64
}

// Summarize returns the counts-only projection
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summarizeLocked()
}

// ModelTokenBreakdown aggregates tokens spent per model, further broken
// down by purpose.
type ModelTokenBreakdown struct {
	Tier        int
	TotalTokens int
	ByPurpose   map[string]int
}

// DetailedLog is the full-log projection: every event plus aggregated
// token accounting.
type DetailedLog struct {
	Files       []FileEvent
	Directories []DirectoryEvent
	Templates   []TemplateUse
	Fixes       []FixUse
	Models      []ModelInvocation
	Consensus   []ConsensusUpload
	TotalTokens int
	ByModel     map[string]*ModelTokenBreakdown
	StartTime   time.Time
	EndTime     time.Time
	Elapsed     time.Duration
	Summary     Summary
}

// DetailedLog returns a snapshot of every recorded event plus token
// aggregation, exactly as and the original tracker's
// get_detailed_log describe. Token aggregation here is a strict sum: no
// estimation happens at this layer, since estimation is tagged at the
// Adapter (C5) and carried through as the Estimated field on each
// ModelInvocation.
func (t *Tracker) DetailedLog() DetailedLog {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := make(map[string]*ModelTokenBreakdown)
	total := 0
	for _, m := range t.models {
		total += m.Tokens
		b, ok := byModel[m.Model]
		if !ok {
			b = &ModelTokenBreakdown{Tier: m.Tier, ByPurpose: make(map[string]int)}
			byModel[m.Model] = b
		}
		b.TotalTokens += m.Tokens
		b.ByPurpose[m.Purpose] += m.Tokens
	}

	end := t.endTime
	if end.IsZero() {
		end = time.Now()
	}

	return DetailedLog{
		Files:       append([]FileEvent{}, t.files...),
		Directories: append([]DirectoryEvent{}, t.directories...),
		Templates:   append([]TemplateUse{}, t.templates...),
		Fixes:       append([]FixUse{}, t.fixes...),
		Models:      append([]ModelInvocation{}, t.models...),
		Consensus:   append([]ConsensusUpload{}, t.consensus...),
		TotalTokens: total,
		ByModel:     byModel,
		StartTime:   t.startTime,
		EndTime:     t.endTime,
		Elapsed:     end.Sub(t.startTime),
		Summary:     t.summarizeLocked(),
	}
}

func (t *Tracker) summarizeLocked() Summary {
	s := Summary{ModelsUsed: len(t.models), TemplatesUsed: len(t.templates), FixesUsed: len(t.fixes),
		ConsensusUploads: len(t.consensus), FilesAffected: len(t.files)}
	for _, f := range t.files {
		switch f.Action {
		case "created":
			s.FilesCreated++
		case "modified":
			s.FilesModified++
		case "deleted":
			s.FilesDeleted++
		case "moved":
			s.FilesMoved++
		case "overwritten":
			s.FilesOverwritten++
		}
	}
	for _, d := range t.directories {
		switch d.Action {
		case "created":
			s.DirectoriesCreated++
		case "modified":
			s.DirectoriesModified++
		case "deleted":
			s.DirectoriesDeleted++
		case "moved":
			s.DirectoriesMoved++
		case "overwritten":
			s.DirectoriesOverwritten++
		}
	}
	end := t.endTime
	if end.IsZero() {
		end = time.Now()
	}
	s.ElapsedSeconds = end.Sub(t.startTime).Seconds()
	return s
}

// Reset clears every tracked collection and restarts the timer at the
// start of each new request.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = nil
	t.directories = nil
	t.templates = nil
	t.fixes = nil
	t.models = nil
	t.consensus = nil
	t.startTime = time.Now()
	t.endTime = time.Time{}
}
