// Package router implements the Router (C13): orchestrates classification,
// planning, execution, and repair for a single request, owning model lock
// acquisition and release around the whole request.
package router

import (
	_ "embed"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"localmind/internal/classify"
	"localmind/internal/enablement"
	"localmind/internal/exec"
	"localmind/internal/integrity"
	"localmind/internal/logx"
	"localmind/internal/modellock"
	"localmind/internal/plan"
	"localmind/internal/registry"
	"localmind/internal/selector"
	"localmind/internal/trace"
)

//go:embed typos.toml
var typosTOML []byte

type typoFile struct {
	Typo map[string]string `toml:"typo"`
}

func loadTypoDictionary() (map[string]string, error) {
	var tf typoFile
	if _, err := toml.Decode(string(typosTOML), &tf); err != nil {
		return nil, fmt.Errorf("router: decoding typo dictionary: %w", err)
	}
	return tf.Typo, nil
}

// BusyState is the Router's externally pollable status; no
// animation loop lives in this package; a UI layer polls this enum.
type BusyState int

const (
	StateIdle BusyState = iota
	StateBusy
)

// ModelLockManager is the subset of modellock.Manager the Router needs,
// kept as an interface so tests can supply a fake.
type ModelLockManager interface {
	Acquire(canonical string) (*modellock.Lease, bool, error)
}

// ModelCandidateSource assembles selector.Candidate values for every known
// model, consulting the Registry, Integrity Verifier, Enablement Store,
// and Lock Manager.
type ModelCandidateSource interface {
	Candidates(excludeLocked bool) ([]selector.Candidate, error)
}

// registrySource is the default ModelCandidateSource, wiring C1/C2/C3/C4
// together.
type registrySource struct {
	reg        *registry.Registry
	enablement *enablement.Store
	lockMgr    *modellock.Manager
	modelDir   string
}

// NewRegistrySource builds the default candidate source from the four
// model-governance components.
func NewRegistrySource(reg *registry.Registry, en *enablement.Store, lockMgr *modellock.Manager, modelDir string) ModelCandidateSource {
	return &registrySource{reg: reg, enablement: en, lockMgr: lockMgr, modelDir: modelDir}
}

func (s *registrySource) Candidates(excludeLocked bool) ([]selector.Candidate, error) {
	locked, err := s.lockMgr.GetLockedModels(true)
	if err != nil {
		return nil, err
	}
	lockedSet := make(map[string]bool, len(locked))
	for _, m := range locked {
		lockedSet[m] = true
	}

	var candidates []selector.Candidate
	for _, m := range s.reg.All() {
		verdict, _ := integrity.Verify(m.Canonical, filepath.Join(s.modelDir, m.File), m.ExpectedSizeMB)
		candidates = append(candidates, selector.Candidate{
			Canonical:   m.Canonical,
			Tier:        m.Tier,
			IntegrityOK: verdict.Status == integrity.StatusOK,
			Enabled:     s.enablement.IsEnabled(m.Canonical),
			Locked:      lockedSet[m.Canonical],
		})
	}
	return candidates, nil
}

// Request is one inbound user turn.
type Request struct {
	Text      string
	Purpose   selector.Purpose
	Language  string
	ExcludeLockedModels bool
}

// Response is what the Router hands back after a request completes.
type Response struct {
	Kind      classify.Kind
	Text      string // populated for canned/QA responses
	Checklist plan.Checklist
	Chosen    string
	Tracker   *trace.Tracker
}

// Router orchestrates C8 -> C9 -> C10 -> C11 for a single request.
type Router struct {
	Candidates ModelCandidateSource
	LockMgr    ModelLockManager
	Planner  plan.ModelPlanner
	Executor *exec.Executor

	typos map[string]string

	mu    sync.Mutex
	state BusyState
}

// New constructs a Router, loading the build-time typo dictionary.
func New(candidates ModelCandidateSource, lockMgr ModelLockManager, planner plan.ModelPlanner, executor *exec.Executor) (*Router, error) {
	typos, err := loadTypoDictionary()
	if err != nil {
		return nil, err
	}
	return &Router{
		Candidates: candidates,
		LockMgr:    lockMgr,
		Planner:    planner,
		Executor:   executor,
		typos:      typos,
		state:      StateIdle,
	}, nil
}

// State reports the Router's current busy/idle status.
func (r *Router) State() BusyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Router) setState(s BusyState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// canonicalizeTypos applies the build-time typo dictionary word-by-word,
// step 1.
func (r *Router) canonicalizeTypos(input string) string {
	words := strings.Fields(input)
	for i, w := range words {
		lower := strings.ToLower(w)
		if fix, ok := r.typos[lower]; ok {
			words[i] = fix
		}
	}
	return strings.Join(words, " ")
}

// tierOf looks up a candidate's tier by canonical name, 0 if not found.
func tierOf(candidates []selector.Candidate, canonical string) int {
	for _, c := range candidates {
		if c.Canonical == canonical {
			return c.Tier
		}
	}
	return 0
}

// maxLockContentionRetries bounds reselection after a lost lock race; each
// retry drops one more contended model from the pool, so this converges
// long before any realistic candidate list is exhausted.
const maxLockContentionRetries = 8

// selectAndAcquire picks an eligible model and acquires its lock, excluding
// the chosen candidate and trying again on contention rather than waiting,
// per modellock.Manager's cooperative-lock contract.
func (r *Router) selectAndAcquire(candidates []selector.Candidate, purpose selector.Purpose, excludeLocked bool) (selector.Result, *modellock.Lease, error) {
	contended := make(map[string]bool)
	for attempt := 0; attempt <= maxLockContentionRetries; attempt++ {
		pool := candidates
		if len(contended) > 0 {
			pool = make([]selector.Candidate, 0, len(candidates))
			for _, c := range candidates {
				if !contended[c.Canonical] {
					pool = append(pool, c)
				}
			}
		}

		result := selector.Select(pool, purpose, excludeLocked)
		if !result.Found {
			return selector.Result{}, nil, fmt.Errorf("router: no eligible model for this request")
		}

		lease, acquired, err := r.LockMgr.Acquire(result.Chosen)
		if err != nil {
			return selector.Result{}, nil, fmt.Errorf("router: acquiring lock for %s: %w", result.Chosen, err)
		}
		if acquired {
			return result, lease, nil
		}
		contended[result.Chosen] = true
	}
	return selector.Result{}, nil, fmt.Errorf("router: no eligible model available after %d lock contention retries", maxLockContentionRetries)
}

// Handle drives one request through the full pipeline: canonicalize,
// classify, select a model (if needed), plan, and execute; a failing script
// is handed to the Repair Loop by the Executor. Lock acquisition happens once a model
// is chosen and is released on every exit path, including a panicking
// step (the deferred release runs regardless).
func (r *Router) Handle(ctx context.Context, req Request) (Response, error) {
	r.setState(StateBusy)
	defer r.setState(StateIdle)

	tracker := trace.New()
	log := logx.Get(logx.CategoryRouter)

	text := r.canonicalizeTypos(req.Text)
	decision := classify.Classify(text)
	log.Info("classified %q as %s", text, decision.Kind)

	if decision.Kind == classify.KindCanned {
		tracker.StopTimer()
		return Response{Kind: decision.Kind, Text: decision.CannedResponse, Tracker: tracker}, nil
	}

	candidates, err := r.Candidates.Candidates(req.ExcludeLockedModels)
	if err != nil {
		return Response{}, fmt.Errorf("router: assembling model candidates: %w", err)
	}

	result, lease, err := r.selectAndAcquire(candidates, req.Purpose, req.ExcludeLockedModels)
	if err != nil {
		return Response{}, err
	}
	defer lease.Release()

	chosenTier := tierOf(candidates, result.Chosen)
	checklist, err := plan.Plan(ctx, text, decision.Kind, r.Planner, chosenTier)
	if err != nil {
		return Response{}, fmt.Errorf("router: planning: %w", err)
	}

	if r.Executor != nil {
		if err := r.Executor.Run(ctx, checklist, req.Language); err != nil {
			tracker.StopTimer()
			return Response{Kind: decision.Kind, Checklist: checklist, Chosen: result.Chosen, Tracker: tracker}, err
		}
	}

	tracker.StopTimer()
	return Response{Kind: decision.Kind, Checklist: checklist, Chosen: result.Chosen, Tracker: tracker}, nil
}
