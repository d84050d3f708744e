// Package repair implements the Repair Loop (C11): converts a failing
// script into a passing one by consulting the Template/Fix Cache and/or
// a model.
package repair

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"localmind/internal/cache"
	"localmind/internal/logx"
)

// State names a point in the repair state machine.
type State string

const (
	StateAnalyzing           State = "analyzing"
	StateConsultingConsensus State = "consulting_consensus"
	StateDeciding            State = "deciding"
	StateApplying            State = "applying"
	StateTesting             State = "testing"
	StateSuccess             State = "success"
	StateGivingUp            State = "giving_up"
)

// MaxRetries is the hard limit on repair attempts per request.
const MaxRetries = 3

// Analysis is the model's structured response during analyzing.
type Analysis struct {
	RootCause     string
	AffectedAreas []string
	FixPlan       []string
}

// Decision is the model's answer during deciding: exactly one of
// UseConsensus, AdaptConsensus, or NewFix is set.
type Decision struct {
	UseConsensusID   string
	AdaptConsensusID string
	AdaptedCode      string
	NewFixCode       string
}

// Strategy names how a fix was produced, for publication lineage.
type Strategy string

const (
	StrategyNewFix         Strategy = "NEW_FIX"
	StrategyUseConsensus   Strategy = "USE_CONSENSUS"
	StrategyAdaptConsensus Strategy = "ADAPT_CONSENSUS"
)

// ScriptRunner re-runs the target script and reports the outcome, matching
// the Step Executor's run-script contract.
type ScriptRunner interface {
	Run(ctx context.Context, path string) (exitCode int, stdout, stderr string, err error)
}

// ModelConsultant drives the analyzing and deciding states.
type ModelConsultant interface {
	Analyze(ctx context.Context, code, stderr, signature string) (Analysis, error)
	Decide(ctx context.Context, code, stderr string, analysis Analysis, candidates []cache.Fix) (Decision, error)
}

// EnvironmentProvisioner is the external collaborator that installs a
// missing dependency into a scoped environment It is not
// counted against the retry budget.
type EnvironmentProvisioner interface {
	Provision(ctx context.Context, language string, dependency string) error
}

var dependencyMissingPattern = regexp.MustCompile(`(?i)(module not found|modulenotfounderror|no module named|cannot find package|importerror)`)
var dependencyNamePattern = regexp.MustCompile(`(?i)no module named ['"]?([\w.\-]+)['"]?`)

// Loop drives one request's repair attempts to completion.
type Loop struct {
	Cache        *cache.Cache
	Model        ModelConsultant
	Runner       ScriptRunner
	Provisioner  EnvironmentProvisioner
	Language     string

	state      State
	retryCount int
	lastSig    string
	history    []Transition
}

// Transition records one state change for tracing/debugging.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
}

// New creates a Loop ready to repair a single failing script.
func New(c *cache.Cache, model ModelConsultant, runner ScriptRunner, provisioner EnvironmentProvisioner, language string) *Loop {
	return &Loop{
		Cache:       c,
		Model:       model,
		Runner:      runner,
		Provisioner: provisioner,
		Language:    language,
		state:       StateAnalyzing,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State { return l.state }

// History returns the recorded state transitions.
func (l *Loop) History() []Transition { return append([]Transition{}, l.history...) }

func (l *Loop) transition(to State) {
	l.history = append(l.history, Transition{From: l.state, To: to, Timestamp: time.Now()})
	l.state = to
}

// Signature extracts a stable error signature: the error class plus the
// first 50 characters of the message.
func Signature(stderr string) string {
	line := firstNonEmptyLine(stderr)
	// Python tracebacks and Node stack traces print the exception line
	// last, so the last line naming an error class is the one used.
	for _, l := range strings.Split(stderr, "\n") {
		if errorClassPattern.MatchString(l) {
			line = l
		}
	}
	class := errorClass(line)
	msg := strings.TrimSpace(line)
	if len(msg) > 50 {
		msg = msg[:50]
	}
	return fmt.Sprintf("%s:%s", class, msg)
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

var errorClassPattern = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9]*(?:Error|Exception))\b`)

func errorClass(line string) string {
	if m := errorClassPattern.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	if strings.Contains(line, "--- FAIL") {
		return "TestFailure"
	}
	return "RuntimeError"
}

// Repair drives the full state machine for one failing script, from the
// first stderr through success or giving_up. code is the current file
// content on disk at path. Repair satisfies exec.RepairHandler.
func (l *Loop) Repair(ctx context.Context, path string, stderr string, exitCode int) (bool, error) {
	log := logx.Get(logx.CategoryRepair)
	code, err := readCode(path)
	if err != nil {
		return false, err
	}

	for l.retryCount < MaxRetries {
		if dependencyMissingPattern.MatchString(stderr) {
			provisioned, perr := l.provisionDependency(ctx, stderr)
			if perr != nil {
				return false, perr
			}
			if provisioned {
				exitCode, _, stderr, err = l.Runner.Run(ctx, path)
				if err != nil {
					return false, err
				}
				if exitCode == 0 {
					l.transition(StateSuccess)
					return true, nil
				}
				continue // does not count against retryCount
			}
		}

		sig := Signature(stderr)
		l.transition(StateAnalyzing)
		analysis, err := l.Model.Analyze(ctx, code, stderr, sig)
		if err != nil {
			return false, err
		}

		l.transition(StateConsultingConsensus)
		var candidates []cache.Fix
		if l.Cache != nil {
			candidates, err = l.Cache.SearchFixes(ctx, sig, stderr)
			if err != nil {
				log.Warn("search_fixes failed: %v", err)
			}
			if len(candidates) > 3 {
				candidates = candidates[:3]
			}
		}

		l.transition(StateDeciding)
		decision, err := l.Model.Decide(ctx, code, stderr, analysis, candidates)
		if err != nil {
			return false, err
		}

		l.transition(StateApplying)
		newCode, strategy, parentHash, err := l.resolveDecision(decision, candidates)
		if err != nil {
			return false, err
		}
		if err := writeCode(path, newCode); err != nil {
			return false, err
		}
		code = newCode

		l.transition(StateTesting)
		exitCode, _, newStderr, err := l.Runner.Run(ctx, path)
		if err != nil {
			return false, err
		}

		if exitCode == 0 {
			l.publishSuccess(ctx, sig, newCode, strategy, parentHash)
			l.transition(StateSuccess)
			return true, nil
		}

		newSig := Signature(newStderr)
		if newSig == sig || newSig == l.lastSig {
			l.transition(StateGivingUp)
			return false, fmt.Errorf("repair: same error signature recurred: %s", newSig)
		}
		l.lastSig = sig
		stderr = newStderr
		l.retryCount++
	}

	l.transition(StateGivingUp)
	return false, fmt.Errorf("repair: exceeded %d retries", MaxRetries)
}

func (l *Loop) resolveDecision(d Decision, candidates []cache.Fix) (code string, strategy Strategy, parentHash string, err error) {
	switch {
	case d.UseConsensusID != "":
		for _, c := range candidates {
			if c.Hash == d.UseConsensusID {
				return c.Code, StrategyUseConsensus, c.Hash, nil
			}
		}
		return "", "", "", fmt.Errorf("repair: USE_CONSENSUS referenced unknown id %q", d.UseConsensusID)
	case d.AdaptConsensusID != "":
		for _, c := range candidates {
			if c.Hash == d.AdaptConsensusID {
				if d.AdaptedCode == "" {
					return "", "", "", fmt.Errorf("repair: ADAPT_CONSENSUS requires a modified code block")
				}
				return d.AdaptedCode, StrategyAdaptConsensus, c.Hash, nil
			}
		}
		return "", "", "", fmt.Errorf("repair: ADAPT_CONSENSUS referenced unknown id %q", d.AdaptConsensusID)
	case d.NewFixCode != "":
		return d.NewFixCode, StrategyNewFix, "", nil
	default:
		return "", "", "", fmt.Errorf("repair: model decision carried no fix")
	}
}

func (l *Loop) publishSuccess(ctx context.Context, signature, code string, strategy Strategy, parentHash string) {
	if l.Cache == nil {
		return
	}
	fix := cache.Fix{
		Signature:  signature,
		Code:       code,
		ParentHash: parentHash,
	}
	if _, err := l.Cache.AddFix(ctx, fix, cache.OutcomeSuccess); err != nil {
		logx.Get(logx.CategoryRepair).Warn("failed to publish fix: %v", err)
	}
}

func readCode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("repair: reading %s: %w", path, err)
	}
	return string(data), nil
}

func writeCode(path, code string) error {
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("repair: writing %s: %w", path, err)
	}
	return nil
}

func (l *Loop) provisionDependency(ctx context.Context, stderr string) (bool, error) {
	if l.Provisioner == nil {
		return false, nil
	}
	dep := "unknown"
	if m := dependencyNamePattern.FindStringSubmatch(stderr); len(m) > 1 {
		dep = m[1]
	}
	if err := l.Provisioner.Provision(ctx, l.Language, dep); err != nil {
		return false, fmt.Errorf("repair: provisioning %s: %w", dep, err)
	}
	return true, nil
}
