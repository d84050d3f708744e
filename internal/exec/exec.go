// Package exec implements the Step Executor (C10): drives a Checklist to
// completion by dispatching each Step to a typed handler.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"localmind/internal/cache"
	"localmind/internal/logx"
	"localmind/internal/plan"
)

// RunScriptTimeout is the hard ceiling on a spawned script's wall time.
const RunScriptTimeout = 60 * time.Second

// promptBudgetTokens is the history budget TrimHistoryToBudget trims to,
// oldest entries first; the system prompt is never trimmed.
const promptBudgetTokens = 350

// RunResult is what run-script records in a Step's Result field.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ValidateResult is what validate-syntax records.
type ValidateResult struct {
	Valid   bool
	Message string
}

// CodeGenerator produces code for write-code steps when no template
// suffices. Implemented by the Router's backend/selector wiring.
type CodeGenerator interface {
	// GenerateCode asks a model to produce code for the given description
	// and language at the given tier; returns the fenced-block contents.
	GenerateCode(ctx context.Context, description, language string, tier int) (string, error)
	// ClassifyTemplateFit asks the model to pick USE_AS_IS / NEEDS_MODIFICATION /
	// GENERATE_NEW for a candidate template against the description.
	ClassifyTemplateFit(ctx context.Context, description, templateCode string) (string, error)
}

// RepairHandler is invoked when a run-script or test-behavior step fails
// at runtime, delegating to the Repair Loop.
type RepairHandler interface {
	Repair(ctx context.Context, script string, stderr string, exitCode int) (fixed bool, err error)
}

// Executor drives a Checklist to completion.
type Executor struct {
	Cache   *cache.Cache
	CodeGen CodeGenerator
	Repair  RepairHandler

	// ExplicitNaming reports whether the original request named this path
	// explicitly (substring match on the request
	// create-file collision rule). Populated by the caller per step.
	ExplicitNaming func(path string) bool
}

var dependencyMissingPattern = regexp.MustCompile(`(?i)(module not found|modulenotfounderror|no module named|cannot find package|package .* is not in)`)

// Run drives every step in the checklist in order, stopping at the first
// unrecoverable failure. Steps already marked ok/failed are skipped
// (supports resuming a partially-run checklist).
func (e *Executor) Run(ctx context.Context, checklist plan.Checklist, language string) error {
	log := logx.Get(logx.CategoryExecutor)
	for _, step := range checklist {
		if step.Status == plan.StatusOK || step.Status == plan.StatusFailed {
			continue
		}
		step.Status = plan.StatusRunning
		log.Info("executing step: %s (%s)", step.Description, step.Kind)

		err := e.dispatch(ctx, step, language)
		if err != nil {
			step.Status = plan.StatusFailed
			step.Error = err
			log.Warn("step failed: %s: %v", step.Description, err)
			return err
		}
		step.Status = plan.StatusOK
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, step *plan.Step, language string) error {
	switch step.Kind {
	case plan.StepCreateDir:
		return e.createDir(step)
	case plan.StepCreateFile:
		return e.createFile(step)
	case plan.StepWriteCode:
		return e.writeCode(ctx, step, language, 2)
	case plan.StepMakeExecutable:
		return e.makeExecutable(step)
	case plan.StepValidateSyntax:
		return e.validateSyntax(step, language)
	case plan.StepRunScript:
		return e.runScript(ctx, step)
	case plan.StepFindFile:
		return e.findFile(step)
	case plan.StepModifyFile:
		return e.modifyFile(step)
	case plan.StepTestBehavior:
		return e.runScript(ctx, step)
	case plan.StepArbitrary:
		return nil // free-form steps from a model plan carry no typed handler
	default:
		return fmt.Errorf("exec: unknown step kind %q", step.Kind)
	}
}

func (e *Executor) createDir(step *plan.Step) error {
	if err := os.MkdirAll(step.Path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", step.Path, err)
	}
	step.Result = step.Path
	return nil
}

// createFile handles the create-file collision rule: if the user
// explicitly named this path in their request, ask for overwrite
// confirmation via ExplicitNaming being satisfied by the caller already
// having confirmed (the Executor itself never prompts interactively);
// otherwise auto-uniquify with _1, _2, ...
func (e *Executor) createFile(step *plan.Step) error {
	if err := os.MkdirAll(filepath.Dir(step.Path), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", step.Path, err)
	}

	path := step.Path
	if _, err := os.Stat(path); err == nil {
		explicit := e.ExplicitNaming != nil && e.ExplicitNaming(path)
		if !explicit {
			path = uniquify(path)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	f.Close()
	step.Path = path
	step.Result = path
	return nil
}

func uniquify(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// writeCode implements the tier-gated template-first generation procedure:
// at tier 0 or 1 it only copies the best-matching template. dispatch calls
// it with tier 2 for every write-code step, so the template-only path is
// reached only when writeCode is called directly with a lower tier.
func (e *Executor) writeCode(ctx context.Context, step *plan.Step, language string, tier int) error {
	if tier <= 1 {
		return e.writeCodeFromTemplateOnly(ctx, step, language)
	}

	var best cache.Template
	if e.Cache != nil {
		results, err := e.Cache.SearchTemplates(ctx, step.Description, language)
		if err == nil && len(results) > 0 {
			best = results[0]
		}
	}

	var code string
	switch {
	case best.Relevance >= 5 && e.CodeGen != nil:
		verdict, err := e.CodeGen.ClassifyTemplateFit(ctx, step.Description, best.Code)
		if err != nil {
			return err
		}
		switch strings.TrimSpace(strings.ToUpper(verdict)) {
		case "USE_AS_IS":
			code = best.Code
		case "NEEDS_MODIFICATION":
			code, err = e.CodeGen.GenerateCode(ctx, step.Description, language, tier)
			if err != nil {
				return err
			}
		default: // GENERATE_NEW or unrecognized verdict
			code, err = e.CodeGen.GenerateCode(ctx, step.Description, language, tier)
			if err != nil {
				return err
			}
		}
	case e.CodeGen != nil:
		var err error
		code, err = e.CodeGen.GenerateCode(ctx, step.Description, language, tier)
		if err != nil {
			return err
		}
	case best.Code != "":
		code = best.Code
	default:
		return fmt.Errorf("exec: no template match and no code generator configured for %q", step.Description)
	}

	if err := validateIsCodeNotProse(code); err != nil {
		return err
	}
	return os.WriteFile(step.Path, []byte(code), 0o644)
}

func (e *Executor) writeCodeFromTemplateOnly(ctx context.Context, step *plan.Step, language string) error {
	if e.Cache == nil {
		return fmt.Errorf("exec: tier 0/1 models may only use templates, but no cache is configured")
	}
	results, err := e.Cache.SearchTemplates(ctx, step.Description, language)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("exec: no matching template found; tier 0/1 models may not generate new code")
	}
	return os.WriteFile(step.Path, []byte(results[0].Code), 0o644)
}

var fencedCodeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n(.*?)```")

// validateIsCodeNotProse rejects output that reads as conversational
// prose rather than a code block.
func validateIsCodeNotProse(code string) error {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return fmt.Errorf("exec: generated output was empty")
	}
	if m := fencedCodeBlockPattern.FindStringSubmatch(trimmed); len(m) > 1 {
		return nil
	}
	lower := strings.ToLower(trimmed)
	proseMarkers := []string{"i can help", "here's how", "sure, i", "as an ai"}
	for _, m := range proseMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("exec: generated output looks like prose, not code")
		}
	}
	return nil
}

func (e *Executor) makeExecutable(step *plan.Step) error {
	if err := os.Chmod(step.Path, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", step.Path, err)
	}
	return nil
}

func (e *Executor) findFile(step *plan.Step) error {
	matches, err := filepath.Glob(step.Path)
	if err != nil {
		return fmt.Errorf("find %s: %w", step.Path, err)
	}
	if len(matches) == 0 {
		if _, err := os.Stat(step.Path); err == nil {
			matches = []string{step.Path}
		} else {
			return fmt.Errorf("find: no match for %s", step.Path)
		}
	}
	step.Result = matches
	step.Path = matches[0]
	return nil
}

func (e *Executor) modifyFile(step *plan.Step) error {
	if _, err := os.Stat(step.Path); err != nil {
		return fmt.Errorf("modify %s: %w", step.Path, err)
	}
	step.Result = step.Path
	return nil
}

// runScript spawns the step's target as a child process with a hard
// timeout, capturing stdout/stderr/exit code, and delegates to the Repair
// Loop on nonzero exit or a recognized dependency-missing pattern.
func (e *Executor) runScript(ctx context.Context, step *plan.Step) error {
	runCtx, cancel := context.WithTimeout(ctx, RunScriptTimeout)
	defer cancel()

	interpreter, ok := interpreterFor(step.Path)
	if !ok {
		return fmt.Errorf("run-script: no interpreter known for %s", step.Path)
	}

	cmd := exec.CommandContext(runCtx, interpreter, step.Path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case runCtx.Err() != nil:
			return fmt.Errorf("run-script: timed out after %s", RunScriptTimeout)
		default:
			return fmt.Errorf("run-script: %w", err)
		}
	}

	result := RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	step.Result = result

	needsRepair := exitCode != 0 || dependencyMissingPattern.MatchString(stderr.String())
	if needsRepair && e.Repair != nil {
		fixed, repairErr := e.Repair.Repair(ctx, step.Path, stderr.String(), exitCode)
		if repairErr != nil {
			return repairErr
		}
		if !fixed {
			return fmt.Errorf("run-script: exited %d and repair did not succeed: %s", exitCode, stderr.String())
		}
		return nil
	}
	if exitCode != 0 {
		return fmt.Errorf("run-script: exited %d: %s", exitCode, stderr.String())
	}
	return nil
}

func interpreterFor(path string) (string, bool) {
	switch filepath.Ext(path) {
	case ".py":
		return "python3", true
	case ".sh":
		return "sh", true
	case ".js":
		return "node", true
	case ".rb":
		return "ruby", true
	default:
		return "", false
	}
}

// TrimHistoryToBudget drops the oldest entries until the remaining history
// fits within promptBudgetTokens (approximated at 4 characters per token),
// The system prompt is never trimmed by this function.
func TrimHistoryToBudget(history []string) []string {
	total := 0
	for _, h := range history {
		total += len(h) / 4
	}
	start := 0
	for total > promptBudgetTokens && start < len(history) {
		total -= len(history[start]) / 4
		start++
	}
	return history[start:]
}
