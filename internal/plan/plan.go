// Package plan implements the Planner (C9): turns a classified request
// into an ordered Checklist, either by asking a tier-≥2 model for a short
// plan or by falling back to deterministic entity extraction and a
// canonical step template per intent kind.
package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"localmind/internal/classify"
)

// StepKind enumerates the Step Executor's dispatch table.
type StepKind string

const (
	StepCreateDir      StepKind = "create-dir"
	StepCreateFile     StepKind = "create-file"
	StepWriteCode      StepKind = "write-code"
	StepMakeExecutable StepKind = "make-executable"
	StepValidateSyntax StepKind = "validate-syntax"
	StepRunScript      StepKind = "run-script"
	StepFindFile       StepKind = "find-file"
	StepModifyFile     StepKind = "modify-file"
	StepTestBehavior   StepKind = "test-behavior"
	StepArbitrary      StepKind = "arbitrary"
)

// StepStatus tracks a Step's lifecycle.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusOK      StepStatus = "ok"
	StatusFailed  StepStatus = "failed"
)

// Step is one checklist entry.
type Step struct {
	Description string
	Kind        StepKind
	Status      StepStatus
	Result      interface{}
	Error       error
	Path        string // target path, when relevant to the step kind
}

// Checklist is the Planner's output: an ordered sequence of Steps.
type Checklist []*Step

// Entities are the named values the rule-based fallback extracts from a
// request: location/folder, filename, action verb, target noun.
type Entities struct {
	Folder string
	File   string
	Action string
	Target string
}

var executableExtensions = map[string]bool{
	".py": true, ".sh": true, ".js": true, ".rb": true,
}

var filenamePattern = regexp.MustCompile(`\b[\w-]+\.[a-zA-Z0-9]{1,8}\b`)
var folderWithKeywordPattern = regexp.MustCompile(`(?i)\b(?:in|inside|under)\s+(?:the\s+)?([\w./-]+)\s+(?:folder|directory)\b`)
var folderBarePattern = regexp.MustCompile(`(?i)\b(?:in|inside|under)\s+(?:the\s+)?([\w./-]+)\b`)
var actionVerbPattern = regexp.MustCompile(`(?i)\b(create|make|write|build|generate|download|upload|fetch|sort|count|parse|convert|compress|backup|sync|monitor|scan|rename|move|copy|delete|print|list|check|validate)\b`)

var runIntentPattern = regexp.MustCompile(`(?i)\b(run|execute)\b`)

// ExtractEntities pulls location/filename/action/target out of a raw
// request using a fixed pattern set rule-based fallback.
func ExtractEntities(request string) Entities {
	var e Entities
	if m := filenamePattern.FindString(request); m != "" {
		e.File = m
	}
	if m := folderWithKeywordPattern.FindStringSubmatch(request); len(m) > 1 {
		e.Folder = strings.TrimSpace(m[1])
	} else if m := folderBarePattern.FindStringSubmatch(request); len(m) > 1 {
		e.Folder = strings.TrimSpace(m[1])
	}
	if m := actionVerbPattern.FindString(request); m != "" {
		e.Action = strings.ToLower(m)
	}
	e.Target = deriveTarget(request, e)
	return e
}

func deriveTarget(request string, e Entities) string {
	if e.File != "" {
		return e.File
	}
	words := strings.Fields(request)
	if len(words) > 0 {
		return words[len(words)-1]
	}
	return ""
}

// ModelPlanner asks a capable model for a short numbered plan. Implemented
// by the caller's backend/selector wiring; kept as an interface so the
// rule-based fallback path is testable without a real model.
type ModelPlanner interface {
	RequestPlan(ctx context.Context, request string, kind classify.Kind) (string, error)
}

// minTierForTestBehavior gates the rule-based fallback's test-behavior
// step: it is only appended when a tier >= 2 model is available to drive
// it, or the user's own request asked for a run.
const minTierForTestBehavior = 2

// Plan produces a Checklist for a classified request. When modelPlanner is
// non-nil (a tier ≥2 model is available) it is asked once; on an error
// or an empty or malformed response it falls back to the
// deterministic rule-based builder, which is always available. tier is the
// tier of the model selected for this request, 0 if none was selected.
func Plan(ctx context.Context, request string, kind classify.Kind, modelPlanner ModelPlanner, tier int) (Checklist, error) {
	if modelPlanner != nil {
		if raw, err := modelPlanner.RequestPlan(ctx, request, kind); err == nil {
			if steps := parseNumberedPlan(raw); len(steps) > 0 {
				return steps, nil
			}
		}
	}
	return buildRuleBased(request, kind, tier)
}

var numberedLinePattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*(.+)$`)

func parseNumberedPlan(raw string) Checklist {
	matches := numberedLinePattern.FindAllStringSubmatch(raw, -1)
	checklist := make(Checklist, 0, len(matches))
	for _, m := range matches {
		desc := strings.TrimSpace(m[1])
		if desc == "" {
			continue
		}
		checklist = append(checklist, &Step{
			Description: desc,
			Kind:        StepArbitrary,
			Status:      StatusPending,
		})
	}
	return checklist
}

func buildRuleBased(request string, kind classify.Kind, tier int) (Checklist, error) {
	entities := ExtractEntities(request)
	runRequested := runIntentPattern.MatchString(request)

	switch kind {
	case classify.KindScriptPlan, classify.KindAction:
		return scriptCreationChecklist(entities, tier, runRequested), nil
	case classify.KindFindModify:
		return findModifyChecklist(entities), nil
	default:
		return nil, fmt.Errorf("plan: no rule-based checklist for classification kind %q", kind)
	}
}

func scriptCreationChecklist(e Entities, tier int, runRequested bool) Checklist {
	var checklist Checklist

	if e.Folder != "" {
		checklist = append(checklist, &Step{
			Description: fmt.Sprintf("Create directory %s", e.Folder),
			Kind:        StepCreateDir,
			Status:      StatusPending,
			Path:        e.Folder,
		})
	}

	filename := e.File
	if filename == "" {
		filename = defaultFilename(e.Action)
	}
	path := filename
	if e.Folder != "" {
		path = filepath.Join(e.Folder, filename)
	}

	checklist = append(checklist, &Step{
		Description: fmt.Sprintf("Create file %s", path),
		Kind:        StepCreateFile,
		Status:      StatusPending,
		Path:        path,
	})

	checklist = append(checklist, &Step{
		Description: fmt.Sprintf("Write implementation code for %s %s", e.Action, e.Target),
		Kind:        StepWriteCode,
		Status:      StatusPending,
		Path:        path,
	})

	if executableExtensions[filepath.Ext(filename)] {
		checklist = append(checklist, &Step{
			Description: fmt.Sprintf("Make %s executable", path),
			Kind:        StepMakeExecutable,
			Status:      StatusPending,
			Path:        path,
		})
	}

	if tier >= minTierForTestBehavior || runRequested {
		checklist = append(checklist, &Step{
			Description: fmt.Sprintf("Test script: %s %s", e.Action, e.Target),
			Kind:        StepTestBehavior,
			Status:      StatusPending,
			Path:        path,
		})
	}

	return checklist
}

func findModifyChecklist(e Entities) Checklist {
	target := e.File
	if target == "" {
		target = e.Target
	}
	return Checklist{
		{Description: fmt.Sprintf("Find %s", target), Kind: StepFindFile, Status: StatusPending, Path: target},
		{Description: fmt.Sprintf("Modify %s: %s", target, e.Action), Kind: StepModifyFile, Status: StatusPending, Path: target},
	}
}

func defaultFilename(action string) string {
	if action == "" {
		action = "script"
	}
	return action + ".py"
}
