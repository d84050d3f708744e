package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"localmind/internal/classify"
)

func TestExtractEntitiesFilenameAndAction(t *testing.T) {
	e := ExtractEntities("create a script called backup.sh in the Documents folder")
	if e.File != "backup.sh" {
		t.Fatalf("expected file backup.sh, got %q", e.File)
	}
	if e.Action != "create" {
		t.Fatalf("expected action 'create', got %q", e.Action)
	}
	if !strings.Contains(e.Folder, "Documents") {
		t.Fatalf("expected folder Documents, got %q", e.Folder)
	}
}

func TestRuleBasedScriptCreationChecklistShape(t *testing.T) {
	checklist, err := Plan(context.Background(), "create a script called backup.sh in the Documents folder", classify.KindScriptPlan, nil, 2)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var kinds []StepKind
	for _, s := range checklist {
		kinds = append(kinds, s.Kind)
	}
	want := []StepKind{StepCreateDir, StepCreateFile, StepWriteCode, StepMakeExecutable, StepTestBehavior}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d steps, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("step %d: expected %s, got %s", i, k, kinds[i])
		}
	}
}

func TestRuleBasedOmitsTestBehaviorWithoutTierOrRunIntent(t *testing.T) {
	checklist, err := Plan(context.Background(), "create a script called backup.sh in the Documents folder", classify.KindScriptPlan, nil, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, s := range checklist {
		if s.Kind == StepTestBehavior {
			t.Fatal("did not expect test-behavior step with tier 0 and no run intent")
		}
	}
}

func TestRuleBasedIncludesTestBehaviorOnRunIntentDespiteLowTier(t *testing.T) {
	checklist, err := Plan(context.Background(), "run the script called backup.sh in the Documents folder", classify.KindScriptPlan, nil, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var found bool
	for _, s := range checklist {
		if s.Kind == StepTestBehavior {
			found = true
		}
	}
	if !found {
		t.Fatal("expected test-behavior step when the request says 'run', regardless of tier")
	}
}

func TestRuleBasedSkipsMakeExecutableForNonScriptExtension(t *testing.T) {
	checklist, err := Plan(context.Background(), "create a file called notes.txt", classify.KindAction, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range checklist {
		if s.Kind == StepMakeExecutable {
			t.Fatal("did not expect make-executable step for a .txt file")
		}
	}
}

func TestFindModifyChecklist(t *testing.T) {
	checklist, err := Plan(context.Background(), "find config.yaml and update the setting", classify.KindFindModify, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(checklist) != 2 || checklist[0].Kind != StepFindFile || checklist[1].Kind != StepModifyFile {
		t.Fatalf("unexpected checklist: %+v", checklist)
	}
}

type fakeModelPlanner struct {
	response string
	err      error
}

func (f fakeModelPlanner) RequestPlan(ctx context.Context, request string, kind classify.Kind) (string, error) {
	return f.response, f.err
}

func TestPlanPrefersModelWhenItReturnsAValidNumberedPlan(t *testing.T) {
	mp := fakeModelPlanner{response: "1. Do the first thing\n2. Do the second thing\n"}
	checklist, err := Plan(context.Background(), "anything", classify.KindScriptPlan, mp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(checklist) != 2 {
		t.Fatalf("expected 2 steps parsed from model plan, got %d", len(checklist))
	}
	if checklist[0].Description != "Do the first thing" {
		t.Fatalf("unexpected step description: %q", checklist[0].Description)
	}
}

func TestPlanFallsBackWhenModelErrors(t *testing.T) {
	mp := fakeModelPlanner{err: errors.New("timeout")}
	checklist, err := Plan(context.Background(), "create a script called x.py", classify.KindScriptPlan, mp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(checklist) == 0 {
		t.Fatal("expected rule-based fallback checklist")
	}
}

func TestPlanFallsBackWhenModelReturnsMalformedOutput(t *testing.T) {
	mp := fakeModelPlanner{response: "I don't know how to help with that."}
	checklist, err := Plan(context.Background(), "create a script called x.py", classify.KindScriptPlan, mp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(checklist) == 0 {
		t.Fatal("expected rule-based fallback checklist on malformed model output")
	}
}
