package exec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"localmind/internal/plan"
)

func TestCreateDirAndCreateFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub")

	e := &Executor{}
	dirStep := &plan.Step{Kind: plan.StepCreateDir, Path: target}
	if err := e.dispatch(context.Background(), dirStep, ""); err != nil {
		t.Fatalf("createDir: %v", err)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", target)
	}

	fileStep := &plan.Step{Kind: plan.StepCreateFile, Path: filepath.Join(target, "out.txt")}
	if err := e.dispatch(context.Background(), fileStep, ""); err != nil {
		t.Fatalf("createFile: %v", err)
	}
	if _, err := os.Stat(fileStep.Path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestCreateFileUniquifiesWhenNotExplicitlyNamed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{ExplicitNaming: func(p string) bool { return false }}
	step := &plan.Step{Kind: plan.StepCreateFile, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("createFile: %v", err)
	}
	if step.Path == path {
		t.Fatalf("expected a uniquified path, got original %s", path)
	}
	if filepath.Base(step.Path) != "script_1.py" {
		t.Fatalf("expected script_1.py, got %s", filepath.Base(step.Path))
	}

	original, err := os.ReadFile(path)
	if err != nil || string(original) != "existing" {
		t.Fatalf("original file should be untouched, got %q err=%v", original, err)
	}
}

func TestCreateFileOverwritesWhenExplicitlyNamed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{ExplicitNaming: func(p string) bool { return true }}
	step := &plan.Step{Kind: plan.StepCreateFile, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("createFile: %v", err)
	}
	if step.Path != path {
		t.Fatalf("expected original path to be reused, got %s", step.Path)
	}
}

func TestMakeExecutableSetsPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{}
	step := &plan.Step{Kind: plan.StepMakeExecutable, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("makeExecutable: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0o111 == 0 {
		t.Fatalf("expected executable bit set, got mode %v", info.Mode())
	}
}

func TestFindFileGlobsAndRecordsMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("key: value"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{}
	step := &plan.Step{Kind: plan.StepFindFile, Path: filepath.Join(dir, "*.yaml")}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("findFile: %v", err)
	}
	if step.Path != path {
		t.Fatalf("expected resolved path %s, got %s", path, step.Path)
	}
}

func TestFindFileErrorsWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepFindFile, Path: filepath.Join(dir, "missing.yaml")}
	if err := e.dispatch(context.Background(), step, ""); err == nil {
		t.Fatal("expected error when no file matches")
	}
}

func TestWriteCodeTier0RequiresCacheAndTemplate(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepWriteCode, Path: filepath.Join(dir, "out.py"), Description: "print hello"}
	if err := e.writeCode(context.Background(), step, "python", 0); err == nil {
		t.Fatal("expected error without a cache for a tier 0 model")
	}
}

func TestValidateIsCodeNotProseRejectsConversationalText(t *testing.T) {
	if err := validateIsCodeNotProse("Sure, I can help you with that! Here's how..."); err == nil {
		t.Fatal("expected prose to be rejected")
	}
	if err := validateIsCodeNotProse("```python\nprint('hi')\n```"); err != nil {
		t.Fatalf("expected fenced code to pass, got %v", err)
	}
	if err := validateIsCodeNotProse(""); err == nil {
		t.Fatal("expected empty output to be rejected")
	}
}

func TestTrimHistoryToBudgetDropsOldestFirst(t *testing.T) {
	history := make([]string, 0)
	for i := 0; i < 50; i++ {
		history = append(history, "this line is roughly twenty chars")
	}
	trimmed := TrimHistoryToBudget(history)
	if len(trimmed) >= len(history) {
		t.Fatalf("expected trimming to reduce history length, got %d of %d", len(trimmed), len(history))
	}
	if trimmed[len(trimmed)-1] != history[len(history)-1] {
		t.Fatal("expected the newest entry to survive trimming")
	}
}

func TestValidateSyntaxSkipsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepValidateSyntax, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("expected unknown extensions to be skipped, got %v", err)
	}
}

func TestValidateSyntaxDetectsPythonError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.py")
	if err := os.WriteFile(path, []byte("def f(:\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepValidateSyntax, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err == nil {
		t.Fatal("expected malformed python to fail validation")
	}
}

func TestValidateSyntaxAcceptsValidPython(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "good.py")
	if err := os.WriteFile(path, []byte("def f(x):\n    return x + 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepValidateSyntax, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err != nil {
		t.Fatalf("expected valid python to pass, got %v", err)
	}
}

func TestRunScriptUnknownInterpreterErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.xyz")
	if err := os.WriteFile(path, []byte("noop"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Executor{}
	step := &plan.Step{Kind: plan.StepRunScript, Path: path}
	if err := e.dispatch(context.Background(), step, ""); err == nil {
		t.Fatal("expected an error for an unrecognized script extension")
	}
}
