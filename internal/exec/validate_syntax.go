package exec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"localmind/internal/plan"
)

// languageCheckers maps a file extension to its tree-sitter grammar.
// validateSyntax creates a fresh parser for each call, so no parser is
// shared between steps.
var languageCheckers = map[string]func() *sitter.Language{
	".py": python.GetLanguage,
	".js": javascript.GetLanguage,
	".ts": typescript.GetLanguage,
	".rs": rust.GetLanguage,
}

func (e *Executor) validateSyntax(step *plan.Step, language string) error {
	ext := extOf(step.Path)

	if ext == ".go" || strings.EqualFold(language, "go") {
		return e.validateGoSyntax(step)
	}

	langFunc, ok := languageCheckers[ext]
	if !ok {
		step.Result = ValidateResult{Valid: true, Message: "no syntax checker for this language; skipped"}
		return nil
	}

	content, err := readFileForValidation(step.Path)
	if err != nil {
		return err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(langFunc())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return fmt.Errorf("validate-syntax: parse failed: %w", err)
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		step.Result = ValidateResult{Valid: false, Message: "syntax error detected by parser"}
		return fmt.Errorf("validate-syntax: %s contains a syntax error", step.Path)
	}

	step.Result = ValidateResult{Valid: true}
	return nil
}

// validateGoSyntax loads the file into a yaegi interpreter, which rejects
// malformed Go the same way `go build` would without spawning a toolchain
// process. Programs that only declare top-level symbols (no main.main)
// still validate, since Eval stops at parse/type-check.
func (e *Executor) validateGoSyntax(step *plan.Step) error {
	content, err := readFileForValidation(step.Path)
	if err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("validate-syntax: loading stdlib: %w", err)
	}

	if _, err := i.Eval(string(content)); err != nil {
		step.Result = ValidateResult{Valid: false, Message: err.Error()}
		return fmt.Errorf("validate-syntax: %s: %w", step.Path, err)
	}

	step.Result = ValidateResult{Valid: true}
	return nil
}

func readFileForValidation(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("validate-syntax: reading %s: %w", path, err)
	}
	return content, nil
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
