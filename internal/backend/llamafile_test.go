package backend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeFakeLlamafile drops a tiny shell script standing in for the llamafile
// binary so tests never depend on the real runtime being installed.
func writeFakeLlamafile(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake llamafile script is POSIX shell only")
	}
	path := filepath.Join(dir, "fake-llamafile")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLlamafileBackendGenerate(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeLlamafile(t, dir, `echo "hello from the model"`)
	modelPath := filepath.Join(dir, "model.gguf")
	if err := os.WriteFile(modelPath, []byte("fake weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewLlamafileBackend(bin, modelPath)
	text, stats, err := b.Generate(context.Background(), GenerateRequest{
		Prompt:      "say hello",
		MaxTokens:   64,
		Temperature: 0.2,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello from the model" {
		t.Fatalf("unexpected output: %q", text)
	}
	if !stats.Estimated {
		t.Fatal("llamafile backend must report estimated token counts")
	}
	if stats.TotalTokens != stats.PromptTokens+stats.GeneratedTokens {
		t.Fatal("total tokens must equal prompt + generated")
	}
}

func TestLlamafileBackendMissingModelNotAvailable(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeLlamafile(t, dir, `echo "unused"`)
	b := NewLlamafileBackend(bin, filepath.Join(dir, "does-not-exist.gguf"))
	if b.IsAvailable(context.Background()) {
		t.Fatal("backend must not be available when the model file is missing")
	}
	if _, _, err := b.Generate(context.Background(), GenerateRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error when model file missing")
	}
}

func TestLlamafileBackendTimeout(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeLlamafile(t, dir, `sleep 2; echo "too late"`)
	modelPath := filepath.Join(dir, "model.gguf")
	os.WriteFile(modelPath, []byte("fake weights"), 0o644)

	b := NewLlamafileBackend(bin, modelPath)
	_, _, err := b.Generate(context.Background(), GenerateRequest{
		Prompt:  "x",
		Timeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var te *TimeoutError
	if !asTimeoutError(err, &te) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
}

func asTimeoutError(err error, target **TimeoutError) bool {
	te, ok := err.(*TimeoutError)
	if ok {
		*target = te
	}
	return ok
}

func TestLlamafileBackendEmptyOutputIsError(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeLlamafile(t, dir, `true`)
	modelPath := filepath.Join(dir, "model.gguf")
	os.WriteFile(modelPath, []byte("fake weights"), 0o644)

	b := NewLlamafileBackend(bin, modelPath)
	_, _, err := b.Generate(context.Background(), GenerateRequest{Prompt: "x", Timeout: 2 * time.Second})
	if err == nil {
		t.Fatal("expected error on empty output")
	}
}
