package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"localmind/internal/errs"
	"localmind/internal/logx"
)

// LlamafileBackend invokes the llamafile runtime as a child process against
// a single GGUF model file: bounded context size, thread count, temperature,
// sampling, and suppressed prompt echo.
type LlamafileBackend struct {
	BinaryPath  string
	ModelPath   string
	ContextSize int // -c
	Threads     int // --threads
	TopP        float64
	TopK        int
}

// NewLlamafileBackend constructs a backend with the defaults the original
// agent used (context 1024, 4 threads, nucleus sampling top-p 0.9, top-k 40).
func NewLlamafileBackend(binaryPath, modelPath string) *LlamafileBackend {
	return &LlamafileBackend{
		BinaryPath:  binaryPath,
		ModelPath:   modelPath,
		ContextSize: 1024,
		Threads:     4,
		TopP:        0.9,
		TopK:        40,
	}
}

func (b *LlamafileBackend) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(b.BinaryPath); err != nil {
		return false
	}
	if _, err := os.Stat(b.ModelPath); err != nil {
		return false
	}
	return true
}

func (b *LlamafileBackend) Generate(ctx context.Context, req GenerateRequest) (string, Stats, error) {
	return b.run(ctx, req.Prompt, req.MaxTokens, req.Temperature, req.Timeout)
}

func (b *LlamafileBackend) Chat(ctx context.Context, req ChatRequest) (string, Stats, error) {
	prompt := renderChatPrompt(req.Messages)
	return b.run(ctx, prompt, req.MaxTokens, req.Temperature, req.Timeout)
}

// renderChatPrompt flattens a message sequence into a single prompt, since
// the file-backed runtime has no native chat-message API.
func renderChatPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		label := "User"
		switch m.Role {
		case "assistant":
			label = "Assistant"
		case "system":
			label = "System"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func (b *LlamafileBackend) run(ctx context.Context, prompt string, maxTokens int, temperature float64, timeout time.Duration) (string, Stats, error) {
	if !b.IsAvailable(ctx) {
		return "", Stats{}, errs.New(errs.KindAdapter, "backend", "install the model and llamafile runtime", fmt.Errorf("llamafile or model not found at %s", b.ModelPath))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{
		"-m", b.ModelPath,
		"-p", prompt,
		"-c", strconv.Itoa(b.ContextSize),
		"--temp", strconv.FormatFloat(temperature, 'f', -1, 64),
		"-n", strconv.Itoa(maxTokens),
		"--threads", strconv.Itoa(b.Threads),
		"--top-p", strconv.FormatFloat(b.TopP, 'f', -1, 64),
		"--top-k", strconv.Itoa(b.TopK),
		"--silent-prompt", // suppress prompt echo in output
	}

	cmd := exec.CommandContext(runCtx, b.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logx.Get(logx.CategoryBackend).Debug("llamafile invoke model=%s max_tokens=%d timeout=%s", b.ModelPath, maxTokens, timeout)

	err := cmd.Run()
	if runCtx.Err() != nil {
		return "", Stats{}, &TimeoutError{Cause: runCtx.Err()}
	}
	if err != nil {
		return "", Stats{}, errs.New(errs.KindAdapter, "backend", "", fmt.Errorf("llamafile exited with error: %w (stderr: %s)", err, stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", Stats{}, errs.New(errs.KindAdapter, "backend", "retry or try a different model", fmt.Errorf("empty response from llamafile"))
	}

	stats := Stats{
		PromptTokens:    estimateTokens(prompt),
		GeneratedTokens: estimateTokens(text),
		Estimated:       true,
	}
	stats.TotalTokens = stats.PromptTokens + stats.GeneratedTokens
	return text, stats, nil
}
