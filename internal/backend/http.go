package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"localmind/internal/errs"
	"localmind/internal/logx"
)

// httpRequest mirrors the OpenAI-compatible chat completion body that
// Ollama-style local HTTP runtimes accept.
type httpRequest struct {
	Model       string        `json:"model"`
	Messages    []httpMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type httpMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPBackend talks to a locally-served model over an OpenAI-compatible
// HTTP API (e.g. an Ollama endpoint). Shaped like a minimal chat client:
// a paced client with bounded retries on transient status codes, but
// simplified for a trusted local endpoint: no API key, no SSE streaming.
type HTTPBackend struct {
	BaseURL    string
	Model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	minGap      time.Duration
	maxRetries  int
}

// NewHTTPBackend constructs a backend against a local endpoint such as
// http://127.0.0.1:11434/v1.
func NewHTTPBackend(baseURL, model string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		minGap:     50 * time.Millisecond,
		maxRetries: 2,
	}
}

func (b *HTTPBackend) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (b *HTTPBackend) Generate(ctx context.Context, req GenerateRequest) (string, Stats, error) {
	return b.complete(ctx, []httpMessage{{Role: "user", Content: req.Prompt}}, req.MaxTokens, req.Temperature, req.Timeout)
}

func (b *HTTPBackend) Chat(ctx context.Context, req ChatRequest) (string, Stats, error) {
	msgs := make([]httpMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, httpMessage{Role: m.Role, Content: m.Content})
	}
	return b.complete(ctx, msgs, req.MaxTokens, req.Temperature, req.Timeout)
}

func (b *HTTPBackend) pace(ctx context.Context) error {
	b.mu.Lock()
	wait := b.minGap - time.Since(b.lastRequest)
	if wait < 0 {
		wait = 0
	}
	b.lastRequest = time.Now().Add(wait)
	b.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetryHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (b *HTTPBackend) complete(ctx context.Context, messages []httpMessage, maxTokens int, temperature float64, timeout time.Duration) (string, Stats, error) {
	log := logx.Get(logx.CategoryBackend)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqBody := httpRequest{
		Model:       b.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Stats{}, errs.New(errs.KindInvariant, "backend", "", err)
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-runCtx.Done():
				timer.Stop()
				return "", Stats{}, &TimeoutError{Cause: runCtx.Err()}
			case <-timer.C:
			}
		}

		if err := b.pace(runCtx); err != nil {
			return "", Stats{}, &TimeoutError{Cause: err}
		}

		httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, b.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return "", Stats{}, errs.New(errs.KindAdapter, "backend", "", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			if runCtx.Err() != nil {
				return "", Stats{}, &TimeoutError{Cause: runCtx.Err()}
			}
			lastErr = err
			log.Warn("http backend request failed attempt=%d err=%v", attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode != http.StatusOK {
			if shouldRetryHTTPStatus(resp.StatusCode) {
				lastErr = fmt.Errorf("retryable status %d: %s", resp.StatusCode, string(body))
				continue
			}
			return "", Stats{}, errs.New(errs.KindAdapter, "backend", "", fmt.Errorf("http backend returned status %d: %s", resp.StatusCode, string(body)))
		}

		var parsed httpResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", Stats{}, errs.New(errs.KindAdapter, "backend", "", fmt.Errorf("parsing http backend response: %w", err))
		}
		if parsed.Error != nil {
			return "", Stats{}, errs.New(errs.KindAdapter, "backend", "", fmt.Errorf("http backend error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return "", Stats{}, errs.New(errs.KindAdapter, "backend", "retry or try a different model", fmt.Errorf("no choices returned"))
		}

		text := strings.TrimSpace(parsed.Choices[0].Message.Content)
		stats := Stats{
			PromptTokens:    parsed.Usage.PromptTokens,
			GeneratedTokens: parsed.Usage.CompletionTokens,
			TotalTokens:     parsed.Usage.TotalTokens,
			Estimated:       false,
		}
		if stats.TotalTokens == 0 {
			stats.TotalTokens = stats.PromptTokens + stats.GeneratedTokens
		}
		return text, stats, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("http backend: retries exhausted")
	}
	return "", Stats{}, errs.New(errs.KindAdapter, "backend", "check that the local runtime is running", lastErr)
}
