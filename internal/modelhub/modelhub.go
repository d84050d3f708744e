// Package modelhub adapts the Model Selector (C6) and LLM Backend Adapter
// (C5) into the narrow interfaces the Planner, Step Executor, and Repair
// Loop each ask for: a way to pick an eligible model for a purpose and get
// a single chat completion back. It is the concrete "tier ≥2 model
// available" path those packages otherwise treat as optional.
package modelhub

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"localmind/internal/backend"
	"localmind/internal/cache"
	"localmind/internal/classify"
	"localmind/internal/enablement"
	"localmind/internal/integrity"
	"localmind/internal/modellock"
	"localmind/internal/registry"
	"localmind/internal/repair"
	"localmind/internal/selector"
)

// Hub resolves an eligible model for a purpose and dispatches a chat call
// to it, sharing the same governance components the Router's candidate
// source consults (Registry, Integrity Verifier, Enablement Store, Lock
// Manager).
type Hub struct {
	Reg        *registry.Registry
	Enablement *enablement.Store
	LockMgr    *modellock.Manager
	ModelDir   string

	// HTTPBaseURL, when non-empty, routes every call through an
	// Ollama-style HTTP backend instead of spawning the llamafile binary.
	HTTPBaseURL string
	// LlamafileBinary is the path to the llamafile runtime; required when
	// HTTPBaseURL is empty.
	LlamafileBinary string
}

func (h *Hub) candidates(excludeLocked bool) ([]selector.Candidate, map[string]registry.Model) {
	locked, _ := h.LockMgr.GetLockedModels(true)
	lockedSet := make(map[string]bool, len(locked))
	for _, m := range locked {
		lockedSet[m] = true
	}

	byName := make(map[string]registry.Model)
	var candidates []selector.Candidate
	for _, m := range h.Reg.All() {
		verdict, _ := integrity.Verify(m.Canonical, filepath.Join(h.ModelDir, m.File), m.ExpectedSizeMB)
		byName[m.Canonical] = m
		candidates = append(candidates, selector.Candidate{
			Canonical:   m.Canonical,
			Tier:        m.Tier,
			IntegrityOK: verdict.Status == integrity.StatusOK,
			Enabled:     h.Enablement.IsEnabled(m.Canonical),
			Locked:      lockedSet[m.Canonical],
		})
	}
	return candidates, byName
}

// pick chooses one eligible model for purpose and returns its backend.
func (h *Hub) pick(purpose selector.Purpose) (registry.Model, backend.Backend, bool) {
	candidates, byName := h.candidates(true)
	result := selector.Select(candidates, purpose, true)
	if !result.Found {
		return registry.Model{}, nil, false
	}
	m := byName[result.Chosen]
	if h.HTTPBaseURL != "" {
		return m, backend.NewHTTPBackend(h.HTTPBaseURL, m.Canonical), true
	}
	return m, backend.NewLlamafileBackend(h.LlamafileBinary, filepath.Join(h.ModelDir, m.File)), true
}

// minTierForGeneration mirrors the tier gate the Step Executor already
// enforces: tiers 0-1 may not freely generate, so a chat-backed
// CodeGenerator/ModelPlanner here only ever dispatches to tier ≥2.
const minTierForGeneration = 2

func (h *Hub) pickGenerationCapable() (registry.Model, backend.Backend, bool) {
	m, b, ok := h.pick(selector.PurposeComplex)
	if !ok || m.Tier < minTierForGeneration {
		return registry.Model{}, nil, false
	}
	return m, b, true
}

func chatOnce(ctx context.Context, b backend.Backend, system, user string) (string, error) {
	req := backend.ChatRequest{
		Messages: []backend.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   backend.MaxTokensForTier(2),
		Temperature: 0.2,
		Timeout:     0,
	}
	text, _, err := b.Chat(ctx, req)
	return text, err
}

// RequestPlan satisfies plan.ModelPlanner.
func (h *Hub) RequestPlan(ctx context.Context, request string, kind classify.Kind) (string, error) {
	_, b, ok := h.pickGenerationCapable()
	if !ok {
		return "", fmt.Errorf("modelhub: no tier >= %d model eligible for planning", minTierForGeneration)
	}
	system := "You turn a user's request into a short numbered checklist of concrete steps. " +
		"Reply with only the numbered list, one step per line."
	return chatOnce(ctx, b, system, fmt.Sprintf("Request (%s): %s", kind, request))
}

// GenerateCode satisfies exec.CodeGenerator.
func (h *Hub) GenerateCode(ctx context.Context, description, language string, tier int) (string, error) {
	if tier < minTierForGeneration {
		return "", fmt.Errorf("modelhub: tier %d may not generate code directly", tier)
	}
	_, b, ok := h.pickGenerationCapable()
	if !ok {
		return "", fmt.Errorf("modelhub: no tier >= %d model eligible for code generation", minTierForGeneration)
	}
	system := fmt.Sprintf("You write a single %s source file. Reply with only a fenced code block, no prose.", language)
	return chatOnce(ctx, b, system, description)
}

// ClassifyTemplateFit satisfies exec.CodeGenerator.
func (h *Hub) ClassifyTemplateFit(ctx context.Context, description, templateCode string) (string, error) {
	_, b, ok := h.pickGenerationCapable()
	if !ok {
		return "GENERATE_NEW", nil
	}
	system := "Reply with exactly one word: USE_AS_IS, NEEDS_MODIFICATION, or GENERATE_NEW."
	text, err := chatOnce(ctx, b, system, fmt.Sprintf("Task: %s\n\nCandidate template:\n%s", description, templateCode))
	if err != nil {
		return "", err
	}
	text = strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.Contains(text, "USE_AS_IS"):
		return "USE_AS_IS", nil
	case strings.Contains(text, "NEEDS_MODIFICATION"):
		return "NEEDS_MODIFICATION", nil
	default:
		return "GENERATE_NEW", nil
	}
}

// analysisResponse / decisionResponse mirror repair.Analysis / repair.Decision
// for JSON round-tripping over chat; the model is asked to reply with only
// this shape.
type analysisResponse struct {
	RootCause     string   `json:"root_cause"`
	AffectedAreas []string `json:"affected_areas"`
	FixPlan       []string `json:"fix_plan"`
}

type decisionResponse struct {
	Strategy         string `json:"strategy"`
	UseConsensusID   string `json:"use_consensus_id,omitempty"`
	AdaptConsensusID string `json:"adapt_consensus_id,omitempty"`
	Code             string `json:"code,omitempty"`
}

// Analyze satisfies repair.ModelConsultant.
func (h *Hub) Analyze(ctx context.Context, code, stderr, signature string) (repair.Analysis, error) {
	_, b, ok := h.pickGenerationCapable()
	if !ok {
		return repair.Analysis{}, fmt.Errorf("modelhub: no tier >= %d model eligible for repair analysis", minTierForGeneration)
	}
	system := `Analyze a failing script. Reply with only JSON: {"root_cause":"...","affected_areas":["..."],"fix_plan":["..."]}`
	user := fmt.Sprintf("Signature: %s\n\nStderr:\n%s\n\nCode:\n%s", signature, stderr, code)
	text, err := chatOnce(ctx, b, system, user)
	if err != nil {
		return repair.Analysis{}, err
	}
	var ar analysisResponse
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &ar); err != nil {
		return repair.Analysis{RootCause: strings.TrimSpace(text)}, nil
	}
	return repair.Analysis{RootCause: ar.RootCause, AffectedAreas: ar.AffectedAreas, FixPlan: ar.FixPlan}, nil
}

// Decide satisfies repair.ModelConsultant.
func (h *Hub) Decide(ctx context.Context, code, stderr string, analysis repair.Analysis, candidates []cache.Fix) (repair.Decision, error) {
	_, b, ok := h.pickGenerationCapable()
	if !ok {
		return repair.Decision{}, fmt.Errorf("modelhub: no tier >= %d model eligible for repair decisions", minTierForGeneration)
	}
	system := `Decide how to fix a failing script. Reply with only JSON: ` +
		`{"strategy":"NEW_FIX|USE_CONSENSUS|ADAPT_CONSENSUS","use_consensus_id":"...","adapt_consensus_id":"...","code":"..."}`
	user := fmt.Sprintf("Root cause: %s\nFix plan: %s\n\nStderr:\n%s\n\nCode:\n%s\n\n%s",
		analysis.RootCause, strings.Join(analysis.FixPlan, "; "), stderr, code, formatConsensusCandidates(candidates))
	text, err := chatOnce(ctx, b, system, user)
	if err != nil {
		return repair.Decision{}, err
	}
	var dr decisionResponse
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &dr); err != nil {
		return repair.Decision{NewFixCode: extractCodeBlock(text)}, nil
	}
	switch strings.ToUpper(dr.Strategy) {
	case "USE_CONSENSUS":
		return repair.Decision{UseConsensusID: dr.UseConsensusID}, nil
	case "ADAPT_CONSENSUS":
		return repair.Decision{AdaptConsensusID: dr.AdaptConsensusID, AdaptedCode: dr.Code}, nil
	default:
		return repair.Decision{NewFixCode: dr.Code}, nil
	}
}

// formatConsensusCandidates renders known fixes for the same error signature
// so the model can choose USE_CONSENSUS/ADAPT_CONSENSUS instead of writing a
// fix from scratch. Empty when the cache had nothing eligible.
func formatConsensusCandidates(candidates []cache.Fix) string {
	if len(candidates) == 0 {
		return "Consensus candidates: none."
	}
	var b strings.Builder
	b.WriteString("Consensus candidates (pick use_consensus_id or adapt_consensus_id from these if one applies):\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s confidence=%.2f\n%s\n", c.Hash, c.Confidence, c.Code)
	}
	return b.String()
}

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

func extractCodeBlock(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return rest[:end]
	}
	return rest
}
