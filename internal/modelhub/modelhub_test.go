package modelhub

import (
	"testing"

	"localmind/internal/enablement"
	"localmind/internal/modellock"
	"localmind/internal/registry"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	appDir := t.TempDir()
	reg, err := registry.Load()
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	en, err := enablement.Open(appDir, reg)
	if err != nil {
		t.Fatalf("enablement.Open: %v", err)
	}
	if err := en.EnableAll(); err != nil {
		t.Fatalf("EnableAll: %v", err)
	}
	lockMgr, err := modellock.New(appDir)
	if err != nil {
		t.Fatalf("modellock.New: %v", err)
	}
	return &Hub{
		Reg:             reg,
		Enablement:      en,
		LockMgr:         lockMgr,
		ModelDir:        t.TempDir(),
		LlamafileBinary: "llamafile",
	}
}

func TestCandidatesMarksEveryRegisteredModelIntegrityMissing(t *testing.T) {
	h := newTestHub(t)
	candidates, byName := h.candidates(true)
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate from the registry")
	}
	for _, c := range candidates {
		if c.IntegrityOK {
			t.Fatalf("candidate %s: expected IntegrityOK false, no model file was installed in the temp dir", c.Canonical)
		}
		if !c.Enabled {
			t.Fatalf("candidate %s: expected Enabled true after EnableAll", c.Canonical)
		}
		if _, ok := byName[c.Canonical]; !ok {
			t.Fatalf("byName missing entry for %s", c.Canonical)
		}
	}
}

func TestPickGenerationCapableFindsNoneWithoutInstalledFiles(t *testing.T) {
	h := newTestHub(t)
	// No model file exists in ModelDir, so every candidate fails integrity
	// and pickGenerationCapable must report not-ok rather than panic.
	if _, _, ok := h.pickGenerationCapable(); ok {
		t.Fatal("expected pickGenerationCapable to fail with no installed model files")
	}
}

func TestGenerateCodeRejectsLowTierBeforeTouchingTheBackend(t *testing.T) {
	h := newTestHub(t)
	_, err := h.GenerateCode(nil, "write a script", "python", 1)
	if err == nil {
		t.Fatal("expected an error for tier below the generation floor")
	}
}

func TestExtractJSONObjectFindsPayloadInsideProse(t *testing.T) {
	text := "Sure, here is the analysis:\n{\"root_cause\":\"nil pointer\"}\nLet me know if that helps."
	got := extractJSONObject(text)
	want := `{"root_cause":"nil pointer"}`
	if got != want {
		t.Fatalf("extractJSONObject = %q, want %q", got, want)
	}
}

func TestExtractJSONObjectFallsBackToEmptyObject(t *testing.T) {
	if got := extractJSONObject("no braces here"); got != "{}" {
		t.Fatalf("extractJSONObject = %q, want {}", got)
	}
}

func TestExtractCodeBlockStripsFence(t *testing.T) {
	text := "Here you go:\n```python\nprint('hi')\n```\nDone."
	got := extractCodeBlock(text)
	want := "print('hi')\n"
	if got != want {
		t.Fatalf("extractCodeBlock = %q, want %q", got, want)
	}
}

func TestExtractCodeBlockReturnsInputWhenNoFence(t *testing.T) {
	text := "plain text, no fence"
	if got := extractCodeBlock(text); got != text {
		t.Fatalf("extractCodeBlock = %q, want unchanged input", got)
	}
}
