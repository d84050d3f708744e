package registry

import "testing"

func TestCanonicalizeExactAndAlias(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, in := range []string{"mistral", "Mistral", "mistral-7b", "mistral 7b", "MISTRAL-7B"} {
		m, ok := r.CanonicalizeOne(in)
		if !ok {
			t.Fatalf("CanonicalizeOne(%q): no match", in)
		}
		if m.Canonical != "mistral" {
			t.Fatalf("CanonicalizeOne(%q) = %q, want mistral", in, m.Canonical)
		}
	}
}

func TestCanonicalizeUnknown(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if candidates := r.Canonicalize("not-a-real-model-xyz"); len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %v", candidates)
	}
}

func TestCanonicalizeAmbiguousPrefix(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// "llama" is not itself a name or alias but is a startswith-prefix of
	// llama2, llama3.2 and llama3.1-70b; it must surface the candidates
	// rather than guess.
	candidates := r.Canonicalize("llama")
	if len(candidates) < 2 {
		t.Fatalf("expected ambiguous candidates for 'llama', got %v", candidates)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := r.CanonicalizeOne("tinyllama")
	if !ok {
		t.Fatal("expected a match for tinyllama")
	}
	m2, ok := r.CanonicalizeOne(m.Canonical)
	if !ok || m2.Canonical != m.Canonical {
		t.Fatalf("canonicalize(canonicalize(x)) != canonicalize(x): %v vs %v", m, m2)
	}
}

func TestAllIsStableOrder(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	first := r.All()
	second := r.All()
	if len(first) != len(second) {
		t.Fatalf("length mismatch between calls")
	}
	for i := range first {
		if first[i].Canonical != second[i].Canonical {
			t.Fatalf("order not stable at index %d: %v vs %v", i, first[i], second[i])
		}
	}
}
