package selector

import "testing"

func TestSelectAscendingForSimplePurpose(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "mixtral", Tier: 3, IntegrityOK: true, Enabled: true},
		{Canonical: "tinyllama", Tier: 0, IntegrityOK: true, Enabled: true},
		{Canonical: "phi-2", Tier: 1, IntegrityOK: true, Enabled: true},
	}
	res := Select(candidates, PurposeSimple, false)
	if !res.Found || res.Chosen != "tinyllama" {
		t.Fatalf("expected tinyllama (lowest tier), got %+v", res)
	}
	if len(res.BypassedModels) != 2 {
		t.Fatalf("expected 2 bypassed models, got %v", res.BypassedModels)
	}
}

func TestSelectDescendingForComplexPurpose(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "tinyllama", Tier: 0, IntegrityOK: true, Enabled: true},
		{Canonical: "mixtral", Tier: 3, IntegrityOK: true, Enabled: true},
		{Canonical: "phi-2", Tier: 1, IntegrityOK: true, Enabled: true},
	}
	res := Select(candidates, PurposeComplex, false)
	if !res.Found || res.Chosen != "mixtral" {
		t.Fatalf("expected mixtral (highest tier), got %+v", res)
	}
}

func TestSelectExcludesCorruptAndDisabled(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "corrupt", Tier: 0, IntegrityOK: false, Enabled: true},
		{Canonical: "disabled", Tier: 0, IntegrityOK: true, Enabled: false},
		{Canonical: "good", Tier: 2, IntegrityOK: true, Enabled: true},
	}
	res := Select(candidates, PurposeSimple, false)
	if !res.Found || res.Chosen != "good" {
		t.Fatalf("expected only 'good' eligible, got %+v", res)
	}
}

func TestSelectExcludesLockedWhenRequested(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "a", Tier: 0, IntegrityOK: true, Enabled: true, Locked: true},
		{Canonical: "b", Tier: 1, IntegrityOK: true, Enabled: true, Locked: false},
	}
	res := Select(candidates, PurposeSimple, true)
	if !res.Found || res.Chosen != "b" {
		t.Fatalf("expected locked model excluded, got %+v", res)
	}
}

func TestSelectOpportunisticIncludesLocked(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "a", Tier: 0, IntegrityOK: true, Enabled: true, Locked: true},
		{Canonical: "b", Tier: 1, IntegrityOK: true, Enabled: true, Locked: false},
	}
	res := Select(candidates, PurposeSimple, false)
	if !res.Found || res.Chosen != "a" {
		t.Fatalf("expected opportunistic mode to still consider locked models, got %+v", res)
	}
}

func TestSelectTieBreaksByCanonicalName(t *testing.T) {
	candidates := []Candidate{
		{Canonical: "zeta", Tier: 1, IntegrityOK: true, Enabled: true},
		{Canonical: "alpha", Tier: 1, IntegrityOK: true, Enabled: true},
	}
	res := Select(candidates, PurposeSimple, false)
	if res.Chosen != "alpha" {
		t.Fatalf("expected stable tie-break by canonical name, got %s", res.Chosen)
	}
}

func TestSelectEmptyWhenNoneEligible(t *testing.T) {
	res := Select(nil, PurposeSimple, false)
	if res.Found {
		t.Fatal("expected not found on empty candidate set")
	}
}
