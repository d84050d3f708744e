// Package selector implements the Model Selector (C6): picks one eligible
// model for a call, ordered by tier in the direction the caller's purpose
// demands, excluding corrupt, disabled, or (optionally) locked candidates.
package selector

import "sort"

// Purpose controls tier-ordering direction: simple tasks prefer the
// smallest capable model, complex tasks prefer the most capable.
type Purpose int

const (
	PurposeSimple Purpose = iota
	PurposeComplex
)

// Candidate is one model's current eligibility snapshot, assembled by the
// caller from the Registry, Integrity Verifier, Enablement Store, and Lock
// Manager before calling Select.
type Candidate struct {
	Canonical    string
	Tier         int
	IntegrityOK  bool
	Enabled      bool
	Locked       bool
}

// Result is the Selector's decision, including the bypassed set the
// Execution Tracker records.
type Result struct {
	Chosen          string
	Found           bool
	BypassedModels  []string
}

// Select implements spec steps 1-5: filter to integrity-ok, enabled, and
// (if excludeLocked) unlocked candidates; order by tier ascending for
// PurposeSimple or descending for PurposeComplex, tie-broken by stable
// canonical-name order; return the first candidate and the list of
// lower-priority eligible candidates that were skipped.
func Select(candidates []Candidate, purpose Purpose, excludeLocked bool) Result {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.IntegrityOK || !c.Enabled {
			continue
		}
		if excludeLocked && c.Locked {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Tier != b.Tier {
			if purpose == PurposeComplex {
				return a.Tier > b.Tier
			}
			return a.Tier < b.Tier
		}
		return a.Canonical < b.Canonical
	})

	if len(eligible) == 0 {
		return Result{Found: false}
	}

	bypassed := make([]string, 0, len(eligible)-1)
	for _, c := range eligible[1:] {
		bypassed = append(bypassed, c.Canonical)
	}

	return Result{
		Chosen:         eligible[0].Canonical,
		Found:          true,
		BypassedModels: bypassed,
	}
}
