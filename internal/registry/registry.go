// Package registry implements the Model Registry (C1): a pure function
// surface over a build-time catalog of known models, their canonical
// names, backing files, tiers and expected sizes.
package registry

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"localmind/internal/logx"
)

//go:embed models.toml
var catalogTOML []byte

// Model is a canonical, build-time-defined model definition.
type Model struct {
	Canonical       string
	File            string
	Tier            int
	ExpectedSizeMB  uint32
	Aliases         []string
}

// DisplayName renders a human-facing label; never used for comparisons.
func (m Model) DisplayName() string {
	return fmt.Sprintf("%s (Tier %d)", titleCase(m.Canonical), m.Tier)
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == ' ' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type catalogFile struct {
	Model []struct {
		Canonical       string   `toml:"canonical"`
		File            string   `toml:"file"`
		Tier            int      `toml:"tier"`
		ExpectedSizeMB  uint32   `toml:"expected_size_mb"`
		Aliases         []string `toml:"aliases"`
	} `toml:"model"`
}

// Registry resolves arbitrary user-typed strings to canonical Models.
type Registry struct {
	byCanonical map[string]Model
	// index maps a normalized alias/canonical string to the canonical name.
	index map[string]string
	order []string // canonical names, stable insertion order
}

// Load parses the embedded build-time catalog. It never fails in practice
// (the catalog is compiled into the binary) but returns an error for
// malformed TOML so callers can fail fast during tests.
func Load() (*Registry, error) {
	var cf catalogFile
	if _, err := toml.Decode(string(catalogTOML), &cf); err != nil {
		return nil, fmt.Errorf("registry: decoding catalog: %w", err)
	}

	r := &Registry{
		byCanonical: make(map[string]Model),
		index:       make(map[string]string),
	}
	for _, m := range cf.Model {
		model := Model{
			Canonical:      m.Canonical,
			File:           m.File,
			Tier:           m.Tier,
			ExpectedSizeMB: m.ExpectedSizeMB,
			Aliases:        append([]string(nil), m.Aliases...),
		}
		r.byCanonical[model.Canonical] = model
		r.order = append(r.order, model.Canonical)
		r.index[normalize(model.Canonical)] = model.Canonical
		for _, a := range model.Aliases {
			r.index[normalize(a)] = model.Canonical
		}
	}
	logx.Get(logx.CategoryRegistry).Info("loaded %d models from build-time catalog", len(r.order))
	return r, nil
}

// normalize case-folds and strips punctuation except dots (version numbers
// like "3.2" need to survive normalization for the digit-prefix rule).
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		default:
			// punctuation/whitespace acts as a separator; drop it so
			// "tiny llama", "tiny-llama" and "tinyllama" all collapse.
		}
	}
	return b.String()
}

// Canonicalize resolves an arbitrary input string. It returns exactly one
// Model on an unambiguous match, zero candidates when nothing matches at
// all, and more than one candidate when the input is a startswith-prefix of
// several distinct canonical/alias entries (e.g. "llama" against "llama2",
// "llama3.2" and "llama3.1-70b"); callers must disambiguate rather than
// guess.
func (r *Registry) Canonicalize(input string) []Model {
	n := normalize(input)
	if n == "" {
		return nil
	}

	// Exact match wins outright, even if it would also be an ambiguous
	// prefix of something else (e.g. "mistral" vs a hypothetical
	// "mistral-large" alias).
	if canon, ok := r.index[n]; ok {
		return []Model{r.byCanonical[canon]}
	}

	// Startswith rule: collect every indexed key with n as a prefix.
	matchedCanonical := make(map[string]bool)
	for key, canon := range r.index {
		if strings.HasPrefix(key, n) {
			matchedCanonical[canon] = true
		}
	}
	if len(matchedCanonical) == 0 {
		return nil
	}

	candidates := make([]Model, 0, len(matchedCanonical))
	for canon := range matchedCanonical {
		candidates = append(candidates, r.byCanonical[canon])
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Canonical < candidates[j].Canonical })
	return candidates
}

// CanonicalizeOne is a convenience wrapper for callers that only want an
// unambiguous match; ok is false both when there is no match and when the
// match is ambiguous (use Canonicalize directly to inspect candidates).
func (r *Registry) CanonicalizeOne(input string) (Model, bool) {
	candidates := r.Canonicalize(input)
	if len(candidates) != 1 {
		return Model{}, false
	}
	return candidates[0], true
}

// Get returns the Model for an exact canonical name.
func (r *Registry) Get(canonical string) (Model, bool) {
	m, ok := r.byCanonical[canonical]
	return m, ok
}

// All returns every known Model in stable catalog order.
func (r *Registry) All() []Model {
	out := make([]Model, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, r.byCanonical[c])
	}
	return out
}

// ModelFile returns the backing GGUF file name for a canonical model.
func (r *Registry) ModelFile(canonical string) (string, bool) {
	m, ok := r.byCanonical[canonical]
	if !ok {
		return "", false
	}
	return m.File, true
}

// Tier returns the capability tier for a canonical model.
func (r *Registry) Tier(canonical string) (int, bool) {
	m, ok := r.byCanonical[canonical]
	if !ok {
		return 0, false
	}
	return m.Tier, true
}

// ExpectedSizeMB returns the expected on-disk size for a canonical model.
func (r *Registry) ExpectedSizeMB(canonical string) (uint32, bool) {
	m, ok := r.byCanonical[canonical]
	if !ok {
		return 0, false
	}
	return m.ExpectedSizeMB, true
}
