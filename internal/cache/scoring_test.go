package cache

import (
	"testing"
	"time"
)

func TestTemplateRelevancePerfectMatch(t *testing.T) {
	now := time.Now().UTC()
	tmpl := Template{
		Keywords:  []string{"http", "server", "router"},
		Language:  "go",
		UpdatedAt: now,
	}
	score := TemplateRelevance(tmpl, []string{"http", "server", "router"}, "go", now)
	if score != 10 {
		t.Fatalf("expected max relevance for exact match, got %d", score)
	}
}

func TestTemplateRelevanceNoOverlap(t *testing.T) {
	now := time.Now().UTC()
	tmpl := Template{
		Keywords:  []string{"unrelated"},
		Language:  "python",
		UpdatedAt: now.Add(-365 * 24 * time.Hour),
	}
	score := TemplateRelevance(tmpl, []string{"http", "server"}, "go", now)
	if score != 0 {
		t.Fatalf("expected zero relevance for no overlap/mismatch/stale, got %d", score)
	}
}

func TestFixConfidenceZeroAttempts(t *testing.T) {
	f := Fix{SuccessCount: 0, AttemptCount: 0}
	if FixConfidence(f) != 0 {
		t.Fatal("expected zero confidence with zero attempts")
	}
}

func TestFixConfidenceThresholds(t *testing.T) {
	cases := []struct {
		success, attempts int
		wantTier          ConfidenceTier
	}{
		{8, 10, TierTrusted},
		{6, 10, TierAccepted},
		{3, 10, TierExperimental},
		{2, 10, TierHidden},
	}
	for _, c := range cases {
		f := Fix{SuccessCount: c.success, AttemptCount: c.attempts}
		got := classifyConfidence(FixConfidence(f))
		if got != c.wantTier {
			t.Fatalf("success=%d attempts=%d: expected %s, got %s", c.success, c.attempts, c.wantTier, got)
		}
	}
}

func TestIsFixReturnableExcludesBelowExperimental(t *testing.T) {
	f := Fix{SuccessCount: 1, AttemptCount: 10} // confidence 0.10
	if IsFixReturnable(f) {
		t.Fatal("fix with confidence below 0.30 must never be returnable")
	}
}

func TestFixScoreRewardsHigherConfidenceAndRecency(t *testing.T) {
	now := time.Now().UTC()
	strong := Fix{SuccessCount: 9, AttemptCount: 10, UpdatedAt: now, Keywords: []string{"nil", "pointer"}}
	weak := Fix{SuccessCount: 4, AttemptCount: 10, UpdatedAt: now.Add(-200 * 24 * time.Hour), Keywords: []string{"nil", "pointer"}}

	strongScore := FixScore(strong, []string{"nil", "pointer"}, now)
	weakScore := FixScore(weak, []string{"nil", "pointer"}, now)
	if strongScore <= weakScore {
		t.Fatalf("expected stronger, more recent fix to score higher: strong=%.3f weak=%.3f", strongScore, weakScore)
	}
}
