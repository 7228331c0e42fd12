package scoring_test

import (
	"testing"

	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/scoring"
)

func defaultRules() model.ScoringRules {
	r := model.ScoringRules{
		Exclusions: []string{"hiring", "for hire"},
		HighIntent: []string{"who do you recommend", "looking for a quote"},
		Service:    []string{"window", "gutter"},
		Location:   []string{"phoenix", "mesa"},
	}
	r.Normalize()
	return r
}

func post(title, body string) model.DiscoveredPost {
	return model.DiscoveredPost{ExternalID: "p1", Title: title, Body: body}
}

// ── Exclusion short-circuit ────────────────────────────────────────────────

func TestScore_ExclusionShortCircuits(t *testing.T) {
	// The post also matches every scoring category; exclusion must win.
	p := post("Hiring a window cleaner in Phoenix", "who do you recommend?")
	res := scoring.Score(p, defaultRules())

	if !res.Excluded {
		t.Fatal("post containing an exclusion keyword must be excluded")
	}
	if res.Score != 0 {
		t.Errorf("excluded post score = %d, want 0", res.Score)
	}
	if res.ExclusionTerm != "hiring" {
		t.Errorf("ExclusionTerm = %q, want %q", res.ExclusionTerm, "hiring")
	}
	if len(res.HighIntent)+len(res.Service)+len(res.Location) != 0 {
		t.Error("excluded post must not retain category matches")
	}
}

func TestScore_ExclusionIsCaseInsensitive(t *testing.T) {
	p := post("HIRING now", "")
	if res := scoring.Score(p, defaultRules()); !res.Excluded {
		t.Error("uppercase exclusion keyword should still exclude")
	}
}

// ── Weighted accumulation ──────────────────────────────────────────────────

func TestScore_WeightedAccumulation(t *testing.T) {
	// +30 high-intent, +15 service, +10 location = 55 → medium.
	p := post("Who do you recommend for window cleaning?", "I'm in phoenix and need help")
	res := scoring.Score(p, defaultRules())

	if res.Excluded {
		t.Fatal("post should not be excluded")
	}
	if res.Score != 55 {
		t.Errorf("score = %d, want 55", res.Score)
	}
	if res.Priority != model.PriorityMedium {
		t.Errorf("priority = %s, want medium", res.Priority)
	}
	if len(res.HighIntent) != 1 || res.HighIntent[0] != "who do you recommend" {
		t.Errorf("HighIntent matches = %v", res.HighIntent)
	}
	if len(res.Service) != 1 || res.Service[0] != "window" {
		t.Errorf("Service matches = %v", res.Service)
	}
	if len(res.Location) != 1 || res.Location[0] != "phoenix" {
		t.Errorf("Location matches = %v", res.Location)
	}
}

func TestScore_EachMatchingTermCounts(t *testing.T) {
	p := post("window and gutter work needed", "in phoenix or mesa")
	res := scoring.Score(p, defaultRules())

	// 2 service terms and 2 location terms: 2*15 + 2*10 = 50.
	if res.Score != 50 {
		t.Errorf("score = %d, want 50", res.Score)
	}
}

func TestScore_NoMatches(t *testing.T) {
	p := post("completely unrelated", "nothing to see")
	res := scoring.Score(p, defaultRules())

	if res.Excluded || res.Score != 0 || res.Priority != model.PriorityLow {
		t.Errorf("no-match result = %+v, want score 0, low, not excluded", res)
	}
}

// ── Priority boundaries ────────────────────────────────────────────────────

func TestScore_PriorityBoundariesInclusive(t *testing.T) {
	rules := defaultRules()
	// One high-intent phrase with a tuned weight lands exactly on a boundary.
	cases := []struct {
		weight int
		want   model.Priority
	}{
		{60, model.PriorityHigh},   // == high threshold
		{59, model.PriorityMedium}, // one below high
		{40, model.PriorityMedium}, // == medium threshold
		{39, model.PriorityLow},    // one below medium
	}
	for _, c := range cases {
		rules.Weights.HighIntent = c.weight
		res := scoring.Score(post("who do you recommend", ""), rules)
		if res.Score != c.weight {
			t.Errorf("weight %d: score = %d", c.weight, res.Score)
		}
		if res.Priority != c.want {
			t.Errorf("score %d: priority = %s, want %s", c.weight, res.Priority, c.want)
		}
	}
}

func TestScore_PerMonitorThresholds(t *testing.T) {
	rules := defaultRules()
	rules.Thresholds = model.Thresholds{High: 25, Medium: 10}

	res := scoring.Score(post("who do you recommend", ""), rules)
	if res.Priority != model.PriorityHigh {
		t.Errorf("score 30 with high threshold 25: priority = %s, want high", res.Priority)
	}
}
