// Package scoring evaluates discovered posts against a monitor's keyword
// model. It is pure: no network, no storage.
package scoring

import (
	"strings"

	"leadflow/discovery-service/internal/model"
)

// Result is the outcome of scoring one post.
type Result struct {
	Score         int
	Excluded      bool
	ExclusionTerm string
	Priority      model.Priority

	HighIntent []string // matched high-intent phrases
	Service    []string // matched service keywords
	Location   []string // matched location keywords
}

// Score evaluates post against rules over the lowercased concatenation of
// title and body.
//
// Exclusion keywords short-circuit: any match returns score 0 and Excluded
// true, no further categories are evaluated. Otherwise every matching term in
// the three remaining categories adds that category's weight, and priority is
// derived from the thresholds (inclusive at the boundary).
func Score(post model.DiscoveredPost, rules model.ScoringRules) Result {
	text := strings.ToLower(post.Title + " " + post.Body)

	if term, hit := firstMatch(text, rules.Exclusions); hit {
		return Result{Excluded: true, ExclusionTerm: term, Priority: model.PriorityLow}
	}

	res := Result{}
	res.HighIntent = matches(text, rules.HighIntent)
	res.Service = matches(text, rules.Service)
	res.Location = matches(text, rules.Location)

	res.Score = len(res.HighIntent)*rules.Weights.HighIntent +
		len(res.Service)*rules.Weights.Service +
		len(res.Location)*rules.Weights.Location

	switch {
	case res.Score >= rules.Thresholds.High:
		res.Priority = model.PriorityHigh
	case res.Score >= rules.Thresholds.Medium:
		res.Priority = model.PriorityMedium
	default:
		res.Priority = model.PriorityLow
	}

	return res
}

// firstMatch returns the first term occurring as a substring of text.
func firstMatch(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(t)) {
			return t, true
		}
	}
	return "", false
}

// matches returns every term occurring as a substring of text, preserving the
// configured order.
func matches(text string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(t)) {
			out = append(out, t)
		}
	}
	return out
}
