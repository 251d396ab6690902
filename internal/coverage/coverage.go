// Package coverage provides pure logic helpers for comparing the rules the
// model says it considered with the rules it was asked to judge.
package coverage

import (
	"slices"

	"github.com/dshills/proofcheck/internal/schema"
)

// Summarize compares reported, the model's self-reported rule_coverage, with
// expected, the rule IDs rendered into the prompt. It returns nil when the
// model did not report coverage at all.
func Summarize(expected, reported []string, wasReported bool) *schema.RuleCoverage {
	if !wasReported {
		return nil
	}
	rc := &schema.RuleCoverage{Reported: true}
	for _, id := range reported {
		if slices.Contains(expected, id) {
			rc.Considered = appendUnique(rc.Considered, id)
		} else {
			rc.Unknown = appendUnique(rc.Unknown, id)
		}
	}
	for _, id := range expected {
		if !slices.Contains(reported, id) {
			rc.Missing = appendUnique(rc.Missing, id)
		}
	}
	slices.Sort(rc.Considered)
	slices.Sort(rc.Missing)
	slices.Sort(rc.Unknown)
	return rc
}

// Ratio returns the share of expected rules the model considered, in [0,1].
// An empty expectation counts as full coverage.
func Ratio(rc *schema.RuleCoverage) float64 {
	if rc == nil {
		return 0
	}
	total := len(rc.Considered) + len(rc.Missing)
	if total == 0 {
		return 1
	}
	return float64(len(rc.Considered)) / float64(total)
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
