// Package merge reconciles AI-sourced and script-sourced issues into one
// de-duplicated, conflict-resolved list.
//
// Issues are grouped by rule ID and normalized location, where two
// locations are the same when they name the same section and paragraph.
// Offsets inside a paragraph are not compared: the model's positions are
// coarser than the matchers'. Issues without a location never join a group.
//
// Within a group:
//   - every script issue is kept; the deterministic engine is authoritative
//   - several AI issues collapse to one representative
//   - the AI representative folds into the script issue nearest its offset,
//     which becomes source=merged and keeps the script severity,
//     blocks_publish and location
//   - an AI representative with no script partner stays source=ai and is
//     flagged for review below the confidence threshold
package merge

import (
	"cmp"
	"slices"

	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/verdict"
)

// DefaultReviewThreshold is the confidence below which an AI-only issue
// needs human review.
const DefaultReviewThreshold = 0.7

// Options tunes a merge.
type Options struct {
	// ReviewThreshold overrides DefaultReviewThreshold when positive.
	ReviewThreshold float64
}

func (o Options) threshold() float64 {
	if o.ReviewThreshold > 0 {
		return o.ReviewThreshold
	}
	return DefaultReviewThreshold
}

// Outcome is the merged result.
type Outcome struct {
	Issues          []schema.Issue
	Statistics      schema.Statistics
	SourceBreakdown schema.SourceBreakdown
	Verdict         schema.Verdict
	// DuplicatesCollapsed is the number of input issues absorbed into
	// another. len(ai)+len(script) == SourceBreakdown.Total()+DuplicatesCollapsed.
	DuplicatesCollapsed int
}

type key struct {
	ruleID    string
	section   string
	paragraph int
}

type group struct {
	ai     []schema.Issue
	script []schema.Issue
}

// Merge combines ai and script issues. It does not modify its inputs and
// the result does not depend on input order.
func Merge(ai, script []schema.Issue, opts Options) Outcome {
	var (
		out       = make([]schema.Issue, 0, len(ai)+len(script))
		collapsed int
		groups    = map[key]*group{}
	)
	at := func(is schema.Issue) *group {
		k := key{ruleID: is.RuleID, section: is.Location.Section, paragraph: is.Location.Paragraph}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
		}
		return g
	}

	for _, is := range script {
		is.Location = cloneLocation(is.Location)
		if is.Location == nil {
			out = append(out, is)
			continue
		}
		g := at(is)
		g.script = append(g.script, is)
	}
	for _, is := range ai {
		is.Location = cloneLocation(is.Location)
		if is.Location == nil {
			out = append(out, flagAI(is, opts))
			continue
		}
		g := at(is)
		g.ai = append(g.ai, is)
	}

	for _, g := range groups {
		if len(g.ai) == 0 {
			out = append(out, g.script...)
			continue
		}
		rep := representative(g.ai)
		collapsed += len(g.ai) - 1
		if len(g.script) == 0 {
			out = append(out, flagAI(rep, opts))
			continue
		}
		target := nearest(g.script, rep.Location.Offset)
		for i, s := range g.script {
			if i == target {
				out = append(out, combine(s, rep))
				collapsed++
				continue
			}
			out = append(out, s)
		}
	}

	for i := range out {
		if out[i].Source == "" {
			out[i].Source = schema.SourceScript
		}
	}
	slices.SortFunc(out, schema.CompareIssues)
	return Outcome{
		Issues:              out,
		Statistics:          verdict.Tally(out),
		SourceBreakdown:     verdict.Breakdown(out),
		Verdict:             verdict.Determine(out),
		DuplicatesCollapsed: collapsed,
	}
}

// representative picks the AI issue that stands for its group: highest
// confidence, then highest severity, then the canonical issue order.
func representative(issues []schema.Issue) schema.Issue {
	return slices.MinFunc(issues, func(a, b schema.Issue) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		return schema.CompareIssues(a, b)
	})
}

// nearest returns the index of the script issue whose offset is closest to
// offset; ties go to the issue first in canonical order.
func nearest(script []schema.Issue, offset int) int {
	best := 0
	for i := 1; i < len(script); i++ {
		di, db := abs(script[i].Location.Offset-offset), abs(script[best].Location.Offset-offset)
		if di < db || (di == db && schema.CompareIssues(script[i], script[best]) < 0) {
			best = i
		}
	}
	return best
}

// combine folds the AI issue into the script issue. The script result is
// authoritative for severity, blocks_publish and location; the model's
// explanation fills in what the matcher left empty.
func combine(s, a schema.Issue) schema.Issue {
	m := s
	m.Source = schema.SourceMerged
	if m.Message == "" {
		m.Message = a.Message
	}
	if m.SuggestedFix == "" {
		m.SuggestedFix = a.SuggestedFix
	}
	m.Confidence = max(s.Confidence, a.Confidence)
	m.NeedsReview = false
	return m
}

func flagAI(is schema.Issue, opts Options) schema.Issue {
	is.Source = schema.SourceAI
	is.NeedsReview = is.Confidence < opts.threshold()
	return is
}

func cloneLocation(l *schema.Location) *schema.Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
