package schema

import (
	"cmp"
	"strings"
)

var sectionOrder = map[string]int{
	SectionTitle:    0,
	SectionSubtitle: 1,
	SectionDigest:   2,
	SectionKeywords: 3,
	SectionBody:     4,
	SectionImages:   5,
}

func sectionRank(s string) int {
	if r, ok := sectionOrder[s]; ok {
		return r
	}
	return len(sectionOrder)
}

// CompareLocation orders locations in document order. Nil locations sort
// after every located position.
func CompareLocation(a, b *Location) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if c := cmp.Compare(sectionRank(a.Section), sectionRank(b.Section)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Section, b.Section); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Paragraph, b.Paragraph); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Offset, b.Offset); c != 0 {
		return c
	}
	return strings.Compare(a.Quote, b.Quote)
}

// CompareIssues is a total order over issues used wherever output must not
// depend on input order: rule, then location, then the remaining fields.
func CompareIssues(a, b Issue) int {
	if c := strings.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	if c := CompareLocation(a.Location, b.Location); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := strings.Compare(a.Message, b.Message); c != 0 {
		return c
	}
	if c := strings.Compare(a.SuggestedFix, b.SuggestedFix); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Category), string(b.Category)); c != 0 {
		return c
	}
	if c := compareBool(a.BlocksPublish, b.BlocksPublish); c != 0 {
		return c
	}
	return compareBool(a.NeedsReview, b.NeedsReview)
}

// compareBool orders true before false.
func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
