package rules

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// patternSections are the sections a declarative pattern is matched against.
var patternSections = map[string]bool{
	schema.SectionTitle:    true,
	schema.SectionSubtitle: true,
	schema.SectionDigest:   true,
	schema.SectionBody:     true,
}

// PatternMatcher compiles the rule's pattern into a matcher. The pattern is
// applied case-insensitively to the folded paragraph text, so full-width
// variants of a term match too; issues quote the original text.
func PatternMatcher(rule schema.RuleDefinition) (Matcher, error) {
	if rule.Pattern == "" {
		return nil, fmt.Errorf("rule %s has no pattern", rule.RuleID)
	}
	re, err := regexp.Compile("(?i)" + rule.Pattern)
	if err != nil {
		return nil, err
	}
	label := rule.Title
	if label == "" {
		label = rule.Description
	}
	return func(doc *textnorm.Document) ([]schema.Issue, error) {
		var out []schema.Issue
		for _, p := range doc.Paragraphs {
			if !patternSections[p.Section] {
				continue
			}
			for _, span := range re.FindAllStringIndex(p.Folded, -1) {
				if span[0] == span[1] {
					continue
				}
				start, end := runeSpan(p.Folded, span[0], span[1])
				loc := p.Location(start, end)
				out = append(out, schema.Issue{
					RuleID:   rule.RuleID,
					Location: loc,
					Message:  fmt.Sprintf("%s: %q", label, loc.Quote),
				})
			}
		}
		return out, nil
	}, nil
}

// runeSpan converts a byte span of s into a rune span.
func runeSpan(s string, lo, hi int) (int, int) {
	start := utf8.RuneCountInString(s[:lo])
	return start, start + utf8.RuneCountInString(s[lo:hi])
}
