// Package verdict provides deterministic local logic for issue statistics
// and the publish verdict. No LLM calls are made here.
package verdict

import (
	"github.com/dshills/proofcheck/internal/schema"
)

// Ordinal returns the numeric ordinal for a verdict, used to compare
// verdicts: pass=0, warning=1, blocked=2, and -1 for anything else.
func Ordinal(v schema.Verdict) int {
	switch v {
	case schema.VerdictPass:
		return 0
	case schema.VerdictWarning:
		return 1
	case schema.VerdictBlocked:
		return 2
	default:
		return -1
	}
}

// Determine applies the verdict rules to merged issues.
//
// Rules (in order of precedence):
//  1. Any issue with blocks_publish → blocked
//  2. Any critical, major or minor issue → warning
//  3. Otherwise (no issues, or info only) → pass
//
// Note on rule 2: a critical issue whose rule does not block publishing is a
// warning. Only the manifest's blocks_publish flag can block.
func Determine(issues []schema.Issue) schema.Verdict {
	warn := false
	for _, is := range issues {
		if is.BlocksPublish {
			return schema.VerdictBlocked
		}
		if is.Severity.Rank() > schema.SeverityInfo.Rank() {
			warn = true
		}
	}
	if warn {
		return schema.VerdictWarning
	}
	return schema.VerdictPass
}

// Tally aggregates issue counts. Every category and severity key is present
// so that consumers see explicit zeros.
func Tally(issues []schema.Issue) schema.Statistics {
	st := schema.Statistics{
		TotalIssues: len(issues),
		ByCategory:  make(map[schema.Category]int, len(schema.Categories)),
		BySeverity:  make(map[schema.Severity]int, len(schema.Severities)),
	}
	for _, c := range schema.Categories {
		st.ByCategory[c] = 0
	}
	for _, s := range schema.Severities {
		st.BySeverity[s] = 0
	}
	for _, is := range issues {
		st.ByCategory[is.Category]++
		st.BySeverity[is.Severity]++
		if is.BlocksPublish {
			st.BlockingIssueCount++
		}
		if is.NeedsReview {
			st.NeedsReviewCount++
		}
	}
	return st
}

// Breakdown counts issues by source.
func Breakdown(issues []schema.Issue) schema.SourceBreakdown {
	var b schema.SourceBreakdown
	for _, is := range issues {
		switch is.Source {
		case schema.SourceAI:
			b.AI++
		case schema.SourceScript:
			b.Script++
		case schema.SourceMerged:
			b.Merged++
		}
	}
	return b
}
