// Package render produces output from a fully assembled schema.AnalysisResult.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/proofcheck/internal/coverage"
	"github.com/dshills/proofcheck/internal/schema"
)

// RenderJSON produces a pretty-printed JSON representation of the result.
// The output round-trips through json.Unmarshal back to an equal result.
func RenderJSON(result *schema.AnalysisResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("render: nil result")
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary of the result,
// suitable for an editor's review queue or terminal output. Every issue's
// rule ID appears in the output.
func RenderMarkdown(result *schema.AnalysisResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	meta := result.ProcessingMetadata

	sb.WriteString("## Proofreading Report\n\n")
	if meta.DocumentID != "" {
		fmt.Fprintf(&sb, "**Document:** %s  \n", mdEscape(meta.DocumentID))
	}
	fmt.Fprintf(&sb, "**Verdict:** %s  \n", result.ComplianceVerdict)
	st := result.Statistics
	fmt.Fprintf(&sb, "**Issues:** %d | **Blocking:** %d | **Needs review:** %d\n",
		st.TotalIssues, st.BlockingIssueCount, st.NeedsReviewCount)
	sb.WriteString("**Severity:**")
	for _, s := range schema.Severities {
		fmt.Fprintf(&sb, " %s %d", s, st.BySeverity[s])
	}
	sb.WriteString("  \n")
	sb.WriteString("**Category:**")
	for _, c := range schema.Categories {
		fmt.Fprintf(&sb, " %s %d", c, st.ByCategory[c])
	}
	sb.WriteString("  \n")
	b := result.SourceBreakdown
	fmt.Fprintf(&sb, "**Sources:** ai %d | script %d | merged %d\n\n", b.AI, b.Script, b.Merged)

	if meta.AIDegraded {
		fmt.Fprintf(&sb, "> **AI review unavailable** (%s). Only deterministic rules were checked; "+
			"a human reviewer should cover style and compliance judgment.\n\n", meta.AIDegradedReason)
	}

	if len(result.Issues) > 0 {
		sb.WriteString("## Issues\n\n")
		sb.WriteString("| Rule | Severity | Blocking | Source | Location | Quote | Message |\n")
		sb.WriteString("|---|---|---|---|---|---|---|\n")
		for _, is := range result.Issues {
			blocking := "no"
			if is.BlocksPublish {
				blocking = "yes"
			}
			source := string(is.Source)
			if is.NeedsReview {
				source += " (review)"
			}
			quote := ""
			if is.Location != nil && is.Location.Quote != "" {
				quote = "`" + mdEscape(is.Location.Quote) + "`"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s | %s |\n",
				is.RuleID, is.Severity, blocking, source, locationLabel(is.Location), quote, mdEscape(is.Message))
		}
		sb.WriteString("\n")

		var fixes []schema.Issue
		for _, is := range result.Issues {
			if is.SuggestedFix != "" {
				fixes = append(fixes, is)
			}
		}
		if len(fixes) > 0 {
			sb.WriteString("## Suggested Fixes\n\n")
			for _, is := range fixes {
				fmt.Fprintf(&sb, "- **%s** %s: %s\n", is.RuleID, locationLabel(is.Location), mdEscape(is.SuggestedFix))
			}
			sb.WriteString("\n")
		}
	}

	writeMetadata(&sb, meta)
	return sb.String()
}

func writeMetadata(sb *strings.Builder, meta schema.ProcessingMetadata) {
	sb.WriteString("<details>\n<summary>Processing</summary>\n\n")
	fmt.Fprintf(sb, "- run: `%s`\n", meta.RunID)
	fmt.Fprintf(sb, "- manifest: %s, engine: %s, profile: %s\n",
		meta.ManifestVersion, meta.ScriptEngineVersion, meta.Profile)
	fmt.Fprintf(sb, "- duration: %d ms, states: %s\n", meta.DurationMS, strings.Join(meta.States, " → "))
	if meta.Model != "" {
		fmt.Fprintf(sb, "- model: %s, tokens in/out: %d/%d", meta.Model, meta.InputTokens, meta.OutputTokens)
		if meta.EstimatedCostUSD > 0 {
			fmt.Fprintf(sb, ", est. cost: $%.4f", meta.EstimatedCostUSD)
		}
		sb.WriteString("\n")
	}
	if meta.DuplicatesCollapsed > 0 {
		fmt.Fprintf(sb, "- duplicates collapsed: %d\n", meta.DuplicatesCollapsed)
	}
	for _, f := range meta.MatcherFailures {
		fmt.Fprintf(sb, "- matcher failed: %s (%s)\n", f.RuleID, mdEscape(f.Reason))
	}
	if len(meta.UnknownRuleRefs) > 0 {
		fmt.Fprintf(sb, "- unknown rule references dropped: %s\n", strings.Join(meta.UnknownRuleRefs, ", "))
	}
	if rc := meta.AIRuleCoverage; rc != nil {
		fmt.Fprintf(sb, "- AI rule coverage: %.0f%% (%d considered)\n", coverage.Ratio(rc)*100, len(rc.Considered))
		if len(rc.Missing) > 0 {
			fmt.Fprintf(sb, "- rules the model did not report considering: %s\n", strings.Join(rc.Missing, ", "))
		}
	}
	sb.WriteString("\n</details>\n")
}

func locationLabel(l *schema.Location) string {
	if l == nil {
		return "-"
	}
	return fmt.Sprintf("%s:%d@%d", l.Section, l.Paragraph, l.Offset)
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
