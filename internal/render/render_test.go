package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/proofcheck/internal/schema"
)

func sampleResult() *schema.AnalysisResult {
	issues := []schema.Issue{
		{
			RuleID:        "A1-001",
			Category:      schema.CategoryA,
			Severity:      schema.SeverityCritical,
			BlocksPublish: true,
			Message:       "Article has no title",
			Confidence:    1,
			Source:        schema.SourceScript,
		},
		{
			RuleID:       "B1-001",
			Category:     schema.CategoryB,
			Severity:     schema.SeverityMinor,
			Location:     &schema.Location{Section: "body", Paragraph: 2, Offset: 6, Quote: ","},
			Message:      "Half-width comma in Chinese text",
			SuggestedFix: "，",
			Confidence:   1,
			Source:       schema.SourceMerged,
		},
		{
			RuleID:      "C1-001",
			Category:    schema.CategoryC,
			Severity:    schema.SeverityMinor,
			Location:    &schema.Location{Section: "body", Paragraph: 0},
			Message:     "Tone is too casual | informal",
			Confidence:  0.4,
			Source:      schema.SourceAI,
			NeedsReview: true,
		},
	}
	return &schema.AnalysisResult{
		Issues: issues,
		Statistics: schema.Statistics{
			TotalIssues:        3,
			ByCategory:         map[schema.Category]int{"A": 1, "B": 1, "C": 1, "D": 0, "E": 0, "F": 0},
			BySeverity:         map[schema.Severity]int{"critical": 1, "major": 0, "minor": 2, "info": 0},
			BlockingIssueCount: 1,
			NeedsReviewCount:   1,
		},
		SourceBreakdown:   schema.SourceBreakdown{AI: 1, Script: 1, Merged: 1},
		ComplianceVerdict: schema.VerdictBlocked,
		ProcessingMetadata: schema.ProcessingMetadata{
			RunID:               "run-1",
			DocumentID:          "doc-7",
			ManifestVersion:     "2.1.0",
			ScriptEngineVersion: "1.3.0",
			Profile:             "standard",
			StartedAt:           time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			DurationMS:          1234,
			States:              []string{"pending", "ai_in_flight", "script_running", "merging", "done"},
			Model:               "mock-model",
			InputTokens:         2000,
			OutputTokens:        300,
			EstimatedCostUSD:    0.0105,
			DuplicatesCollapsed: 1,
			UnknownRuleRefs:     []string{"X9-999"},
			AIRuleCoverage: &schema.RuleCoverage{
				Reported:   true,
				Considered: []string{"A1-003", "C1-001", "D2-001"},
				Missing:    []string{"F1-001"},
			},
		},
	}
}

func TestRenderJSON_RoundTrip(t *testing.T) {
	result := sampleResult()
	b, err := RenderJSON(result)
	if err != nil {
		t.Fatalf("RenderJSON error: %v", err)
	}
	var got schema.AnalysisResult
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if diff := cmp.Diff(*result, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderJSON_NullLocation(t *testing.T) {
	b, err := RenderJSON(sampleResult())
	if err != nil {
		t.Fatalf("RenderJSON error: %v", err)
	}
	if !strings.Contains(string(b), `"location": null`) {
		t.Error("an issue without a location should serialize location as null")
	}
}

func TestRenderMarkdown_ContainsAllRuleIDs(t *testing.T) {
	md := RenderMarkdown(sampleResult())
	for _, id := range []string{"A1-001", "B1-001", "C1-001"} {
		if !strings.Contains(md, id) {
			t.Errorf("markdown output missing rule %q", id)
		}
	}
}

func TestRenderMarkdown_Summary(t *testing.T) {
	md := RenderMarkdown(sampleResult())
	for _, want := range []string{
		"**Verdict:** blocked",
		"**Issues:** 3 | **Blocking:** 1 | **Needs review:** 1",
		"**Sources:** ai 1 | script 1 | merged 1",
		"body:2@6",
		"ai (review)",
		`Tone is too casual \| informal`,
		"## Suggested Fixes",
		"unknown rule references dropped: X9-999",
		"did not report considering: F1-001",
		"AI rule coverage: 75% (3 considered)",
		"est. cost: $0.0105",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(md, "AI review unavailable") {
		t.Error("non-degraded result should not show the degraded notice")
	}
}

func TestRenderMarkdown_Degraded(t *testing.T) {
	r := sampleResult()
	r.ProcessingMetadata.AIDegraded = true
	r.ProcessingMetadata.AIDegradedReason = schema.DegradedTimeout
	md := RenderMarkdown(r)
	if !strings.Contains(md, "AI review unavailable** (ai_timeout)") {
		t.Error("degraded result should explain the missing AI review")
	}
}

func TestRenderMarkdown_EmptyResult(t *testing.T) {
	r := &schema.AnalysisResult{ComplianceVerdict: schema.VerdictPass}
	md := RenderMarkdown(r)
	if !strings.Contains(md, "**Verdict:** pass") {
		t.Error("markdown missing pass verdict")
	}
	if strings.Contains(md, "## Issues") || strings.Contains(md, "## Suggested Fixes") {
		t.Error("markdown should not contain issue sections for an empty result")
	}
}

func TestRenderJSON_NilResult(t *testing.T) {
	if _, err := RenderJSON(nil); err == nil {
		t.Error("expected error for nil result, got nil")
	}
}

func TestRenderMarkdown_NilResult(t *testing.T) {
	if got := RenderMarkdown(nil); got != "" {
		t.Errorf("expected empty string for nil result, got %q", got)
	}
}

func TestMdEscape(t *testing.T) {
	cases := []struct{ in, want string }{
		{"no pipes", "no pipes"},
		{"a|b", `a\|b`},
		{"a|b|c", `a\|b\|c`},
		{"line\nbreak", "line break"},
		{"", ""},
	}
	for _, c := range cases {
		got := mdEscape(c.in)
		if got != c.want {
			t.Errorf("mdEscape(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
