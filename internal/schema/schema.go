// Package schema defines all canonical data types for proofcheck: rule
// definitions, the article payload, issues and the analysis result.
package schema

import "time"

// Verdict is the publish-gating verdict of an analysis run.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictBlocked Verdict = "blocked"
)

// Severity is the severity level of a rule or issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo}

// Rank orders severities; higher is more severe. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMinor:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Category is one of the closed set of rule categories A–F.
type Category string

const (
	CategoryA Category = "A"
	CategoryB Category = "B"
	CategoryC Category = "C"
	CategoryD Category = "D"
	CategoryE Category = "E"
	CategoryF Category = "F"
)

// Categories lists all categories in order.
var Categories = []Category{CategoryA, CategoryB, CategoryC, CategoryD, CategoryE, CategoryF}

// Valid reports whether c is in the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryA, CategoryB, CategoryC, CategoryD, CategoryE, CategoryF:
		return true
	}
	return false
}

// MatcherKind says which path is responsible for checking a rule.
type MatcherKind string

const (
	MatcherAIOnly MatcherKind = "ai_only"
	MatcherScript MatcherKind = "script"
	MatcherBoth   MatcherKind = "both"
)

// Valid reports whether k is a known matcher kind.
func (k MatcherKind) Valid() bool {
	switch k {
	case MatcherAIOnly, MatcherScript, MatcherBoth:
		return true
	}
	return false
}

// Scripted reports whether the deterministic engine must cover the rule.
func (k MatcherKind) Scripted() bool { return k == MatcherScript || k == MatcherBoth }

// AIJudged reports whether the rule is rendered for the model's holistic pass.
func (k MatcherKind) AIJudged() bool { return k == MatcherAIOnly || k == MatcherBoth }

// Source records which path produced an issue.
type Source string

const (
	SourceAI     Source = "ai"
	SourceScript Source = "script"
	SourceMerged Source = "merged"
)

// RuleDefinition is one immutable entry of the rule manifest.
type RuleDefinition struct {
	RuleID        string      `json:"rule_id" yaml:"rule_id"`
	Category      Category    `json:"category" yaml:"category"`
	Severity      Severity    `json:"severity" yaml:"severity"`
	BlocksPublish bool        `json:"blocks_publish" yaml:"blocks_publish"`
	MatcherKind   MatcherKind `json:"matcher_kind" yaml:"matcher_kind"`
	Title         string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description   string      `json:"description" yaml:"description"`
	Examples      []string    `json:"examples,omitempty" yaml:"examples,omitempty"`
	// Pattern, when set on a script or both rule, is compiled into a
	// declarative regex matcher.
	Pattern      string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty" yaml:"suggested_fix,omitempty"`
}

// ContentFormat is the markup of ArticlePayload.Body.
type ContentFormat string

const (
	FormatHTML     ContentFormat = "html"
	FormatMarkdown ContentFormat = "markdown"
	FormatText     ContentFormat = "text"
)

// Image is a structured image reference attached to the payload.
type Image struct {
	URL     string `json:"url" yaml:"url"`
	Alt     string `json:"alt,omitempty" yaml:"alt,omitempty"`
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"`
}

// Sections holds the optional structured parts of an article.
type Sections struct {
	Subtitle string   `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Digest   string   `json:"digest,omitempty" yaml:"digest,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Images   []Image  `json:"images,omitempty" yaml:"images,omitempty"`
}

// ArticlePayload is the unit of work handed to the engine. The assembling
// collaborator guarantees it is final for the duration of one analysis.
type ArticlePayload struct {
	DocumentID    string         `json:"document_id" yaml:"document_id"`
	Title         string         `json:"title" yaml:"title"`
	Body          string         `json:"body" yaml:"body"`
	ContentFormat ContentFormat  `json:"content_format,omitempty" yaml:"content_format,omitempty"`
	Sections      Sections       `json:"sections" yaml:"sections"`
	Locale        string         `json:"locale" yaml:"locale"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Section names used in issue locations.
const (
	SectionTitle    = "title"
	SectionSubtitle = "subtitle"
	SectionDigest   = "digest"
	SectionBody     = "body"
	SectionImages   = "images"
	SectionKeywords = "keywords"
)

// Location points at a problem inside the document. Offset is a rune offset
// into the paragraph's normalized text; Quote is the original substring.
type Location struct {
	Section   string `json:"section"`
	Paragraph int    `json:"paragraph"`
	Offset    int    `json:"offset"`
	Quote     string `json:"quote,omitempty"`
}

// Issue is one detected problem. Issues are never mutated after merge.
type Issue struct {
	RuleID        string    `json:"rule_id"`
	Category      Category  `json:"category"`
	Severity      Severity  `json:"severity"`
	BlocksPublish bool      `json:"blocks_publish"`
	Location      *Location `json:"location"`
	Message       string    `json:"message"`
	SuggestedFix  string    `json:"suggested_fix,omitempty"`
	Confidence    float64   `json:"confidence"`
	Source        Source    `json:"source"`
	// NeedsReview marks AI-only findings below the review confidence
	// threshold; a human must confirm them.
	NeedsReview bool `json:"needs_review,omitempty"`
}

// Statistics aggregates the merged issues.
type Statistics struct {
	TotalIssues        int              `json:"total_issues"`
	ByCategory         map[Category]int `json:"by_category"`
	BySeverity         map[Severity]int `json:"by_severity"`
	BlockingIssueCount int              `json:"blocking_issue_count"`
	NeedsReviewCount   int              `json:"needs_review_count"`
}

// SourceBreakdown counts merged issues by origin.
type SourceBreakdown struct {
	AI     int `json:"ai"`
	Script int `json:"script"`
	Merged int `json:"merged"`
}

// Total returns the number of issues accounted for.
func (b SourceBreakdown) Total() int { return b.AI + b.Script + b.Merged }

// Run states recorded in ProcessingMetadata.States.
const (
	StatePending       = "pending"
	StateAIInFlight    = "ai_in_flight"
	StateAIFailed      = "ai_failed"
	StateScriptRunning = "script_running"
	StateMerging       = "merging"
	StateDone          = "done"
)

// Reasons for a degraded run.
const (
	DegradedTimeout     = "ai_timeout"
	DegradedInvocation  = "ai_invocation_error"
	DegradedParseFailed = "ai_parse_failed"
	DegradedDisabled    = "ai_disabled"
)

// RuleCoverage is the comparison of the model's self-reported coverage with
// the rules it was asked to judge.
type RuleCoverage struct {
	Reported   bool     `json:"reported"`
	Considered []string `json:"considered,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Unknown    []string `json:"unknown,omitempty"`
}

// MatcherFailure records one matcher that failed during the script pass.
type MatcherFailure struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// ProcessingMetadata describes how a result was produced.
type ProcessingMetadata struct {
	RunID               string           `json:"run_id"`
	DocumentID          string           `json:"document_id"`
	ManifestVersion     string           `json:"manifest_version"`
	ScriptEngineVersion string           `json:"script_engine_version"`
	Profile             string           `json:"profile"`
	PromptFingerprint   string           `json:"prompt_fingerprint,omitempty"`
	StartedAt           time.Time        `json:"started_at"`
	DurationMS          int64            `json:"duration_ms"`
	States              []string         `json:"states"`
	AIDegraded          bool             `json:"ai_degraded"`
	AIDegradedReason    string           `json:"ai_degraded_reason,omitempty"`
	Model               string           `json:"model,omitempty"`
	InputTokens         int64            `json:"input_tokens,omitempty"`
	OutputTokens        int64            `json:"output_tokens,omitempty"`
	EstimatedCostUSD    float64          `json:"estimated_cost_usd,omitempty"`
	RepairAttempted     bool             `json:"repair_attempted,omitempty"`
	DuplicatesCollapsed int              `json:"duplicates_collapsed"`
	MatcherFailures     []MatcherFailure `json:"matcher_failures,omitempty"`
	UnknownRuleRefs     []string         `json:"unknown_rule_refs,omitempty"`
	DroppedAIIssues     int              `json:"dropped_ai_issues,omitempty"`
	AIRuleCoverage      *RuleCoverage    `json:"ai_rule_coverage,omitempty"`
}

// AnalysisResult is the engine's output for one invocation.
type AnalysisResult struct {
	Issues             []Issue            `json:"issues"`
	Statistics         Statistics         `json:"statistics"`
	SourceBreakdown    SourceBreakdown    `json:"source_breakdown"`
	ComplianceVerdict  Verdict            `json:"compliance_verdict"`
	ProcessingMetadata ProcessingMetadata `json:"processing_metadata"`
}
