package rules

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// EventMatcherFailed is the diagnostic event logged for a failing matcher.
const EventMatcherFailed = "proofreading_matcher_failed"

// UnregisteredMatcherError is the startup-fatal error for script or both
// rules that have no matcher. Blocking rules must never be silently
// uncovered.
type UnregisteredMatcherError struct {
	RuleIDs  []string
	Blocking []string // subset of RuleIDs with blocks_publish=true
}

func (e *UnregisteredMatcherError) Error() string {
	msg := fmt.Sprintf("rules: no matcher registered for %s", strings.Join(e.RuleIDs, ", "))
	if len(e.Blocking) > 0 {
		msg += fmt.Sprintf(" (blocking: %s)", strings.Join(e.Blocking, ", "))
	}
	return msg
}

// MatcherExecutionError records one matcher that returned an error or
// panicked. It never aborts the pass.
type MatcherExecutionError struct {
	RuleID string
	Err    error
}

func (e MatcherExecutionError) Error() string {
	return fmt.Sprintf("rules: matcher %s: %v", e.RuleID, e.Err)
}

func (e MatcherExecutionError) Unwrap() error { return e.Err }

// Report is the outcome of one deterministic pass.
type Report struct {
	Issues   []schema.Issue
	Failures []MatcherExecutionError
}

type binding struct {
	rule  schema.RuleDefinition
	match Matcher
}

// Engine runs the bound matchers. It holds no mutable state after
// construction and is safe for concurrent use.
type Engine struct {
	manifest *manifest.Manifest
	bound    []binding
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for matcher diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine binds every script/both rule of m to a matcher: a registered one
// when present, otherwise one compiled from the rule's pattern. Any such
// rule left without a matcher fails with *UnregisteredMatcherError. The
// registry is sealed on success.
func NewEngine(m *manifest.Manifest, reg *Registry, opts ...Option) (*Engine, error) {
	e := &Engine{manifest: m, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if reg == nil {
		reg = NewRegistry()
	}

	var missing, missingBlocking []string
	for _, rule := range m.Filter(func(r schema.RuleDefinition) bool { return r.MatcherKind.Scripted() }) {
		if fn, ok := reg.lookup(rule.RuleID); ok {
			if rule.Pattern != "" {
				e.logger.Debug("registered matcher shadows manifest pattern", zap.String("rule_id", rule.RuleID))
			}
			e.bound = append(e.bound, binding{rule: rule, match: fn})
			continue
		}
		if rule.Pattern != "" {
			fn, err := PatternMatcher(rule)
			if err != nil {
				return nil, fmt.Errorf("rules: compile pattern for %s: %w", rule.RuleID, err)
			}
			e.bound = append(e.bound, binding{rule: rule, match: fn})
			continue
		}
		missing = append(missing, rule.RuleID)
		if rule.BlocksPublish {
			missingBlocking = append(missingBlocking, rule.RuleID)
		}
	}
	if len(missing) > 0 {
		return nil, &UnregisteredMatcherError{RuleIDs: missing, Blocking: missingBlocking}
	}

	for _, id := range reg.IDs() {
		rule, ok := m.Rule(id)
		switch {
		case !ok:
			e.logger.Debug("matcher registered for rule absent from manifest", zap.String("rule_id", id))
		case !rule.MatcherKind.Scripted():
			e.logger.Debug("matcher registered for ai_only rule; ignored", zap.String("rule_id", id))
		}
	}
	reg.seal()
	return e, nil
}

// RuleIDs returns the rule IDs covered by the engine, sorted.
func (e *Engine) RuleIDs() []string {
	ids := make([]string, len(e.bound))
	for i, b := range e.bound {
		ids[i] = b.rule.RuleID
	}
	return ids
}

// Run executes every bound matcher against doc. Matchers are independent;
// the returned issues are in canonical order regardless of execution order.
func (e *Engine) Run(doc *textnorm.Document) Report {
	var rep Report
	for _, b := range e.bound {
		issues, err := call(b.match, doc)
		if err != nil {
			rep.Failures = append(rep.Failures, MatcherExecutionError{RuleID: b.rule.RuleID, Err: err})
			e.logger.Warn("matcher failed",
				zap.String("event", EventMatcherFailed),
				zap.String("rule_id", b.rule.RuleID),
				zap.String("document_id", doc.DocumentID),
				zap.Error(err))
			continue
		}
		for _, is := range issues {
			stamped, ok := e.stamp(b.rule, is)
			if !ok {
				rep.Failures = append(rep.Failures, MatcherExecutionError{
					RuleID: b.rule.RuleID,
					Err:    fmt.Errorf("issue references rule %q outside the script rule set", is.RuleID),
				})
				continue
			}
			rep.Issues = append(rep.Issues, stamped)
		}
	}
	slices.SortStableFunc(rep.Issues, schema.CompareIssues)
	return rep
}

// stamp fills manifest-owned fields. Category and blocks_publish always come
// from the manifest; severity defaults to the rule's severity.
func (e *Engine) stamp(bound schema.RuleDefinition, is schema.Issue) (schema.Issue, bool) {
	rule := bound
	if is.RuleID != "" && is.RuleID != bound.RuleID {
		r, ok := e.manifest.Rule(is.RuleID)
		if !ok || !r.MatcherKind.Scripted() {
			return schema.Issue{}, false
		}
		rule = r
	}
	is.RuleID = rule.RuleID
	is.Category = rule.Category
	is.BlocksPublish = rule.BlocksPublish
	if !is.Severity.Valid() {
		is.Severity = rule.Severity
	}
	if is.Message == "" {
		is.Message = rule.Description
	}
	if is.SuggestedFix == "" {
		is.SuggestedFix = rule.SuggestedFix
	}
	if is.Confidence <= 0 || is.Confidence > 1 {
		is.Confidence = 1
	}
	is.Source = schema.SourceScript
	is.NeedsReview = false
	return is, true
}

// call runs m, converting a panic into an error.
func call(m Matcher, doc *textnorm.Document) (issues []schema.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m(doc)
}
