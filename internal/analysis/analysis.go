// Package analysis orchestrates one proofreading run: the AI review and the
// deterministic rule pass run concurrently, and their issues are merged into
// a single AnalysisResult. An Analyzer is built once at startup and shared;
// Analyze is safe for concurrent use on different documents.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/proofcheck/internal/aiparse"
	"github.com/dshills/proofcheck/internal/config"
	"github.com/dshills/proofcheck/internal/coverage"
	"github.com/dshills/proofcheck/internal/llm"
	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/merge"
	"github.com/dshills/proofcheck/internal/profile"
	"github.com/dshills/proofcheck/internal/prompt"
	"github.com/dshills/proofcheck/internal/rules"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// Diagnostic events.
const (
	EventAIDegraded        = "proofreading_ai_degraded"
	EventAnalysisCompleted = "proofreading_analysis_completed"
)

// DefaultTimeout bounds the AI path when Options.Timeout is unset.
const DefaultTimeout = 45 * time.Second

const instrumentationName = "github.com/dshills/proofcheck/internal/analysis"

var (
	// ErrAIInvocation wraps any failure to obtain a response from the model.
	ErrAIInvocation = errors.New("analysis: AI invocation failed")
	// ErrAITimeout reports that the AI path exceeded its time budget.
	ErrAITimeout = errors.New("analysis: AI call timed out")
)

// Options configures an Analyzer.
type Options struct {
	Manifest *manifest.Manifest
	// Registry holds the script matchers; nil uses rules.Builtin with
	// default settings. NewEngine seals it.
	Registry *rules.Registry
	// Provider is the AI oracle. Nil disables the AI path; every result is
	// then degraded with reason ai_disabled.
	Provider       llm.Provider
	Profile        profile.Profile
	Model          string
	MaxTokens      int
	Temperature    float64
	RepairAttempts int
	Timeout        time.Duration
	// ReviewThreshold applies when the profile sets none.
	ReviewThreshold float64
	Pricing         config.Pricing
	DefaultLocale   string

	Logger *zap.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Analyzer is the process-wide, read-only analysis state.
type Analyzer struct {
	manifest *manifest.Manifest
	engine   *rules.Engine
	parser   *aiparse.Parser
	provider llm.Provider
	profile  profile.Profile
	llmOpts  llm.Options
	model    string
	timeout  time.Duration
	review   float64
	pricing  config.Pricing
	locale   string

	logger   *zap.Logger
	tracer   trace.Tracer
	runs     metric.Int64Counter
	degraded metric.Int64Counter
	duration metric.Float64Histogram
}

// New binds matchers to the manifest and prepares the response parser.
// Any error is fatal for the process.
func New(opts Options) (*Analyzer, error) {
	if opts.Manifest == nil {
		return nil, errors.New("analysis: manifest is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = rules.Builtin(rules.DefaultSettings())
	}
	engine, err := rules.NewEngine(opts.Manifest, reg, rules.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	parser, err := aiparse.New(opts.Manifest)
	if err != nil {
		return nil, err
	}
	prof := opts.Profile
	if prof.Name == "" {
		if prof, err = profile.Load(""); err != nil {
			return nil, err
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	review := opts.ReviewThreshold
	if prof.ReviewThreshold > 0 {
		review = prof.ReviewThreshold
	}

	a := &Analyzer{
		manifest: opts.Manifest,
		engine:   engine,
		parser:   parser,
		provider: opts.Provider,
		profile:  prof,
		llmOpts: llm.Options{
			MaxTokens:      opts.MaxTokens,
			Temperature:    opts.Temperature,
			RepairAttempts: opts.RepairAttempts,
		},
		model:   opts.Model,
		timeout: timeout,
		review:  review,
		pricing: opts.Pricing,
		locale:  opts.DefaultLocale,
		logger:  logger,
		tracer:  opts.Tracer,
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(instrumentationName)
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if a.runs, err = meter.Int64Counter("proofcheck.analyses",
		metric.WithDescription("Completed analysis runs")); err != nil {
		return nil, fmt.Errorf("analysis: create counter: %w", err)
	}
	if a.degraded, err = meter.Int64Counter("proofcheck.analyses.degraded",
		metric.WithDescription("Analysis runs that fell back to script-only results")); err != nil {
		return nil, fmt.Errorf("analysis: create counter: %w", err)
	}
	if a.duration, err = meter.Float64Histogram("proofcheck.analysis.duration",
		metric.WithDescription("Analysis wall time"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("analysis: create histogram: %w", err)
	}
	return a, nil
}

// Prompt renders the prompt Analyze would send for payload.
func (a *Analyzer) Prompt(payload schema.ArticlePayload) prompt.Prompt {
	return prompt.Build(a.manifest, textnorm.New(payload, a.locale), a.profile)
}

// aiResult is what the AI path hands back to the merge step.
type aiResult struct {
	outcome aiparse.Outcome
	tr      llm.Transcript
	reason  string // degraded reason; empty on success
	err     error
}

// Analyze runs both paths and merges them. It never fails: any problem on
// the AI path yields a script-only result marked ai_degraded.
func (a *Analyzer) Analyze(ctx context.Context, payload schema.ArticlePayload) *schema.AnalysisResult {
	started := time.Now()
	runID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "proofcheck.analyze", trace.WithAttributes(
		attribute.String("proofcheck.run_id", runID),
		attribute.String("proofcheck.document_id", payload.DocumentID),
		attribute.String("proofcheck.profile", a.profile.Name),
	))
	defer span.End()

	log := a.logger.With(zap.String("run_id", runID), zap.String("document_id", payload.DocumentID))
	doc := textnorm.New(payload, a.locale)
	p := prompt.Build(a.manifest, doc, a.profile)

	states := []string{schema.StatePending}
	if a.provider != nil {
		states = append(states, schema.StateAIInFlight)
	} else {
		states = append(states, schema.StateAIFailed)
	}
	states = append(states, schema.StateScriptRunning)

	var (
		ai  aiResult
		rep rules.Report
	)
	// Neither goroutine returns an error; the group only joins them. The
	// script pass is not cancelled with the AI path.
	var g errgroup.Group
	g.Go(func() error {
		ai = a.callAI(ctx, p, doc)
		return nil
	})
	g.Go(func() error {
		rep = a.engine.Run(doc)
		return nil
	})
	_ = g.Wait()

	var aiIssues []schema.Issue
	if ai.reason == "" {
		aiIssues = ai.outcome.Issues
	} else {
		if a.provider != nil {
			states = append(states, schema.StateAIFailed)
		}
		log.Warn("AI review unavailable; returning script-only result",
			zap.String("event", EventAIDegraded),
			zap.String("reason", ai.reason),
			zap.Error(ai.err))
		span.AddEvent("ai_degraded", trace.WithAttributes(attribute.String("reason", ai.reason)))
	}

	states = append(states, schema.StateMerging)
	merged := merge.Merge(aiIssues, rep.Issues, merge.Options{ReviewThreshold: a.review})
	states = append(states, schema.StateDone)

	meta := schema.ProcessingMetadata{
		RunID:               runID,
		DocumentID:          payload.DocumentID,
		ManifestVersion:     a.manifest.Version(),
		ScriptEngineVersion: rules.EngineVersion,
		Profile:             a.profile.Name,
		PromptFingerprint:   p.Fingerprint,
		StartedAt:           started.UTC(),
		States:              states,
		AIDegraded:          ai.reason != "",
		AIDegradedReason:    ai.reason,
		Model:               ai.tr.Model,
		InputTokens:         ai.tr.InputTokens,
		OutputTokens:        ai.tr.OutputTokens,
		EstimatedCostUSD:    a.pricing.Estimate(ai.tr.InputTokens, ai.tr.OutputTokens),
		RepairAttempted:     ai.tr.Repaired,
		DuplicatesCollapsed: merged.DuplicatesCollapsed,
	}
	if meta.Model == "" && a.provider != nil {
		meta.Model = a.model
	}
	for _, f := range rep.Failures {
		meta.MatcherFailures = append(meta.MatcherFailures, schema.MatcherFailure{RuleID: f.RuleID, Reason: f.Err.Error()})
	}
	if ai.reason == "" {
		meta.UnknownRuleRefs = ai.outcome.UnknownIDs()
		meta.DroppedAIIssues = len(ai.outcome.Unknown) + len(ai.outcome.Invalid)
		meta.AIRuleCoverage = coverage.Summarize(p.RuleIDs, ai.outcome.Coverage, ai.outcome.CoverageReported)
	}
	meta.DurationMS = time.Since(started).Milliseconds()

	result := &schema.AnalysisResult{
		Issues:             merged.Issues,
		Statistics:         merged.Statistics,
		SourceBreakdown:    merged.SourceBreakdown,
		ComplianceVerdict:  merged.Verdict,
		ProcessingMetadata: meta,
	}
	a.record(ctx, span, result)
	log.Info("analysis completed",
		zap.String("event", EventAnalysisCompleted),
		zap.String("verdict", string(result.ComplianceVerdict)),
		zap.Int("issues", result.Statistics.TotalIssues),
		zap.Int("blocking", result.Statistics.BlockingIssueCount),
		zap.Bool("ai_degraded", meta.AIDegraded),
		zap.Int64("duration_ms", meta.DurationMS))
	return result
}

// callAI runs the AI path under the configured timeout. The result is
// taken as soon as the deadline passes even if the provider has not
// returned yet.
func (a *Analyzer) callAI(ctx context.Context, p prompt.Prompt, doc *textnorm.Document) aiResult {
	if a.provider == nil {
		return aiResult{reason: schema.DegradedDisabled, err: fmt.Errorf("%w: no provider configured", ErrAIInvocation)}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan aiResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- aiResult{reason: schema.DegradedInvocation, err: fmt.Errorf("%w: provider panic: %v", ErrAIInvocation, r)}
			}
		}()
		done <- a.exchange(ctx, p, doc)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return aiResult{reason: contextReason(ctx.Err()), err: contextError(ctx.Err())}
	}
}

func (a *Analyzer) exchange(ctx context.Context, p prompt.Prompt, doc *textnorm.Document) aiResult {
	outcome, tr, err := llm.Exchange(ctx, a.provider, p, a.llmOpts, func(raw string) (aiparse.Outcome, []string) {
		o := a.parser.Parse(raw, doc)
		return o, o.Problems()
	})
	res := aiResult{outcome: outcome, tr: tr}
	switch {
	case err == nil:
		outcome.Log(a.logger, zap.String("document_id", doc.DocumentID))
	case errors.Is(err, llm.ErrInvalidModelOutput):
		outcome.Log(a.logger, zap.String("document_id", doc.DocumentID))
		res.reason = schema.DegradedParseFailed
		res.err = outcome.Failure
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		res.reason = contextReason(err)
		res.err = contextError(err)
	default:
		res.reason = schema.DegradedInvocation
		res.err = fmt.Errorf("%w: %w", ErrAIInvocation, err)
	}
	return res
}

// contextReason maps an expired context to a degraded reason. Caller
// cancellation is reported as an invocation failure, a deadline as a
// timeout.
func contextReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.DegradedTimeout
	}
	return schema.DegradedInvocation
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrAITimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrAIInvocation, err)
}

func (a *Analyzer) record(ctx context.Context, span trace.Span, r *schema.AnalysisResult) {
	meta := r.ProcessingMetadata
	attrs := metric.WithAttributes(
		attribute.String("verdict", string(r.ComplianceVerdict)),
		attribute.String("profile", meta.Profile),
		attribute.Bool("ai_degraded", meta.AIDegraded),
	)
	a.runs.Add(ctx, 1, attrs)
	if meta.AIDegraded {
		a.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", meta.AIDegradedReason)))
	}
	a.duration.Record(ctx, float64(meta.DurationMS), attrs)
	span.SetAttributes(
		attribute.String("proofcheck.verdict", string(r.ComplianceVerdict)),
		attribute.Int("proofcheck.issues", r.Statistics.TotalIssues),
		attribute.Bool("proofcheck.ai_degraded", meta.AIDegraded),
	)
}
