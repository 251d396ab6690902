package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/dshills/proofcheck/internal/analysis"
	"github.com/dshills/proofcheck/internal/config"
	"github.com/dshills/proofcheck/internal/llm"
	"github.com/dshills/proofcheck/internal/logging"
	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/profile"
	"github.com/dshills/proofcheck/internal/render"
	"github.com/dshills/proofcheck/internal/rules"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/verdict"
)

// commonFlags select configuration shared by every subcommand.
type commonFlags struct {
	configFile      string
	manifestDir     string
	manifestVersion string
	profileName     string
}

func (c *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/proofcheck/config.yaml)")
	cmd.Flags().StringVar(&c.manifestDir, "manifest-dir", "", "directory of rule catalogs (default: embedded catalog)")
	cmd.Flags().StringVar(&c.manifestVersion, "manifest-version", "", "manifest version to load (default: newest)")
	cmd.Flags().StringVar(&c.profileName, "profile", "", "review profile: "+strings.Join(profile.Names(), ", "))
}

// loadConfig reads the config and applies flag overrides.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, &exitError{code: exitCodeBadInput, err: err}
	}
	if c.manifestDir != "" {
		cfg.Manifest.Dir = c.manifestDir
	}
	if c.manifestVersion != "" {
		cfg.Manifest.Version = c.manifestVersion
	}
	if c.profileName != "" {
		cfg.Profile = c.profileName
	}
	return cfg, nil
}

// analyzeFlags holds all flags for the analyze command.
type analyzeFlags struct {
	commonFlags
	payload  string
	provider string
	model    string
	format   string
	out      string
	timeout  time.Duration
	offline bool
	failOn  string
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <payload.{json,yaml}>",
		Short: "Proofread an article payload and report issues and a publish verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.payload = args[0]
			return runAnalyze(cmd.Context(), f)
		},
	}
	f.commonFlags.register(cmd)
	cmd.Flags().StringVar(&f.provider, "provider", "", "AI provider: anthropic, openai, google")
	cmd.Flags().StringVar(&f.model, "model", "", "model name (default from config)")
	cmd.Flags().StringVar(&f.format, "format", "json", "output format: json or md")
	cmd.Flags().StringVar(&f.out, "out", "", "write the report to this file instead of stdout")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "AI review timeout (default from config)")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "skip the AI review and report script findings only")
	cmd.Flags().StringVar(&f.failOn, "fail-on", "", "exit 2 when the verdict is at least: pass, warning, blocked")
	return cmd
}

func runAnalyze(ctx context.Context, f analyzeFlags) error {
	if f.format != "json" && f.format != "md" {
		return badInput("--format must be json or md, got %q", f.format)
	}
	if f.failOn != "" && verdict.Ordinal(schema.Verdict(f.failOn)) < 0 {
		return badInput("--fail-on must be pass, warning or blocked, got %q", f.failOn)
	}
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	if f.provider != "" {
		cfg.Provider = f.provider
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	timeout := cfg.AITimeoutDuration()
	if f.timeout > 0 {
		timeout = f.timeout
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return badInput("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	payload, err := loadPayload(f.payload)
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		return badInput("%v", err)
	}

	var provider llm.Provider
	if !f.offline {
		provider, err = llm.NewProvider(cfg.Provider, cfg.Model)
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
		provider = llm.RateLimited(provider, newLimiter(cfg.RateLimit))
	}

	a, err := analysis.New(analysis.Options{
		Manifest:        m,
		Registry:        rules.Builtin(rules.Settings{MaxTitleRunes: cfg.Rules.MaxTitleRunes}),
		Provider:        provider,
		Profile:         prof,
		Model:           cfg.Model,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		RepairAttempts:  cfg.RepairAttempts,
		Timeout:         timeout,
		ReviewThreshold: cfg.ReviewConfidenceThreshold,
		Pricing:         cfg.Pricing,
		DefaultLocale:   cfg.DefaultLocale,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	result := a.Analyze(ctx, payload)

	var out []byte
	switch f.format {
	case "md":
		out = []byte(render.RenderMarkdown(result))
	default:
		if out, err = render.RenderJSON(result); err != nil {
			return err
		}
		out = append(out, '\n')
	}
	if err := writeOutput(f.out, out); err != nil {
		return err
	}

	logger.Debug("report written",
		zap.String("format", f.format),
		zap.String("verdict", string(result.ComplianceVerdict)))
	if f.failOn != "" && verdict.Ordinal(result.ComplianceVerdict) >= verdict.Ordinal(schema.Verdict(f.failOn)) {
		return &exitError{code: exitCodeFailOn}
	}
	return nil
}

// newLimiter returns nil, meaning unlimited, when no rate is configured.
func newLimiter(rl config.RateLimitConfig) *rate.Limiter {
	if rl.RPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rl.RPS), max(rl.Burst, 1))
}

type promptFlags struct {
	commonFlags
	payload string
	out     string
}

func newPromptCmd() *cobra.Command {
	var f promptFlags
	cmd := &cobra.Command{
		Use:   "prompt <payload.{json,yaml}>",
		Short: "Print the AI prompt that analyze would send for a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.payload = args[0]
			return runPrompt(f)
		},
	}
	f.commonFlags.register(cmd)
	cmd.Flags().StringVar(&f.out, "out", "", "write the prompt to this file instead of stdout")
	return cmd
}

func runPrompt(f promptFlags) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	payload, err := loadPayload(f.payload)
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		return badInput("%v", err)
	}
	a, err := analysis.New(analysis.Options{
		Manifest:      m,
		Registry:      rules.Builtin(rules.Settings{MaxTitleRunes: cfg.Rules.MaxTitleRunes}),
		Profile:       prof,
		DefaultLocale: cfg.DefaultLocale,
	})
	if err != nil {
		return err
	}
	p := a.Prompt(payload)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# fingerprint: %s\n# manifest: %s  profile: %s  rules: %d\n\n", p.Fingerprint, p.ManifestVersion, p.Profile, len(p.RuleIDs))
	fmt.Fprintf(&buf, "=== SYSTEM ===\n%s\n\n=== USER ===\n%s\n", p.System, p.User)
	return writeOutput(f.out, buf.Bytes())
}

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect the rule manifest",
	}
	var f commonFlags
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the manifest and bind every script rule to a matcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestValidate(cmd.OutOrStdout(), f)
		},
	}
	f.register(validate)
	cmd.AddCommand(validate)
	return cmd
}

func runManifestValidate(w io.Writer, f commonFlags) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine(m, rules.Builtin(rules.Settings{MaxTitleRunes: cfg.Rules.MaxTitleRunes}))
	if err != nil {
		return err
	}
	aiJudged := m.Filter(func(r schema.RuleDefinition) bool { return r.MatcherKind.AIJudged() })
	fmt.Fprintf(w, "manifest %s (%s): %d rules, %d script matchers bound, %d AI-judged\n",
		m.Version(), m.TargetLocale(), m.Len(), len(engine.RuleIDs()), len(aiJudged))
	return nil
}

func loadManifest(mc config.ManifestConfig) (*manifest.Manifest, error) {
	var (
		m   *manifest.Manifest
		err error
	)
	if mc.Dir == "" {
		m, err = manifest.Embedded(mc.Version)
	} else {
		m, err = manifest.Load(os.DirFS(mc.Dir), mc.Version)
	}
	if err != nil {
		return nil, &exitError{code: exitCodeBadInput, err: err}
	}
	return m, nil
}

// loadPayload decodes a JSON or YAML article payload, chosen by extension.
// Unknown fields are rejected.
func loadPayload(path string) (schema.ArticlePayload, error) {
	var p schema.ArticlePayload
	data, err := os.ReadFile(path)
	if err != nil {
		return p, badInput("read payload: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	}
	if err != nil {
		return p, badInput("parse payload %s: %v", path, err)
	}
	if strings.TrimSpace(p.DocumentID) == "" {
		return p, badInput("payload %s: document_id is required", path)
	}
	return p, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
