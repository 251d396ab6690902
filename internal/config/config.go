// Package config loads proofcheck settings: embedded defaults, overlaid by
// an optional YAML file, overlaid by PROOFCHECK_* environment variables.
// API keys are never read from the file; providers take them from their
// own environment variables.
package config

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// ManifestConfig selects the rule catalog.
type ManifestConfig struct {
	// Dir holds *.yaml catalogs; empty uses the embedded catalog.
	Dir string `yaml:"dir"`
	// Version pins a manifest version; empty selects the highest.
	Version string `yaml:"version"`
}

// RateLimitConfig bounds calls to the model provider.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Pricing is the provider price in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// RulesConfig tunes builtin matchers.
type RulesConfig struct {
	MaxTitleRunes int `yaml:"max_title_runes"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Config is the complete runtime configuration.
type Config struct {
	Provider                  string          `yaml:"provider"`
	Model                     string          `yaml:"model"`
	MaxTokens                 int             `yaml:"max_tokens"`
	Temperature               float64         `yaml:"temperature"`
	AITimeout                 string          `yaml:"ai_timeout"`
	RepairAttempts            int             `yaml:"repair_attempts"`
	ReviewConfidenceThreshold float64         `yaml:"review_confidence_threshold"`
	Profile                   string          `yaml:"profile"`
	DefaultLocale             string          `yaml:"default_locale"`
	Manifest                  ManifestConfig  `yaml:"manifest"`
	RateLimit                 RateLimitConfig `yaml:"rate_limit"`
	Pricing                   Pricing         `yaml:"pricing"`
	Rules                     RulesConfig     `yaml:"rules"`
	Logging                   LoggingConfig   `yaml:"logging"`
}

// AITimeoutDuration parses AITimeout, defaulting to 45s.
func (c *Config) AITimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.AITimeout)
	if err != nil || d <= 0 {
		return 45 * time.Second
	}
	return d
}

// Estimate returns the USD cost of a call with the given token counts.
func (p Pricing) Estimate(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}

// DefaultConfigPath is $XDG_CONFIG_HOME/proofcheck/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "proofcheck", "config.yaml")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("config: reading embedded config: %w", err)
	}
	var cfg Config
	if err := decodeInto(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load returns the defaults overlaid by the file at path and then by the
// environment. An empty path reads DefaultConfigPath when it exists; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeInto(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No user config; defaults apply.
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto overlays YAML onto cfg. Unknown keys are rejected so that a
// misspelled setting is not silently ignored.
func decodeInto(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"PROOFCHECK_PROVIDER":         &cfg.Provider,
		"PROOFCHECK_MODEL":            &cfg.Model,
		"PROOFCHECK_AI_TIMEOUT":       &cfg.AITimeout,
		"PROOFCHECK_PROFILE":          &cfg.Profile,
		"PROOFCHECK_DEFAULT_LOCALE":   &cfg.DefaultLocale,
		"PROOFCHECK_MANIFEST_DIR":     &cfg.Manifest.Dir,
		"PROOFCHECK_MANIFEST_VERSION": &cfg.Manifest.Version,
		"PROOFCHECK_LOG_LEVEL":        &cfg.Logging.Level,
		"PROOFCHECK_LOG_FORMAT":       &cfg.Logging.Format,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("PROOFCHECK_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PROOFCHECK_MAX_TOKENS: %w", err)
		}
		cfg.MaxTokens = n
	}
	if v := getenv("PROOFCHECK_REPAIR_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PROOFCHECK_REPAIR_ATTEMPTS: %w", err)
		}
		cfg.RepairAttempts = n
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Provider {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("config: unknown provider %q (valid: anthropic, openai, google)", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("config: max_tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("config: temperature must be in [0, 2], got %v", cfg.Temperature)
	}
	if cfg.AITimeout != "" {
		if d, err := time.ParseDuration(cfg.AITimeout); err != nil || d <= 0 {
			return fmt.Errorf("config: invalid ai_timeout %q", cfg.AITimeout)
		}
	}
	if cfg.RepairAttempts < 0 || cfg.RepairAttempts > 3 {
		return fmt.Errorf("config: repair_attempts must be in [0, 3], got %d", cfg.RepairAttempts)
	}
	if cfg.ReviewConfidenceThreshold <= 0 || cfg.ReviewConfidenceThreshold > 1 {
		return fmt.Errorf("config: review_confidence_threshold must be in (0, 1], got %v", cfg.ReviewConfidenceThreshold)
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format must be json or console, got %q", cfg.Logging.Format)
	}
	return nil
}
