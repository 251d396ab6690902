// Package llm handles communication with the model that judges the rule
// catalog, including the bounded repair loop for unparseable responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/proofcheck/internal/prompt"
)

// ErrInvalidModelOutput is returned when the initial response and every
// repair response fail to parse.
var ErrInvalidModelOutput = errors.New("llm: invalid model output after repair attempts")

// Completion is one model response with its usage accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (Completion, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures an Exchange.
type Options struct {
	MaxTokens      int
	Temperature    float64
	RepairAttempts int
}

// Transcript summarizes the calls made by one Exchange.
type Transcript struct {
	// Raw is the last response text received.
	Raw          string
	Model        string
	Calls        int
	Repaired     bool
	InputTokens  int64
	OutputTokens int64
}

// Exchange sends p to the provider and decodes the response with parse.
// parse returns the problems that make a response unusable; while problems
// remain and repair attempts are left, the model is re-asked with the
// invalid response and the problems attached. When every attempt fails the
// last decoded value is returned together with ErrInvalidModelOutput.
func Exchange[T any](
	ctx context.Context,
	provider Provider,
	p prompt.Prompt,
	opts Options,
	parse func(raw string) (T, []string),
) (T, Transcript, error) {
	var (
		tr  Transcript
		out T
	)
	user := p.User
	for attempt := 0; attempt <= max(opts.RepairAttempts, 0); attempt++ {
		if attempt > 0 {
			tr.Repaired = true
		}
		c, err := provider.Complete(ctx, p.System, user, opts.MaxTokens, opts.Temperature)
		tr.Calls++
		tr.InputTokens += c.InputTokens
		tr.OutputTokens += c.OutputTokens
		if c.Model != "" {
			tr.Model = c.Model
		}
		if err != nil {
			if attempt > 0 {
				return out, tr, fmt.Errorf("llm: repair complete: %w", err)
			}
			return out, tr, fmt.Errorf("llm: complete: %w", err)
		}
		tr.Raw = c.Text

		var problems []string
		out, problems = parse(c.Text)
		if len(problems) == 0 {
			return out, tr, nil
		}
		user = prompt.Repair(p, c.Text, problems)
	}
	return out, tr, ErrInvalidModelOutput
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
// anthropic.Client is a value type; the SDK's NewClient returns it by value.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (Completion, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	c := Completion{
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return c, fmt.Errorf("anthropic: response contained no text content blocks")
	}
	c.Text = strings.Join(parts, "")
	return c, nil
}
