// Package profile defines review profiles that modulate prompt construction.
// Each profile provides a SystemPromptAddendum appended to the system prompt
// and may narrow the rule categories rendered for the model.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/proofcheck/internal/schema"
)

// DefaultName is the profile used when none is configured.
const DefaultName = "standard"

// Profile describes a review strategy.
type Profile struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
	// Categories, when non-empty, limits the rules rendered into the prompt.
	// The deterministic pass is unaffected.
	Categories []schema.Category
	// ReviewThreshold overrides the confidence below which AI-only findings
	// require human review. Zero keeps the configured threshold.
	ReviewThreshold float64
}

// builtins is the registry of built-in profiles keyed by name.
var builtins = map[string]Profile{
	"standard": {
		Name:        "standard",
		Description: "Default profile; applies every rule category with equal weight.",
		SystemPromptAddendum: "Review the article as a professional copy editor. When a finding is " +
			"a matter of taste rather than a rule violation, lower its confidence instead of " +
			"inflating its severity.",
	},
	"strict-compliance": {
		Name:        "strict-compliance",
		Description: "Regulated content; prioritizes advertising-law and factual accuracy rules.",
		SystemPromptAddendum: "This article will be published by a regulated brand account. Treat any " +
			"superlative, efficacy or guarantee claim as a potential advertising-law violation and " +
			"report it. Report every figure that cannot be verified from the article itself.",
		ReviewThreshold: 0.85,
	},
	"marketing": {
		Name:        "marketing",
		Description: "Promotional copy; focuses on compliance, claims and disclosure.",
		SystemPromptAddendum: "This is promotional copy. An energetic tone is acceptable; do not report " +
			"tone or readability issues unless they obscure meaning. Focus on claims, sponsorship " +
			"disclosure and title accuracy.",
		Categories: []schema.Category{schema.CategoryA, schema.CategoryD, schema.CategoryE, schema.CategoryF},
	},
	"news": {
		Name:        "news",
		Description: "News reporting; focuses on facts, sourcing and neutral wording.",
		SystemPromptAddendum: "This is a news article. Wording must be neutral. Every statistic, quote " +
			"and date must be internally consistent; report inconsistencies as factual issues.",
		Categories: []schema.Category{schema.CategoryA, schema.CategoryC, schema.CategoryF},
	},
}

// Names returns the built-in profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load returns the named built-in profile or an error if the name is unknown.
// An empty name selects the default profile.
func Load(name string) (Profile, error) {
	if name == "" {
		name = DefaultName
	}
	p, ok := builtins[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Includes reports whether the profile renders rules of category c.
func (p Profile) Includes(c schema.Category) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, pc := range p.Categories {
		if pc == c {
			return true
		}
	}
	return false
}
