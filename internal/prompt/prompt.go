// Package prompt renders the single request sent to the language model: the
// rule catalog, the article and the output contract. Rendering is
// deterministic; identical inputs produce byte-identical prompts.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/profile"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// Prompt is a rendered request.
type Prompt struct {
	System          string
	User            string
	ManifestVersion string
	Profile         string
	// RuleIDs lists the rules rendered into the catalog, sorted.
	RuleIDs []string
	// Fingerprint is the hex SHA-256 of System and User; equal fingerprints
	// mean byte-identical prompts.
	Fingerprint string
}

// Build renders the prompt for doc against m under prof.
func Build(m *manifest.Manifest, doc *textnorm.Document, prof profile.Profile) Prompt {
	rules := m.Filter(func(r schema.RuleDefinition) bool {
		return r.MatcherKind.AIJudged() && prof.Includes(r.Category)
	})
	p := Prompt{
		System:          buildSystem(m, rules, prof),
		User:            buildUser(doc),
		ManifestVersion: m.Version(),
		Profile:         prof.Name,
	}
	for _, r := range rules {
		p.RuleIDs = append(p.RuleIDs, r.RuleID)
	}
	sum := sha256.Sum256([]byte(p.System + "\x00" + p.User))
	p.Fingerprint = hex.EncodeToString(sum[:])
	return p
}

func buildSystem(m *manifest.Manifest, rules []schema.RuleDefinition, prof profile.Profile) string {
	var sb strings.Builder

	sb.WriteString("You are a proofreading reviewer for articles about to be published.\n\n")

	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")

	sb.WriteString("Only report rule_id values that appear in the RULE CATALOG below. " +
		"Never invent rule IDs. If a problem fits no rule, do not report it.\n\n")

	sb.WriteString("Locate every issue with the paragraph labels shown in the ARTICLE: " +
		"[body:3] means section \"body\", paragraph 3. offset is the character position " +
		"inside that paragraph. quote must be copied exactly from the article.\n\n")

	sb.WriteString("confidence is your probability (0.0 to 1.0) that the issue is a real " +
		"violation of the cited rule. List in rule_coverage every rule_id you evaluated, " +
		"whether or not you found a violation.\n\n")

	if prof.SystemPromptAddendum != "" {
		sb.WriteString(prof.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "RULE CATALOG (manifest %s", m.Version())
	if loc := m.TargetLocale(); loc != "" {
		fmt.Fprintf(&sb, ", locale %s", loc)
	}
	sb.WriteString("):\n")
	var current schema.Category
	for _, r := range rules {
		if r.Category != current {
			current = r.Category
			fmt.Fprintf(&sb, "Category %s: %s\n", current, m.CategoryName(current))
		}
		flags := string(r.Severity)
		if r.BlocksPublish {
			flags += ", blocks publish"
		}
		title := r.Title
		if title == "" {
			title = r.RuleID
		}
		fmt.Fprintf(&sb, "  %s [%s] %s: %s\n", r.RuleID, flags, title, oneLine(r.Description))
		for _, ex := range r.Examples {
			fmt.Fprintf(&sb, "    example: %s\n", oneLine(ex))
		}
	}
	sb.WriteString("\n")

	sb.WriteString(outputSchema)
	return sb.String()
}

// outputSchema is the output contract shown to the model.
const outputSchema = `Output schema (JSON only):
{
  "issues": [
    {
      "rule_id": "A1-003",
      "severity": "critical|major|minor|info",
      "location": {"section": "title|subtitle|digest|body|images", "paragraph": 0, "offset": 0, "quote": "..."},
      "message": "what is wrong and why",
      "suggested_fix": "optional replacement text or instruction",
      "confidence": 0.9
    }
  ],
  "rule_coverage": ["A1-003"]
}
`

func buildUser(doc *textnorm.Document) string {
	var sb strings.Builder

	sb.WriteString("ARTICLE\n")
	fmt.Fprintf(&sb, "document_id: %s\n", doc.DocumentID)
	fmt.Fprintf(&sb, "locale: %s\n", doc.Locale)
	if len(doc.Keywords) > 0 {
		fmt.Fprintf(&sb, "keywords: %s\n", strings.Join(doc.Keywords, ", "))
	}
	if len(doc.Images) > 0 {
		sb.WriteString("images:\n")
		for i, img := range doc.Images {
			fmt.Fprintf(&sb, "  [%s:%d] %s", schema.SectionImages, i, img.URL)
			if img.Alt != "" {
				fmt.Fprintf(&sb, " alt=%q", img.Alt)
			}
			if img.Caption != "" {
				fmt.Fprintf(&sb, " caption=%q", img.Caption)
			}
			sb.WriteString("\n")
		}
	}
	if len(doc.Metadata) > 0 {
		fmt.Fprintf(&sb, "metadata: %s\n", canonicalJSON(doc.Metadata))
	}

	sb.WriteString("\n")
	if doc.Title == "" {
		sb.WriteString("(the article has no title)\n")
	}
	for _, p := range doc.Paragraphs {
		label := fmt.Sprintf("[%s:%d]", p.Section, p.Index)
		if p.Heading {
			label += " (heading)"
		}
		lines := strings.Split(p.Text, "\n")
		fmt.Fprintf(&sb, "%s %s\n", label, lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(&sb, "    %s\n", l)
		}
	}

	sb.WriteString("\nProduce the JSON report now.")
	return sb.String()
}

// canonicalJSON renders v as RFC 8785 canonical JSON so that map ordering
// and number formatting never change the prompt bytes.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "(unrenderable metadata)"
	}
	c, err := jcs.Transform(b)
	if err != nil {
		return string(b)
	}
	return string(c)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Repair builds the follow-up user message after an unparseable response.
// It repeats the original user prompt and the invalid response so the model
// has full context.
func Repair(original Prompt, previousResponse string, problems []string) string {
	var sb strings.Builder
	sb.WriteString(original.User)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, p := range problems {
		fmt.Fprintf(&sb, "  - %s\n", p)
	}
	sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}
