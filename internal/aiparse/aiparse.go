// Package aiparse decodes the model's response into source=ai issues. The
// response is untrusted text: it is extracted heuristically, validated
// against a JSON Schema, and every issue is re-typed from the manifest.
package aiparse

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// Diagnostic events.
const (
	EventParseFailed  = "proofreading_ai_issue_parse_failed"
	EventUnknownRule  = "proofreading_unknown_rule_reference"
	EventIssueInvalid = "proofreading_ai_issue_invalid"
)

// DefaultConfidence is used when the model omits confidence.
const DefaultConfidence = 0.5

// Parse failure stages.
const (
	StageJSON   = "json_parse"
	StageSchema = "schema"
)

//go:embed response.schema.json
var responseSchema string

const schemaURL = "https://proofcheck.local/ai-response.schema.json"

// ParseError is a hard failure: the response carried no usable payload.
type ParseError struct {
	Stage    string
	Problems []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("aiparse: %s: %s", e.Stage, strings.Join(e.Problems, "; "))
}

// UnknownRuleReference is an issue dropped because its rule_id is not in
// the manifest.
type UnknownRuleReference struct {
	Index  int
	RuleID string
}

// InvalidIssue is an issue dropped because it failed schema validation.
type InvalidIssue struct {
	Index  int
	Reason string
}

// Outcome is the decoded response: either Issues (possibly empty) with the
// model's coverage list, or a Failure. Unknown and Invalid list the issues
// dropped on the way.
type Outcome struct {
	Issues           []schema.Issue
	Coverage         []string
	CoverageReported bool
	Unknown          []UnknownRuleReference
	Invalid          []InvalidIssue
	Failure          *ParseError
}

// Failed reports whether the response could not be decoded at all.
func (o Outcome) Failed() bool { return o.Failure != nil }

// Problems returns the reasons a repair attempt should address.
func (o Outcome) Problems() []string {
	if o.Failure == nil {
		return nil
	}
	return o.Failure.Problems
}

// UnknownIDs returns the distinct unknown rule IDs, sorted.
func (o Outcome) UnknownIDs() []string {
	var ids []string
	for _, u := range o.Unknown {
		if !slices.Contains(ids, u.RuleID) {
			ids = append(ids, u.RuleID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Log emits the outcome's diagnostic events.
func (o Outcome) Log(l *zap.Logger, fields ...zap.Field) {
	if o.Failure != nil {
		l.Warn("AI response could not be parsed", slices.Concat(fields, []zap.Field{
			zap.String("event", EventParseFailed),
			zap.String("stage", o.Failure.Stage),
			zap.Strings("problems", o.Failure.Problems),
		})...)
	}
	for _, u := range o.Unknown {
		l.Warn("AI issue references unknown rule", slices.Concat(fields, []zap.Field{
			zap.String("event", EventUnknownRule),
			zap.String("rule_id", u.RuleID),
			zap.Int("index", u.Index),
		})...)
	}
	for _, inv := range o.Invalid {
		l.Warn("AI issue failed validation", slices.Concat(fields, []zap.Field{
			zap.String("event", EventIssueInvalid),
			zap.Int("index", inv.Index),
			zap.String("reason", inv.Reason),
		})...)
	}
}

// Parser decodes responses against one manifest. It is immutable and safe
// for concurrent use.
type Parser struct {
	manifest *manifest.Manifest
	envelope *jsonschema.Schema
	issue    *jsonschema.Schema
}

// New compiles the response schema.
func New(m *manifest.Manifest) (*Parser, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("aiparse: schema load: %w", err)
	}
	env, err := c.Compile(schemaURL + "#/$defs/envelope")
	if err != nil {
		return nil, fmt.Errorf("aiparse: schema compile: %w", err)
	}
	is, err := c.Compile(schemaURL + "#/$defs/issue")
	if err != nil {
		return nil, fmt.Errorf("aiparse: schema compile: %w", err)
	}
	return &Parser{manifest: m, envelope: env, issue: is}, nil
}

type wireLocation struct {
	Section   string `json:"section"`
	Paragraph *int   `json:"paragraph"`
	Offset    *int   `json:"offset"`
	Quote     string `json:"quote"`
}

type wireIssue struct {
	RuleID       string        `json:"rule_id"`
	Severity     string        `json:"severity"`
	Location     *wireLocation `json:"location"`
	Message      string        `json:"message"`
	SuggestedFix *string       `json:"suggested_fix"`
	Confidence   *float64      `json:"confidence"`
}

// Parse decodes raw. Category and blocks_publish always come from the
// manifest; the model's values for them are ignored.
func (p *Parser) Parse(raw string, doc *textnorm.Document) Outcome {
	v, err := decode(raw)
	if err != nil {
		return Outcome{Failure: &ParseError{Stage: StageJSON, Problems: []string{StageJSON + ": " + err.Error()}}}
	}
	if arr, ok := v.([]any); ok {
		v = map[string]any{"issues": arr}
	}
	if err := p.envelope.Validate(v); err != nil {
		return Outcome{Failure: &ParseError{Stage: StageSchema, Problems: []string{StageSchema + ": " + flatten(err)}}}
	}
	env := v.(map[string]any)

	var out Outcome
	if cov, ok := env["rule_coverage"].([]any); ok {
		out.CoverageReported = true
		for _, c := range cov {
			id := normalizeID(c.(string))
			if id != "" && !slices.Contains(out.Coverage, id) {
				out.Coverage = append(out.Coverage, id)
			}
		}
		slices.Sort(out.Coverage)
	}

	for i, item := range env["issues"].([]any) {
		if err := p.issue.Validate(item); err != nil {
			out.Invalid = append(out.Invalid, InvalidIssue{Index: i, Reason: flatten(err)})
			continue
		}
		var w wireIssue
		if err := remarshal(item, &w); err != nil {
			out.Invalid = append(out.Invalid, InvalidIssue{Index: i, Reason: err.Error()})
			continue
		}
		id := normalizeID(w.RuleID)
		rule, ok := p.manifest.Rule(id)
		if !ok {
			out.Unknown = append(out.Unknown, UnknownRuleReference{Index: i, RuleID: id})
			continue
		}
		out.Issues = append(out.Issues, build(rule, w, doc))
	}
	slices.SortFunc(out.Issues, schema.CompareIssues)
	return out
}

func build(rule schema.RuleDefinition, w wireIssue, doc *textnorm.Document) schema.Issue {
	sev := schema.Severity(strings.ToLower(strings.TrimSpace(w.Severity)))
	if !sev.Valid() {
		sev = rule.Severity
	}
	conf := DefaultConfidence
	if w.Confidence != nil {
		conf = min(max(*w.Confidence, 0), 1)
	}
	msg := strings.TrimSpace(w.Message)
	if msg == "" {
		msg = rule.Title
		if msg == "" {
			msg = rule.Description
		}
	}
	var fix string
	if w.SuggestedFix != nil {
		fix = strings.TrimSpace(*w.SuggestedFix)
	}
	return schema.Issue{
		RuleID:        rule.RuleID,
		Category:      rule.Category,
		Severity:      sev,
		BlocksPublish: rule.BlocksPublish,
		Location:      anchor(w.Location, doc),
		Message:       msg,
		SuggestedFix:  fix,
		Confidence:    conf,
		Source:        schema.SourceAI,
	}
}

// anchor resolves the model's location against the document. A quote found
// in the text is authoritative over the model's paragraph and offset. A
// location the document cannot confirm is dropped rather than guessed.
func anchor(w *wireLocation, doc *textnorm.Document) *schema.Location {
	if w == nil {
		return nil
	}
	section := strings.ToLower(strings.TrimSpace(w.Section))
	quote := strings.TrimSpace(w.Quote)

	if section == schema.SectionImages {
		if w.Paragraph != nil && *w.Paragraph >= 0 && *w.Paragraph < len(doc.Images) {
			return &schema.Location{Section: section, Paragraph: *w.Paragraph, Quote: quote}
		}
		return nil
	}

	paras := doc.Section(section)
	if len(paras) == 0 && textSection(section) {
		// An empty section is addressed as a whole, the way the matchers
		// report a missing title or body.
		if w.Paragraph == nil || *w.Paragraph == 0 {
			return &schema.Location{Section: section}
		}
		return nil
	}

	// Without a paragraph index only a single-paragraph section is
	// unambiguous.
	var (
		para  textnorm.Paragraph
		named bool
	)
	switch {
	case w.Paragraph != nil:
		para, named = doc.Paragraph(section, *w.Paragraph)
	case len(paras) == 1:
		para, named = paras[0], true
	}

	if named && quote != "" {
		if at := strings.Index(para.Folded, textnorm.Fold(quote)); at >= 0 {
			off := len([]rune(para.Folded[:at]))
			return para.Location(off, off+len([]rune(quote)))
		}
	}
	if quote != "" {
		if found, off, ok := doc.Find(quote); ok {
			return found.Location(off, off+len([]rune(quote)))
		}
	}
	if !named {
		return nil
	}
	off := 0
	if w.Offset != nil {
		off = min(max(*w.Offset, 0), para.RuneLen())
	}
	return &schema.Location{Section: para.Section, Paragraph: para.Index, Offset: off, Quote: quote}
}

// textSection reports whether section holds paragraphs of article text.
func textSection(section string) bool {
	switch section {
	case schema.SectionTitle, schema.SectionSubtitle, schema.SectionDigest, schema.SectionBody:
		return true
	}
	return false
}

func normalizeID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// decode extracts one JSON object or array from raw. It strips markdown
// fences, then tries the whole text, then the outermost bracketed span,
// each with and without escape repair.
func decode(raw string) (any, error) {
	s := stripMarkdownFences(raw)
	if s == "" {
		return nil, errors.New("empty response")
	}
	candidates := []string{s}
	if span := outermostSpan(s); span != "" && span != s {
		candidates = append(candidates, span)
	}
	var firstErr error
	for _, c := range candidates {
		for _, variant := range []string{c, fixInvalidJSONEscapes(c)} {
			v, err := decodeStrict(variant)
			if err == nil {
				switch v.(type) {
				case map[string]any, []any:
					return v, nil
				}
				err = errors.New("response is not a JSON object or array")
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return nil, firstErr
}

// decodeStrict decodes exactly one JSON value, keeping numbers exact for
// schema validation.
func decodeStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// outermostSpan returns the text from the first '{' or '[' to the matching
// last '}' or ']', or "" when there is none.
func outermostSpan(s string) string {
	obj, arr := strings.IndexByte(s, '{'), strings.IndexByte(s, '[')
	open, closer := obj, byte('}')
	if obj < 0 || (arr >= 0 && arr < obj) {
		open, closer = arr, ']'
	}
	if open < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, closer)
	if end <= open {
		return ""
	}
	return s[open : end+1]
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences. If only
// an opening fence is present (a truncated response), the opening line is
// stripped so that the JSON content can still be parsed.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). Models sometimes
// emit regex fragments like \d+ unescaped inside JSON strings.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// flatten reduces a validation error to one line.
func flatten(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		var leaves []string
		var walk func(e *jsonschema.ValidationError)
		walk = func(e *jsonschema.ValidationError) {
			if len(e.Causes) == 0 {
				leaves = append(leaves, fmt.Sprintf("%s: %s", displayPath(e.InstanceLocation), e.Message))
				return
			}
			for _, c := range e.Causes {
				walk(c)
			}
		}
		walk(ve)
		return strings.Join(leaves, "; ")
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
