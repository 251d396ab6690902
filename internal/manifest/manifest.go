// Package manifest loads the versioned rule catalog. A Manifest is immutable
// after Load and safe for concurrent readers; callers load it once at
// startup and share the pointer across analyses.
package manifest

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/dshills/proofcheck/internal/schema"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

var (
	// ErrNoCatalog is returned when the directory holds no catalog files.
	ErrNoCatalog = errors.New("no rule catalog found")
	// ErrVersionNotFound is returned when the requested version is absent.
	ErrVersionNotFound = errors.New("manifest version not found")
	// ErrDuplicateRuleID is returned when a catalog repeats a rule_id.
	ErrDuplicateRuleID = errors.New("duplicate rule_id")
	// ErrMalformed is returned for catalogs with invalid fields.
	ErrMalformed = errors.New("malformed catalog")
)

// LoadError is the startup-fatal error for an unusable rule catalog.
type LoadError struct {
	Path    string
	Version string
	Err     error
}

func (e *LoadError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("manifest: load %s: %v", e.Path, e.Err)
	case e.Version != "":
		return fmt.Sprintf("manifest: load version %s: %v", e.Version, e.Err)
	default:
		return fmt.Sprintf("manifest: load: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// catalogFile is the on-disk YAML layout of one manifest version.
type catalogFile struct {
	ManifestVersion string                     `yaml:"manifest_version"`
	TargetLocale    string                     `yaml:"target_locale"`
	Categories      map[schema.Category]string `yaml:"categories"`
	Rules           []schema.RuleDefinition    `yaml:"rules"`
}

// Manifest is one loaded, validated version of the rule catalog.
type Manifest struct {
	version    string
	locale     string
	categories map[schema.Category]string
	rules      []schema.RuleDefinition // sorted by RuleID
	index      map[string]int
}

var ruleIDRe = regexp.MustCompile(`^[A-F]\d+-\d{3}$`)

// Default loads the newest catalog embedded in the binary.
func Default() (*Manifest, error) { return Embedded("") }

// Embedded loads the given version of the embedded catalog; empty selects
// the newest.
func Embedded(version string) (*Manifest, error) {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return Load(sub, version)
}

// Load reads every *.yaml / *.yml catalog at the root of fsys and returns the
// requested version, or the highest semantic version when version is empty.
func Load(fsys fs.FS, version string) (*Manifest, error) {
	var names []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, &LoadError{Err: err}
		}
		names = append(names, matches...)
	}
	if len(names) == 0 {
		return nil, &LoadError{Err: ErrNoCatalog}
	}
	sort.Strings(names)

	type candidate struct {
		name string
		ver  *semver.Version
		file catalogFile
	}
	var candidates []candidate
	seen := map[string]string{}
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, &LoadError{Path: name, Err: err}
		}
		cf, err := decode(b)
		if err != nil {
			return nil, &LoadError{Path: name, Err: err}
		}
		v, err := semver.NewVersion(cf.ManifestVersion)
		if err != nil {
			return nil, &LoadError{Path: name, Err: fmt.Errorf("%w: manifest_version %q: %v", ErrMalformed, cf.ManifestVersion, err)}
		}
		if prev, dup := seen[v.String()]; dup {
			return nil, &LoadError{Path: name, Err: fmt.Errorf("%w: version %s already declared in %s", ErrMalformed, v, prev)}
		}
		seen[v.String()] = name
		candidates = append(candidates, candidate{name: name, ver: v, file: cf})
	}

	var chosen *candidate
	if version == "" {
		for i := range candidates {
			if chosen == nil || candidates[i].ver.GreaterThan(chosen.ver) {
				chosen = &candidates[i]
			}
		}
	} else {
		want, err := semver.NewVersion(version)
		if err != nil {
			return nil, &LoadError{Version: version, Err: fmt.Errorf("%w: %v", ErrVersionNotFound, err)}
		}
		for i := range candidates {
			if candidates[i].ver.Equal(want) {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return nil, &LoadError{Version: version, Err: ErrVersionNotFound}
		}
	}

	m, err := build(chosen.file)
	if err != nil {
		return nil, &LoadError{Path: chosen.name, Version: chosen.file.ManifestVersion, Err: err}
	}
	return m, nil
}

func decode(b []byte) (catalogFile, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return cf, fmt.Errorf("%w: empty document", ErrMalformed)
		}
		return cf, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cf, nil
}

// build validates a decoded catalog and produces the immutable Manifest.
func build(cf catalogFile) (*Manifest, error) {
	if len(cf.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrMalformed)
	}
	var errs []error
	index := make(map[string]int, len(cf.Rules))
	rules := make([]schema.RuleDefinition, 0, len(cf.Rules))
	for i, r := range cf.Rules {
		r.RuleID = strings.TrimSpace(r.RuleID)
		if _, dup := index[r.RuleID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRuleID, r.RuleID)
		}
		if msgs := validateRule(r); len(msgs) > 0 {
			for _, msg := range msgs {
				errs = append(errs, fmt.Errorf("rules[%d] %s: %s", i, r.RuleID, msg))
			}
			continue
		}
		r.Examples = slices.Clone(r.Examples)
		index[r.RuleID] = len(rules)
		rules = append(rules, r)
	}
	for c := range cf.Categories {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("categories: unknown category %q", c))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	for i, r := range rules {
		index[r.RuleID] = i
	}
	cats := make(map[schema.Category]string, len(cf.Categories))
	for k, v := range cf.Categories {
		cats[k] = v
	}
	return &Manifest{
		version:    cf.ManifestVersion,
		locale:     cf.TargetLocale,
		categories: cats,
		rules:      rules,
		index:      index,
	}, nil
}

// validateRule returns field-level error messages for a rule definition.
func validateRule(r schema.RuleDefinition) []string {
	var errs []string
	if !ruleIDRe.MatchString(r.RuleID) {
		errs = append(errs, fmt.Sprintf("rule_id %q does not match [A-F]N-NNN", r.RuleID))
	} else if schema.Category(r.RuleID[:1]) != r.Category {
		errs = append(errs, fmt.Sprintf("category %q does not match rule_id prefix", r.Category))
	}
	if !r.Category.Valid() {
		errs = append(errs, fmt.Sprintf("category %q is not one of A-F", r.Category))
	}
	if !r.Severity.Valid() {
		errs = append(errs, fmt.Sprintf("severity %q is not valid", r.Severity))
	}
	if !r.MatcherKind.Valid() {
		errs = append(errs, fmt.Sprintf("matcher_kind %q is not valid", r.MatcherKind))
	}
	if strings.TrimSpace(r.Description) == "" {
		errs = append(errs, "description is required")
	}
	if r.Pattern != "" {
		if r.MatcherKind == schema.MatcherAIOnly {
			errs = append(errs, "pattern is not allowed on ai_only rules")
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("pattern: %v", err))
		}
	}
	return errs
}

// Version returns the manifest_version used for the audit trail.
func (m *Manifest) Version() string { return m.version }

// TargetLocale returns the locale the rule corpus is written for.
func (m *Manifest) TargetLocale() string { return m.locale }

// CategoryName returns the display name of a category, or the letter itself.
func (m *Manifest) CategoryName(c schema.Category) string {
	if n, ok := m.categories[c]; ok && n != "" {
		return n
	}
	return string(c)
}

// Len returns the number of rules.
func (m *Manifest) Len() int { return len(m.rules) }

// Rule returns a copy of the rule with the given id.
func (m *Manifest) Rule(id string) (schema.RuleDefinition, bool) {
	i, ok := m.index[id]
	if !ok {
		return schema.RuleDefinition{}, false
	}
	r := m.rules[i]
	r.Examples = slices.Clone(r.Examples)
	return r, true
}

// Rules returns copies of all rules sorted by rule_id.
func (m *Manifest) Rules() []schema.RuleDefinition {
	return m.Filter(func(schema.RuleDefinition) bool { return true })
}

// Filter returns copies of the rules for which keep returns true, in
// rule_id order.
func (m *Manifest) Filter(keep func(schema.RuleDefinition) bool) []schema.RuleDefinition {
	var out []schema.RuleDefinition
	for _, r := range m.rules {
		if keep(r) {
			r.Examples = slices.Clone(r.Examples)
			out = append(out, r)
		}
	}
	return out
}
