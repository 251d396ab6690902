package rules

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/proofcheck/internal/manifest"
	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

func defaultManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Default()
	if err != nil {
		t.Fatalf("manifest.Default: %v", err)
	}
	return m
}

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(defaultManifest(t), Builtin(DefaultSettings()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func doc(p schema.ArticlePayload) *textnorm.Document {
	if p.Locale == "" {
		p.Locale = "zh-CN"
	}
	return textnorm.New(p, "")
}

func byRule(issues []schema.Issue, id string) []schema.Issue {
	var out []schema.Issue
	for _, is := range issues {
		if is.RuleID == id {
			out = append(out, is)
		}
	}
	return out
}

func TestBuiltin_CoversDefaultCatalog(t *testing.T) {
	e := defaultEngine(t)
	m := defaultManifest(t)
	want := m.Filter(func(r schema.RuleDefinition) bool { return r.MatcherKind.Scripted() })
	if len(e.RuleIDs()) != len(want) {
		t.Errorf("engine covers %d rules, manifest has %d script/both rules", len(e.RuleIDs()), len(want))
	}
}

func TestHalfWidthComma(t *testing.T) {
	e := defaultEngine(t)
	rep := e.Run(doc(schema.ArticlePayload{
		Title: "周末出游",
		Body:  "今天天气很好,我们去公园。价格是1,000元。",
	}))
	got := byRule(rep.Issues, "B1-001")
	if len(got) != 1 {
		t.Fatalf("expected 1 B1-001 issue, got %d: %+v", len(got), got)
	}
	is := got[0]
	if is.Severity != schema.SeverityMinor || is.BlocksPublish {
		t.Errorf("B1-001 severity/blocking = %s/%v, want minor/false", is.Severity, is.BlocksPublish)
	}
	want := &schema.Location{Section: schema.SectionBody, Paragraph: 0, Offset: 6, Quote: ","}
	if diff := cmp.Diff(want, is.Location); diff != "" {
		t.Errorf("location mismatch (-want +got):\n%s", diff)
	}
	if is.Source != schema.SourceScript || is.Confidence != 1 {
		t.Errorf("source/confidence = %s/%v", is.Source, is.Confidence)
	}
}

func TestHalfWidthComma_NotInLatinLocale(t *testing.T) {
	e := defaultEngine(t)
	rep := e.Run(textnorm.New(schema.ArticlePayload{
		Title:  "Trip",
		Body:   "今天天气很好,我们去公园",
		Locale: "en-US",
	}, ""))
	if got := byRule(rep.Issues, "B1-001"); len(got) != 0 {
		t.Errorf("B1-001 must not fire outside full-width locales: %+v", got)
	}
}

func TestMissingTitleIsBlocking(t *testing.T) {
	e := defaultEngine(t)
	rep := e.Run(doc(schema.ArticlePayload{Body: "正文内容。"}))
	got := byRule(rep.Issues, "A1-001")
	if len(got) != 1 {
		t.Fatalf("expected A1-001, got %+v", rep.Issues)
	}
	if !got[0].BlocksPublish || got[0].Severity != schema.SeverityCritical {
		t.Errorf("A1-001 = %+v, want critical blocking", got[0])
	}
	if got[0].Location == nil || got[0].Location.Section != schema.SectionTitle {
		t.Errorf("A1-001 location = %+v", got[0].Location)
	}
}

func TestBuiltinMatchers(t *testing.T) {
	e := defaultEngine(t)
	cases := []struct {
		name    string
		payload schema.ArticlePayload
		rule    string
		count   int
		quote   string
	}{
		{
			name:    "title too long",
			payload: schema.ArticlePayload{Title: strings.Repeat("长", 70), Body: "正文"},
			rule:    "A1-002", count: 1,
		},
		{
			name: "keyword absent has no location",
			payload: schema.ArticlePayload{Title: "标题", Body: "正文",
				Sections: schema.Sections{Keywords: []string{"正文", "露营"}}},
			rule: "A2-001", count: 1,
		},
		{
			name:    "empty body",
			payload: schema.ArticlePayload{Title: "标题", Body: "  "},
			rule:    "A2-002", count: 1,
		},
		{
			name:    "half-width question mark",
			payload: schema.ArticlePayload{Title: "标题", Body: "你去哪里?"},
			rule:    "B1-002", count: 1, quote: "?",
		},
		{
			name:    "repeated punctuation",
			payload: schema.ArticlePayload{Title: "标题", Body: "太棒了！！！"},
			rule:    "B1-003", count: 1, quote: "！！！",
		},
		{
			name:    "full-width alphanumerics",
			payload: schema.ArticlePayload{Title: "标题", Body: "型号ＡＢ１２上市"},
			rule:    "B2-001", count: 1, quote: "ＡＢ１２",
		},
		{
			name: "image without alt",
			payload: schema.ArticlePayload{Title: "标题", Body: `<p>正文</p><img src="x.png">`,
				Sections: schema.Sections{Images: []schema.Image{{URL: "cover.png", Alt: "封面"}}}},
			rule: "E1-001", count: 1, quote: "x.png",
		},
		{
			name:    "statistic without source",
			payload: schema.ArticlePayload{Title: "标题", Body: "用户增长了35%，留存率为８０％"},
			rule:    "F1-002", count: 2, quote: "35%",
		},
		{
			name:    "statistic with source",
			payload: schema.ArticlePayload{Title: "标题", Body: "用户增长了35%。\n\n数据来源：年度报告"},
			rule:    "F1-002", count: 0,
		},
		{
			name:    "absolute claim pattern",
			payload: schema.ArticlePayload{Title: "标题", Body: "本店全网最低价，品质ＮＯ.1"},
			rule:    "D1-001", count: 2, quote: "最低价",
		},
		{
			name:    "placeholder pattern",
			payload: schema.ArticlePayload{Title: "标题", Body: "结论：待补充\n\nTODO: add chart"},
			rule:    "F2-001", count: 2, quote: "待补充",
		},
		{
			name:    "placeholder needs word boundary",
			payload: schema.ArticlePayload{Title: "标题", Body: "todos and mastodon"},
			rule:    "F2-001", count: 0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := byRule(e.Run(doc(c.payload)).Issues, c.rule)
			if len(got) != c.count {
				t.Fatalf("%s: got %d issues, want %d: %+v", c.rule, len(got), c.count, got)
			}
			if c.quote != "" && (got[0].Location == nil || got[0].Location.Quote != c.quote) {
				t.Errorf("%s: first quote = %+v, want %q", c.rule, got[0].Location, c.quote)
			}
			if c.rule == "A2-001" && got[0].Location != nil {
				t.Errorf("keyword absence must have a nil location, got %+v", got[0].Location)
			}
		})
	}
}

const blockingCatalog = `manifest_version: "1.0.0"
rules:
  - {rule_id: A1-001, category: A, severity: critical, blocks_publish: true, matcher_kind: both, description: Title required.}
  - {rule_id: B1-001, category: B, severity: minor, matcher_kind: script, description: Comma.}
  - {rule_id: C1-001, category: C, severity: minor, matcher_kind: ai_only, description: Tone.}
`

func TestNewEngine_UnregisteredMatcher(t *testing.T) {
	m, err := manifest.Load(fstest.MapFS{"test.yaml": {Data: []byte(blockingCatalog)}}, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reg := NewRegistry()
	reg.MustRegister("B1-001", func(*textnorm.Document) ([]schema.Issue, error) { return nil, nil })

	_, err = NewEngine(m, reg)
	var ue *UnregisteredMatcherError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnregisteredMatcherError, got %v", err)
	}
	if diff := cmp.Diff([]string{"A1-001"}, ue.Blocking); diff != "" {
		t.Errorf("blocking ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MatcherFailureIsLocal(t *testing.T) {
	m, err := manifest.Load(fstest.MapFS{"test.yaml": {Data: []byte(blockingCatalog)}}, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	reg := NewRegistry()
	reg.MustRegister("A1-001", func(*textnorm.Document) ([]schema.Issue, error) {
		panic("boom")
	})
	reg.MustRegister("B1-001", func(*textnorm.Document) ([]schema.Issue, error) {
		return []schema.Issue{{Message: "comma"}}, nil
	})
	e, err := NewEngine(m, reg, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rep := e.Run(doc(schema.ArticlePayload{DocumentID: "d1"}))
	if len(rep.Issues) != 1 || rep.Issues[0].RuleID != "B1-001" {
		t.Errorf("surviving matcher output = %+v", rep.Issues)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].RuleID != "A1-001" {
		t.Fatalf("failures = %+v", rep.Failures)
	}
	if !strings.Contains(rep.Failures[0].Error(), "boom") {
		t.Errorf("failure should carry the panic value: %v", rep.Failures[0])
	}
	entries := logs.FilterField(zap.String("event", EventMatcherFailed)).All()
	if len(entries) != 1 {
		t.Errorf("expected one %s log entry, got %d", EventMatcherFailed, len(entries))
	}
}

func TestRun_ForeignRuleIDIsRejected(t *testing.T) {
	m, _ := manifest.Load(fstest.MapFS{"test.yaml": {Data: []byte(blockingCatalog)}}, "")
	reg := NewRegistry()
	reg.MustRegister("A1-001", func(*textnorm.Document) ([]schema.Issue, error) {
		return []schema.Issue{{RuleID: "C1-001", Message: "not mine"}, {Message: "mine"}}, nil
	})
	reg.MustRegister("B1-001", func(*textnorm.Document) ([]schema.Issue, error) { return nil, nil })
	e, err := NewEngine(m, reg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rep := e.Run(doc(schema.ArticlePayload{}))
	if len(rep.Issues) != 1 || rep.Issues[0].Message != "mine" {
		t.Errorf("issues = %+v", rep.Issues)
	}
	if len(rep.Failures) != 1 {
		t.Errorf("failures = %+v", rep.Failures)
	}
}

func TestRun_OrderInsensitive(t *testing.T) {
	m := defaultManifest(t)
	forward := Builtin(DefaultSettings())

	reverse := NewRegistry()
	ids := forward.IDs()
	for i := len(ids) - 1; i >= 0; i-- {
		fn, _ := forward.lookup(ids[i])
		reverse.MustRegister(ids[i], fn)
	}

	e1, err := NewEngine(m, forward)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := NewEngine(m, reverse)
	if err != nil {
		t.Fatal(err)
	}
	d := doc(schema.ArticlePayload{
		Body: "天气很好,我们去公园!!全网最低价ＡＢ，增长30%",
		Sections: schema.Sections{
			Keywords: []string{"露营"},
			Images:   []schema.Image{{URL: "a.png"}},
		},
	})
	if diff := cmp.Diff(e1.Run(d), e2.Run(d)); diff != "" {
		t.Errorf("registration order changed output (-forward +reverse):\n%s", diff)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	noop := func(*textnorm.Document) ([]schema.Issue, error) { return nil, nil }
	if err := reg.Register("a1-001", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("A1-001", noop); err == nil {
		t.Error("expected duplicate registration error (ids are case-insensitive)")
	}
	if err := reg.Register("", noop); err == nil {
		t.Error("expected error for empty id")
	}
	reg.seal()
	if err := reg.Register("B1-001", noop); err == nil {
		t.Error("expected error registering into a sealed registry")
	}
}

func TestPatternMatcher_RequiresPattern(t *testing.T) {
	if _, err := PatternMatcher(schema.RuleDefinition{RuleID: "C1-002"}); err == nil {
		t.Error("expected error for rule without pattern")
	}
}
