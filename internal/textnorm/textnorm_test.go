package textnorm

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/proofcheck/internal/schema"
)

func TestFold_RuneAligned(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ＡＢＣ１２３", "abc123"},
		{"你好，世界！", "你好,世界!"},
		{"Hello World", "hello world"},
		{"", ""},
	}
	for _, c := range cases {
		got := Fold(c.in)
		if got != c.want {
			t.Errorf("Fold(%q) = %q, want %q", c.in, got, c.want)
		}
		if len([]rune(got)) != len([]rune(c.in)) {
			t.Errorf("Fold(%q) changed rune count: %d -> %d", c.in, len([]rune(c.in)), len([]rune(got)))
		}
	}
}

func TestFullWidthLocale(t *testing.T) {
	for locale, want := range map[string]bool{
		"zh-CN": true, "zh_TW": true, "ja-JP": true, "en-US": false, "ko-KR": false, "": false,
	} {
		if got := FullWidthLocale(locale); got != want {
			t.Errorf("FullWidthLocale(%q) = %v, want %v", locale, got, want)
		}
	}
}

func TestSniff(t *testing.T) {
	cases := []struct {
		body     string
		declared schema.ContentFormat
		want     schema.ContentFormat
	}{
		{"<p>hello</p>", "", schema.FormatHTML},
		{"# Title\n\ntext", "", schema.FormatMarkdown},
		{"plain text\n\nmore", "", schema.FormatText},
		{"<p>hello</p>", schema.FormatText, schema.FormatText},
		{"a < b and c > d", "", schema.FormatText},
	}
	for _, c := range cases {
		if got := Sniff(c.body, c.declared); got != c.want {
			t.Errorf("Sniff(%q, %q) = %q, want %q", c.body, c.declared, got, c.want)
		}
	}
}

func TestNew_HTML(t *testing.T) {
	p := schema.ArticlePayload{
		DocumentID: "doc-1",
		Title:      "标题",
		Body: `<h2>第一节</h2><p>第一段 &amp; 内容</p>
<div><p>第二段</p><img src="a.png" alt="图一"><img src="b.png"></div>
<script>var x = "ignored";</script><p>第三段<br>换行</p>`,
		Locale: "zh-CN",
	}
	d := New(p, "")
	if d.Format != schema.FormatHTML {
		t.Fatalf("format = %q, want html", d.Format)
	}
	if !d.FullWidth {
		t.Error("zh-CN should be a full-width locale")
	}

	var got []string
	for _, para := range d.Section(schema.SectionBody) {
		got = append(got, para.Text)
	}
	want := []string{"第一节", "第一段 & 内容", "第二段", "第三段\n换行"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("body paragraphs mismatch (-want +got):\n%s", diff)
	}
	if first, _ := d.Paragraph(schema.SectionBody, 0); !first.Heading {
		t.Error("h2 should produce a heading paragraph")
	}

	wantImages := []schema.Image{{URL: "a.png", Alt: "图一"}, {URL: "b.png"}}
	if diff := cmp.Diff(wantImages, d.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}

	title, ok := d.Paragraph(schema.SectionTitle, 0)
	if !ok || title.Text != "标题" {
		t.Errorf("title paragraph = %+v, %v", title, ok)
	}
}

func TestNew_HTMLKeepsIdeographicSpace(t *testing.T) {
	d := New(schema.ArticlePayload{
		DocumentID: "doc-2",
		Body:       "<p>\n    第一章\u3000\u3000开篇  \t 内容\n</p>",
	}, "zh-CN")
	para, ok := d.Paragraph(schema.SectionBody, 0)
	if !ok {
		t.Fatal("body paragraph missing")
	}
	if want := "第一章\u3000\u3000开篇 内容"; para.Text != want {
		t.Errorf("text = %q, want %q", para.Text, want)
	}
}

func TestNew_Markdown(t *testing.T) {
	body := "# 标题一\n\n第一段第一行\n第一段第二行\n\n- 列表项\n- 第二项\n\n```go\ncode := 1\n```\n\n---\n\n![示意图](img.png)\n最后一段"
	d := New(schema.ArticlePayload{Body: body}, "zh-CN")
	if d.Locale != "zh-CN" {
		t.Errorf("default locale not applied: %q", d.Locale)
	}
	var got []string
	for _, para := range d.Section(schema.SectionBody) {
		got = append(got, para.Text)
	}
	want := []string{"标题一", "第一段第一行\n第一段第二行", "列表项", "第二项", "最后一段"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markdown paragraphs mismatch (-want +got):\n%s", diff)
	}
	if len(d.Images) != 1 || d.Images[0].Alt != "示意图" {
		t.Errorf("images = %+v", d.Images)
	}
}

func TestDocument_Find(t *testing.T) {
	d := New(schema.ArticlePayload{
		Title: "Title",
		Body:  "first paragraph\n\n这是ＡＢＣ测试",
	}, "zh-CN")

	p, off, ok := d.Find("abc测试")
	if !ok {
		t.Fatal("expected folded quote to be found")
	}
	if p.Section != schema.SectionBody || p.Index != 1 || off != 2 {
		t.Errorf("Find = (%s:%d, %d), want (body:1, 2)", p.Section, p.Index, off)
	}
	if got := p.Slice(off, off+5); got != "ＡＢＣ测试" {
		t.Errorf("Slice = %q, want original full-width text", got)
	}
	if _, _, ok := d.Find("absent"); ok {
		t.Error("unexpected match")
	}
	if _, _, ok := d.Find("  "); ok {
		t.Error("blank quote must not match")
	}
}

func TestParagraph_Location(t *testing.T) {
	p := newParagraph(schema.SectionBody, 3, false, "天气很好,我们")
	loc := p.Location(4, 5)
	want := &schema.Location{Section: "body", Paragraph: 3, Offset: 4, Quote: ","}
	if diff := cmp.Diff(want, loc); diff != "" {
		t.Errorf("Location mismatch (-want +got):\n%s", diff)
	}
	if p.Slice(5, 100) != "我们" {
		t.Errorf("Slice past end = %q", p.Slice(5, 100))
	}
}
