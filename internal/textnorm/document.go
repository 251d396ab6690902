// Package textnorm turns an ArticlePayload into an addressable Document:
// sections split into paragraphs, each paragraph available both as original
// (NFC) text and as a rune-aligned folded form for matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/dshills/proofcheck/internal/schema"
)

// Paragraph is one addressable block of text.
type Paragraph struct {
	Section string
	Index   int // position within Section
	Heading bool
	Text    string // NFC-normalized original text
	Folded  string // Fold(Text); rune-aligned with Text
}

// Slice returns the original runes [start, end) of the paragraph.
func (p Paragraph) Slice(start, end int) string {
	runes := []rune(p.Text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// Location builds an issue location for runes [start, end) of p.
func (p Paragraph) Location(start, end int) *schema.Location {
	return &schema.Location{
		Section:   p.Section,
		Paragraph: p.Index,
		Offset:    start,
		Quote:     p.Slice(start, end),
	}
}

// RuneLen returns the paragraph length in runes.
func (p Paragraph) RuneLen() int { return utf8.RuneCountInString(p.Text) }

// Document is the normalized, read-only view of one payload.
type Document struct {
	DocumentID string
	Title      string
	Locale     string
	FullWidth  bool
	Format     schema.ContentFormat
	Keywords   []string
	Images     []schema.Image
	Metadata   map[string]any
	Paragraphs []Paragraph
}

// New normalizes p. When p.Locale is empty, defaultLocale is used.
func New(p schema.ArticlePayload, defaultLocale string) *Document {
	locale := strings.TrimSpace(p.Locale)
	if locale == "" {
		locale = defaultLocale
	}
	d := &Document{
		DocumentID: p.DocumentID,
		Title:      norm.NFC.String(strings.TrimSpace(p.Title)),
		Locale:     locale,
		FullWidth:  FullWidthLocale(locale),
		Format:     Sniff(p.Body, p.ContentFormat),
		Metadata:   p.Metadata,
	}
	for _, k := range p.Sections.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			d.Keywords = append(d.Keywords, norm.NFC.String(k))
		}
	}
	d.Images = append(d.Images, p.Sections.Images...)

	d.addSingle(schema.SectionTitle, d.Title)
	d.addSingle(schema.SectionSubtitle, p.Sections.Subtitle)
	d.addSingle(schema.SectionDigest, p.Sections.Digest)

	var blocks []block
	switch d.Format {
	case schema.FormatHTML:
		var imgs []schema.Image
		blocks, imgs = segmentHTML(p.Body)
		d.Images = append(d.Images, imgs...)
	case schema.FormatMarkdown:
		var imgs []schema.Image
		blocks, imgs = segmentMarkdown(p.Body)
		d.Images = append(d.Images, imgs...)
	default:
		blocks = segmentText(p.Body)
	}
	for i, b := range blocks {
		d.Paragraphs = append(d.Paragraphs, newParagraph(schema.SectionBody, i, b.heading, b.text))
	}
	return d
}

func (d *Document) addSingle(section, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	d.Paragraphs = append(d.Paragraphs, newParagraph(section, 0, false, text))
}

func newParagraph(section string, index int, heading bool, text string) Paragraph {
	text = norm.NFC.String(text)
	return Paragraph{
		Section: section,
		Index:   index,
		Heading: heading,
		Text:    text,
		Folded:  Fold(text),
	}
}

// Section returns the paragraphs of one section in order.
func (d *Document) Section(name string) []Paragraph {
	var out []Paragraph
	for _, p := range d.Paragraphs {
		if p.Section == name {
			out = append(out, p)
		}
	}
	return out
}

// Paragraph looks up a paragraph by section and index.
func (d *Document) Paragraph(section string, index int) (Paragraph, bool) {
	for _, p := range d.Paragraphs {
		if p.Section == section && p.Index == index {
			return p, true
		}
	}
	return Paragraph{}, false
}

// Body returns the body text with paragraphs separated by blank lines.
func (d *Document) Body() string {
	var parts []string
	for _, p := range d.Section(schema.SectionBody) {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Find locates quote (compared in folded form) and returns the first
// paragraph containing it with the rune offset of the match.
func (d *Document) Find(quote string) (Paragraph, int, bool) {
	q := Fold(strings.TrimSpace(quote))
	if q == "" {
		return Paragraph{}, 0, false
	}
	for _, p := range d.Paragraphs {
		if i := strings.Index(p.Folded, q); i >= 0 {
			return p, utf8.RuneCountInString(p.Folded[:i]), true
		}
	}
	return Paragraph{}, 0, false
}

var htmlSniffRe = regexp.MustCompile(`(?i)<(p|div|br|h[1-6]|img|section|article|span|ul|ol|li)[\s/>]`)

// Sniff returns declared when set, otherwise guesses the body format.
func Sniff(body string, declared schema.ContentFormat) schema.ContentFormat {
	switch declared {
	case schema.FormatHTML, schema.FormatMarkdown, schema.FormatText:
		return declared
	}
	if htmlSniffRe.MatchString(body) {
		return schema.FormatHTML
	}
	for _, line := range strings.Split(body, "\n") {
		if isHeading(line) || fencePrefix(line) != "" || strings.HasPrefix(strings.TrimSpace(line), "![") {
			return schema.FormatMarkdown
		}
	}
	return schema.FormatText
}

// block is an intermediate paragraph produced by a segmenter.
type block struct {
	heading bool
	text    string
}

var blankLinesRe = regexp.MustCompile(`\n[ \t\r]*\n`)

func segmentText(body string) []block {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []block
	for _, part := range blankLinesRe.Split(body, -1) {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, block{text: t})
		}
	}
	return out
}
