package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// Settings tunes the builtin matchers.
type Settings struct {
	MaxTitleRunes int
}

// DefaultSettings returns the builtin matcher defaults.
func DefaultSettings() Settings {
	return Settings{MaxTitleRunes: 64}
}

// Builtin returns a registry holding every builtin matcher, keyed by the
// rule IDs of the default catalog.
func Builtin(s Settings) *Registry {
	if s.MaxTitleRunes <= 0 {
		s.MaxTitleRunes = DefaultSettings().MaxTitleRunes
	}
	r := NewRegistry()
	r.MustRegister("A1-001", missingTitle)
	r.MustRegister("A1-002", titleTooLong(s.MaxTitleRunes))
	r.MustRegister("A2-001", keywordAbsent)
	r.MustRegister("A2-002", emptyBody)
	r.MustRegister("B1-001", halfWidthPunct(map[rune]rune{',': '，'}))
	r.MustRegister("B1-002", halfWidthPunct(map[rune]rune{
		'?': '？', '!': '！', ':': '：', ';': '；', '(': '（', ')': '）',
	}))
	r.MustRegister("B1-003", repeatedPunct)
	r.MustRegister("B2-001", wideAlnum)
	r.MustRegister("E1-001", imageWithoutAlt)
	r.MustRegister("F1-002", statisticWithoutSource)
	return r
}

func missingTitle(doc *textnorm.Document) ([]schema.Issue, error) {
	if strings.TrimSpace(doc.Title) != "" {
		return nil, nil
	}
	return []schema.Issue{{
		Location: &schema.Location{Section: schema.SectionTitle},
		Message:  "Article has no title.",
	}}, nil
}

func titleTooLong(max int) Matcher {
	return func(doc *textnorm.Document) ([]schema.Issue, error) {
		n := utf8.RuneCountInString(doc.Title)
		if n <= max {
			return nil, nil
		}
		p, ok := doc.Paragraph(schema.SectionTitle, 0)
		if !ok {
			return nil, nil
		}
		return []schema.Issue{{
			Location: p.Location(0, n),
			Message:  fmt.Sprintf("Title is %d characters long; the limit is %d.", n, max),
		}}, nil
	}
}

func keywordAbsent(doc *textnorm.Document) ([]schema.Issue, error) {
	var out []schema.Issue
	for _, kw := range doc.Keywords {
		needle := textnorm.Fold(kw)
		found := false
		for _, p := range doc.Paragraphs {
			if (p.Section == schema.SectionTitle || p.Section == schema.SectionBody) && strings.Contains(p.Folded, needle) {
				found = true
				break
			}
		}
		if !found {
			// Absence has no position in the text.
			out = append(out, schema.Issue{
				Message: fmt.Sprintf("Keyword %q does not appear in the title or body.", kw),
			})
		}
	}
	return out, nil
}

func emptyBody(doc *textnorm.Document) ([]schema.Issue, error) {
	for _, p := range doc.Section(schema.SectionBody) {
		if strings.TrimSpace(p.Text) != "" {
			return nil, nil
		}
	}
	return []schema.Issue{{
		Location: &schema.Location{Section: schema.SectionBody},
		Message:  "Article body is empty.",
	}}, nil
}

// halfWidthPunct flags ASCII punctuation adjacent to CJK text in a
// full-width locale. Punctuation between Latin words or digits is left
// alone ("1,000", "e.g. (see above)").
func halfWidthPunct(replacements map[rune]rune) Matcher {
	return func(doc *textnorm.Document) ([]schema.Issue, error) {
		if !doc.FullWidth {
			return nil, nil
		}
		var out []schema.Issue
		for _, p := range doc.Paragraphs {
			runes := []rune(p.Text)
			for i, r := range runes {
				full, ok := replacements[r]
				if !ok || !cjkNeighbor(runes, i) {
					continue
				}
				out = append(out, schema.Issue{
					Location:     p.Location(i, i+1),
					Message:      fmt.Sprintf("Half-width %q used in full-width text.", string(r)),
					SuggestedFix: fmt.Sprintf("Replace %q with %q.", string(r), string(full)),
				})
			}
		}
		return out, nil
	}
}

// cjkNeighbor reports whether the nearest non-space rune on either side of
// runes[i] is CJK.
func cjkNeighbor(runes []rune, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if unicode.IsSpace(runes[j]) {
			continue
		}
		if textnorm.IsCJK(runes[j]) {
			return true
		}
		break
	}
	for j := i + 1; j < len(runes); j++ {
		if unicode.IsSpace(runes[j]) {
			continue
		}
		return textnorm.IsCJK(runes[j])
	}
	return false
}

// repeatedPunctRe runs on folded text, where ！ and ？ are already ! and ?.
var repeatedPunctRe = regexp.MustCompile(`[!?]{2,}`)

func repeatedPunct(doc *textnorm.Document) ([]schema.Issue, error) {
	var out []schema.Issue
	for _, p := range doc.Paragraphs {
		for _, span := range repeatedPunctRe.FindAllStringIndex(p.Folded, -1) {
			start, end := runeSpan(p.Folded, span[0], span[1])
			loc := p.Location(start, end)
			out = append(out, schema.Issue{
				Location:     loc,
				Message:      fmt.Sprintf("Repeated punctuation %q.", loc.Quote),
				SuggestedFix: fmt.Sprintf("Use a single %q.", string([]rune(loc.Quote)[0])),
			})
		}
	}
	return out, nil
}

func wideAlnum(doc *textnorm.Document) ([]schema.Issue, error) {
	var out []schema.Issue
	for _, p := range doc.Paragraphs {
		runes := []rune(p.Text)
		for i := 0; i < len(runes); {
			if !isWideAlnum(runes[i]) {
				i++
				continue
			}
			j := i
			for j < len(runes) && isWideAlnum(runes[j]) {
				j++
			}
			loc := p.Location(i, j)
			out = append(out, schema.Issue{
				Location:     loc,
				Message:      fmt.Sprintf("Full-width letters or digits %q.", loc.Quote),
				SuggestedFix: fmt.Sprintf("Write %q.", width.Narrow.String(loc.Quote)),
			})
			i = j
		}
	}
	return out, nil
}

func isWideAlnum(r rune) bool {
	if !textnorm.IsWide(r) {
		return false
	}
	f := textnorm.FoldRune(r)
	return unicode.IsLetter(f) || unicode.IsDigit(f)
}

func imageWithoutAlt(doc *textnorm.Document) ([]schema.Issue, error) {
	var out []schema.Issue
	for i, img := range doc.Images {
		if strings.TrimSpace(img.Alt) != "" {
			continue
		}
		out = append(out, schema.Issue{
			Location: &schema.Location{Section: schema.SectionImages, Paragraph: i, Quote: img.URL},
			Message:  fmt.Sprintf("Image %d (%s) has no alt text.", i+1, img.URL),
		})
	}
	return out, nil
}

var (
	percentRe = regexp.MustCompile(`\d+(?:\.\d+)?\s?%`)
	// sourceMarkers are compared against folded text.
	sourceMarkers = []string{"来源", "出处", "据统计", "数据显示", "source:", "according to"}
)

func statisticWithoutSource(doc *textnorm.Document) ([]schema.Issue, error) {
	body := doc.Section(schema.SectionBody)
	for _, p := range body {
		for _, m := range sourceMarkers {
			if strings.Contains(p.Folded, m) {
				return nil, nil
			}
		}
	}
	var out []schema.Issue
	for _, p := range body {
		for _, span := range percentRe.FindAllStringIndex(p.Folded, -1) {
			start, end := runeSpan(p.Folded, span[0], span[1])
			loc := p.Location(start, end)
			out = append(out, schema.Issue{
				Location: loc,
				Message:  fmt.Sprintf("Statistic %q has no cited source.", loc.Quote),
			})
		}
	}
	return out, nil
}
