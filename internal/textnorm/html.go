package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/dshills/proofcheck/internal/schema"
)

// blockTags end the current paragraph when opened or closed.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"li": true, "blockquote": true, "pre": true, "tr": true,
	"figure": true, "figcaption": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var headingTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// skipTags have content that is never prose.
var skipTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// segmentHTML extracts block-level paragraphs and <img> references from an
// HTML fragment. Malformed markup is tolerated; the tokenizer never fails
// except at EOF.
func segmentHTML(body string) ([]block, []schema.Image) {
	var (
		blocks  []block
		images  []schema.Image
		cur     strings.Builder
		heading bool
		skip    int
	)
	flush := func() {
		if t := collapseSpace(cur.String()); t != "" {
			blocks = append(blocks, block{heading: heading, text: t})
		}
		cur.Reset()
		heading = false
	}

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return blocks, images
		case html.TextToken:
			if skip == 0 {
				cur.WriteString(string(z.Text()))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			name := tok.Data
			switch {
			case skipTags[name] && tt == html.StartTagToken:
				skip++
			case name == "img":
				images = append(images, imageFromAttrs(tok.Attr))
			case name == "br":
				cur.WriteString("\n")
			case blockTags[name]:
				flush()
				heading = headingTags[name]
			}
		case html.EndTagToken:
			tok := z.Token()
			name := tok.Data
			switch {
			case skipTags[name]:
				if skip > 0 {
					skip--
				}
			case blockTags[name]:
				flush()
			}
		}
	}
}

func imageFromAttrs(attrs []html.Attribute) schema.Image {
	var img schema.Image
	for _, a := range attrs {
		switch a.Key {
		case "src", "data-src":
			if img.URL == "" {
				img.URL = a.Val
			}
		case "alt":
			img.Alt = strings.TrimSpace(a.Val)
		case "title":
			img.Caption = strings.TrimSpace(a.Val)
		}
	}
	return img
}

// asciiSpaceRe matches runs of HTML source whitespace. Unicode spaces such
// as U+3000 are text content and are kept.
var asciiSpaceRe = regexp.MustCompile(`[ \t\r\f\v]+`)

// collapseSpace trims each line and drops empty lines; inline runs of
// whitespace from source indentation collapse to one space.
func collapseSpace(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if l := strings.Trim(asciiSpaceRe.ReplaceAllString(line, " "), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
