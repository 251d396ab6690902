package textnorm

import (
	"regexp"
	"strings"

	"github.com/dshills/proofcheck/internal/schema"
)

var mdImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"([^"]*)")?\)`)

// segmentMarkdown splits a Markdown body into paragraphs. Headings become
// their own paragraphs, list items start new paragraphs, fenced code blocks
// and thematic breaks are dropped, and inline images are extracted.
func segmentMarkdown(body string) ([]block, []schema.Image) {
	var (
		blocks    []block
		images    []schema.Image
		buf       []string
		openFence string
	)
	flush := func() {
		if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
			blocks = append(blocks, block{text: t})
		}
		buf = nil
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")
	for _, line := range strings.Split(body, "\n") {
		// Fence content is consumed before any structural check.
		if openFence != "" {
			if isClosingFence(line, openFence) {
				openFence = ""
			}
			continue
		}
		if fp := fencePrefix(line); fp != "" {
			flush()
			openFence = fp
			continue
		}

		for _, m := range mdImageRe.FindAllStringSubmatch(line, -1) {
			images = append(images, schema.Image{URL: m[2], Alt: strings.TrimSpace(m[1]), Caption: m[3]})
		}
		line = mdImageRe.ReplaceAllString(line, "")

		switch {
		case isHeading(line):
			flush()
			t := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
			if t != "" {
				blocks = append(blocks, block{heading: true, text: t})
			}
		case strings.TrimSpace(line) == "", isDecorator(line):
			flush()
		case !isIndented(line) && (isBullet(line) || isNumbered(line)):
			flush()
			buf = append(buf, stripListPrefix(line))
		default:
			buf = append(buf, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">")))
		}
	}
	flush()
	return blocks, images
}

// fencePrefix returns the opening fence marker if line opens a fenced code
// block. Four or more leading spaces make an indented code block instead.
func fencePrefix(line string) string {
	leading := len(line) - len(strings.TrimLeft(line, " "))
	if leading >= 4 {
		return ""
	}
	stripped := line[leading:]
	for _, marker := range []byte{'`', '~'} {
		n := 0
		for n < len(stripped) && stripped[n] == marker {
			n++
		}
		if n >= 3 {
			return stripped[:n]
		}
	}
	return ""
}

// isClosingFence reports whether line closes openFence: same marker, at
// least as long, nothing but spaces after it.
func isClosingFence(line, openFence string) bool {
	fp := fencePrefix(line)
	if fp == "" || fp[0] != openFence[0] || len(fp) < len(openFence) {
		return false
	}
	rest := strings.TrimLeft(line, " ")[len(fp):]
	return strings.TrimSpace(rest) == ""
}

// isHeading matches ATX headings (# through ######) followed by a space.
func isHeading(line string) bool {
	if len(line)-len(strings.TrimLeft(line, " ")) >= 4 {
		return false
	}
	t := strings.TrimSpace(line)
	hashes := strings.IndexFunc(t, func(r rune) bool { return r != '#' })
	return hashes > 0 && hashes <= 6 && t[hashes] == ' '
}

// isDecorator matches thematic breaks: one separator repeated 3+ times.
func isDecorator(line string) bool {
	t := strings.TrimSpace(line)
	if len(t) < 3 {
		return false
	}
	first := t[0]
	if first != '-' && first != '=' && first != '*' && first != '_' {
		return false
	}
	return strings.Count(t, string(first)) == len(t)
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

func isBullet(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "• ")
}

var numberedRe = regexp.MustCompile(`^\d+[.)] `)

func isNumbered(line string) bool {
	return numberedRe.MatchString(strings.TrimSpace(line))
}

func stripListPrefix(line string) string {
	t := strings.TrimSpace(line)
	if loc := numberedRe.FindStringIndex(t); loc != nil {
		return strings.TrimSpace(t[loc[1]:])
	}
	for _, pfx := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(t, pfx) {
			return strings.TrimSpace(t[len(pfx):])
		}
	}
	return t
}
