package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Fold maps s to its comparison form: full-width forms become their
// half-width equivalents and letters are lower-cased. The mapping is strictly
// rune-for-rune, so a rune offset into Fold(s) is the same offset into s.
func Fold(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		sb.WriteRune(FoldRune(r))
	}
	return sb.String()
}

// FoldRune folds a single rune; see Fold.
func FoldRune(r rune) rune {
	if f := width.LookupRune(r).Folded(); f != 0 {
		r = f
	}
	return unicode.ToLower(r)
}

// IsWide reports whether r is a full-width (East Asian wide) rune that has a
// narrow counterpart, e.g. "Ａ" or "１".
func IsWide(r rune) bool {
	return width.LookupRune(r).Kind() == width.EastAsianFullwidth && width.LookupRune(r).Folded() != 0
}

// IsCJK reports whether r belongs to a script that is typeset with
// full-width punctuation.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}

// FullWidthLocale reports whether the locale uses full-width punctuation.
func FullWidthLocale(locale string) bool {
	l := strings.ToLower(strings.TrimSpace(locale))
	return strings.HasPrefix(l, "zh") || strings.HasPrefix(l, "ja")
}
