package engine

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold maps typographic variants that input methods like to produce onto
// the plain ASCII the targets are written in.
var asciiFold = map[rune]rune{
	'\u2018': '\'', '\u2019': '\'', '\u201a': '\'', '\u201b': '\'', '\u2032': '\'', '`': '\'',
	'\u201c': '"', '\u201d': '"', '\u201e': '"', '\u201f': '"', '\u00ab': '"', '\u00bb': '"',
	'\u2010': '-', '\u2011': '-', '\u2012': '-', '\u2013': '-', '\u2014': '-', '\u2015': '-', '\u2212': '-',
	'\u00a0': ' ', '\u2007': ' ', '\u202f': ' ', '\u3000': ' ', '\t': ' ',
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

func foldRune(r rune) rune {
	if f, ok := asciiFold[r]; ok {
		return f
	}
	return r
}

// NormalizeText puts text into the form used for comparison: NFKC, zero-width
// characters dropped, quotes/dashes/spaces folded to ASCII, whitespace runs
// collapsed to one space and trimmed.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFKC, runes.Remove(runes.Predicate(isZeroWidth)), runes.Map(foldRune))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// TextMatches compares a submission with a target after normalizing both.
func TextMatches(submitted, target string) bool {
	return NormalizeText(submitted) == NormalizeText(target)
}
