// Package keywords derives the keyword stream that feeds the full-text side of
// the hybrid index. Extraction is a pure function over the input text; the
// indexer applies it to combined segment content and the searcher applies it
// to the raw query, so both sides tokenize identically.
package keywords

import (
	"strings"
	"unicode"
)

// stoplist holds single-syllable Korean nouns too generic to index.
var stoplist = map[string]struct{}{
	"것": {}, "수": {}, "등": {}, "때": {}, "곳": {},
}

// suffixes are dependent noun suffixes that attach to the preceding keyword
// instead of being emitted on their own.
var suffixes = map[string]struct{}{
	"들": {}, "님": {}, "씨": {}, "측": {}, "용": {}, "별": {}, "상": {}, "형": {},
}

type tokenClass int

const (
	classNone tokenClass = iota
	classHangul
	classLatin
	classNumeric
	classHan
)

// Extract tokenizes text and returns the space-joined keyword stream.
//
// Hangul runs are noun candidates: single-rune stoplist members are dropped
// and suffix tokens are concatenated onto the previously emitted keyword (a
// suffix with no keyword before it is dropped).
// Latin, numeric, and Han (CJK ideograph) runs are emitted unconditionally,
// regardless of length. All other runes are separators.
func Extract(text string) string {
	var (
		results []string
		run     strings.Builder
		current = classNone
	)

	flush := func() {
		if run.Len() == 0 {
			return
		}
		form := run.String()
		run.Reset()
		switch current {
		case classHangul:
			if _, ok := suffixes[form]; ok {
				if len(results) > 0 {
					results[len(results)-1] += form
				}
				return
			}
			if isSingleRune(form) {
				if _, ok := stoplist[form]; ok {
					return
				}
			}
			results = append(results, form)
		case classLatin, classNumeric, classHan:
			results = append(results, form)
		}
	}

	for _, r := range text {
		cls := classify(r)
		if cls == classNone {
			flush()
			current = classNone
			continue
		}
		if cls != current {
			flush()
			current = cls
		}
		run.WriteRune(r)
	}
	flush()

	return strings.Join(results, " ")
}

// ExtractDetailed is the looser variant used by diagnostic tooling. It runs
// Extract on each whitespace-separated field separately; a field that Extract
// reduces to nothing but that still contains a letter or digit is kept as-is.
// URLs and identifiers are split into runs exactly as Extract splits them.
func ExtractDetailed(text string) string {
	fields := strings.Fields(text)
	var results []string
	for _, f := range fields {
		if kw := Extract(f); kw != "" {
			results = append(results, strings.Split(kw, " ")...)
			continue
		}
		if hasLetterOrDigit(f) {
			results = append(results, f)
		}
	}
	return strings.Join(results, " ")
}

func classify(r rune) tokenClass {
	switch {
	case unicode.Is(unicode.Hangul, r):
		return classHangul
	case r >= '0' && r <= '9':
		return classNumeric
	case unicode.Is(unicode.Latin, r):
		return classLatin
	case unicode.Is(unicode.Han, r):
		return classHan
	default:
		return classNone
	}
}

func isSingleRune(s string) bool {
	for i := range s {
		if i > 0 {
			return false
		}
	}
	return s != ""
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
