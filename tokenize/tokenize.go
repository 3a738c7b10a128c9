// Package tokenize splits free-form profile text into normalized word tokens.
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Words returns the word tokens of s in order of appearance. Text is
// NFKC-normalized and case-folded; a token is a maximal run of letters,
// digits, underscores and apostrophes.
func Words(s string) []string {
	if s == "" {
		return nil
	}
	s = folder.String(norm.NFKC.String(s))

	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if isWordRune(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// Keywords returns the distinct tokens of s that carry meaning for
// overlap scoring: at least two runes long and not a stop word.
func Keywords(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Words(s) {
		w = strings.Trim(w, "'_")
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '_' || r == '\''
}

// stopWords holds case-folded English and Russian function words that
// appear in form answers but say nothing about skills.
var stopWords = map[string]struct{}{
	"and": {}, "or": {}, "the": {}, "of": {}, "in": {}, "on": {}, "to": {},
	"for": {}, "with": {}, "a": {}, "an": {}, "is": {}, "are": {}, "be": {},
	"by": {}, "at": {}, "as": {}, "it": {}, "from": {}, "that": {}, "this": {},
	"и": {}, "в": {}, "во": {}, "на": {}, "с": {}, "со": {}, "по": {}, "для": {},
	"из": {}, "от": {}, "до": {}, "не": {}, "но": {}, "или": {}, "а": {},
	"что": {}, "как": {}, "это": {}, "к": {}, "о": {}, "об": {}, "у": {},
}
