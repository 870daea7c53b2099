package conditions

import (
	"strings"
	"unicode"
)

// MatchesKeyword reports whether any keyword occurs in text as a whole word
// (or a whole run of words), ignoring case and punctuation.
func MatchesKeyword(text string, keywords []string) bool {
	words := tokenize(text)
	if len(words) == 0 {
		return false
	}

	for _, keyword := range keywords {
		if containsRun(words, tokenize(keyword)) {
			return true
		}
	}

	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsRun(words, run []string) bool {
	if len(run) == 0 {
		return false
	}

outer:
	for start := 0; start+len(run) <= len(words); start++ {
		for i, word := range run {
			if words[start+i] != word {
				continue outer
			}
		}

		return true
	}

	return false
}
