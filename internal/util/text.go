package util

import (
	"strings"
	"unicode"
)

var sentenceAbbreviations = map[string]struct{}{
	"e.g.":    {},
	"i.e.":    {},
	"al.":     {},
	"vs.":     {},
	"fig.":    {},
	"figs.":   {},
	"no.":     {},
	"ca.":     {},
	"approx.": {},
}

// SplitSentences splits free text into sentences. Lines are joined with a
// space, blank lines always end a sentence. Terminal punctuation only ends a
// sentence when followed by whitespace, so decimals ("p < 0.05") and
// identifiers ("NM_000546.6") stay intact.
func SplitSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		lineSentences, open := splitLineIntoSentences(trimmed)
		for i, sentence := range lineSentences {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if i < len(lineSentences)-1 || !open {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// splitLineIntoSentences returns the sentences of a single line and whether
// the last one is still open, i.e. continues on the next line.
func splitLineIntoSentences(line string) ([]string, bool) {
	var sentences []string
	var current strings.Builder
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		if !isTerminal(runes[i]) {
			continue
		}

		j := i + 1
		for j < len(runes) && isTerminal(runes[j]) {
			current.WriteRune(runes[j])
			j++
		}
		for j < len(runes) && isClosing(runes[j]) {
			current.WriteRune(runes[j])
			j++
		}

		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if runes[i] == '.' && (isNumericListing(runes, i) || endsWithAbbreviation(current.String())) {
			i = j - 1
			continue
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
		return sentences, true
	}
	return sentences, false
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '}'
}

// isNumericListing reports "1. First item" style enumerations: one or two
// digits directly before the dot, at the start of a word.
func isNumericListing(runes []rune, dot int) bool {
	k := dot - 1
	for k >= 0 && unicode.IsDigit(runes[k]) {
		k--
	}
	if digits := dot - 1 - k; digits == 0 || digits > 2 {
		return false
	}
	return k < 0 || unicode.IsSpace(runes[k])
}

func endsWithAbbreviation(s string) bool {
	s = strings.TrimSpace(s)
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	word := strings.ToLower(s[idx+1:])
	_, ok := sentenceAbbreviations[word]
	return ok
}
