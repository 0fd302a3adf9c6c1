package util

import (
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewRunID returns a random id used to correlate log lines, queue messages
// and reports of one ingestion run.
func NewRunID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "run"
	}
	return id
}

// ParseArticleIDs splits raw user input into article ids. Entries may be
// separated by commas or whitespace and may carry a "PMID:" prefix. The
// result keeps first-seen order and drops duplicates.
func ParseArticleIDs(raw ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range raw {
		fields := strings.FieldsFunc(r, func(c rune) bool {
			return c == ',' || c == ';' || unicode.IsSpace(c)
		})
		for _, f := range fields {
			id := NormalizeArticleID(f)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// NormalizeArticleID trims whitespace and a case-insensitive "PMID:" prefix.
func NormalizeArticleID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 5 && strings.EqualFold(id[:5], "pmid:") {
		id = strings.TrimSpace(id[5:])
	}
	return id
}

// IsNumericID reports whether id consists of ASCII digits only, as PubMed
// ids do.
func IsNumericID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}
