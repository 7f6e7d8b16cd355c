package scrape

import (
	"strings"
	"unicode"
)

// Filter is a brand/model allow-list. The expression is a comma-separated
// list of groups, each a space-separated set of required substring
// tokens: groups are ORed, tokens within a group are ANDed. Matching is
// case- and punctuation-insensitive. The zero Filter matches everything.
type Filter struct {
	groups [][]string
}

// ParseFilter builds a Filter from an expression such as
// "aprilia 125,cagiva mito".
func ParseFilter(expr string) Filter {
	var groups [][]string
	for _, group := range strings.Split(expr, ",") {
		var tokens []string
		for _, tok := range strings.Fields(normalizeFilterText(group)) {
			tokens = append(tokens, tok)
		}
		if len(tokens) > 0 {
			groups = append(groups, tokens)
		}
	}
	return Filter{groups: groups}
}

// Empty reports whether the filter has no groups and so allows all text.
func (f Filter) Empty() bool {
	return len(f.groups) == 0
}

// Matches reports whether text satisfies at least one group.
func (f Filter) Matches(text string) bool {
	if f.Empty() {
		return true
	}
	normalized := normalizeFilterText(text)
	for _, group := range f.groups {
		if allTokensPresent(normalized, group) {
			return true
		}
	}
	return false
}

func allTokensPresent(text string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return true
}

// normalizeFilterText lowercases and replaces punctuation with spaces so
// "RS-125" and "rs 125" compare equal.
func normalizeFilterText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
