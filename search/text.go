package search

import (
	"strings"
	"unicode"
)

// Stop words ignored when matching query terms.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "be": {}, "is": {}, "are": {}, "was": {},
	"to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "have": {}, "it": {},
	"for": {}, "not": {}, "on": {}, "with": {}, "as": {}, "you": {}, "do": {},
	"at": {}, "this": {}, "but": {}, "by": {}, "from": {}, "what": {}, "how": {},
	"does": {}, "which": {}, "or": {},
}

// terms splits text into lowercased words without surrounding punctuation
// or stop words.
func terms(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if cleaned == "" {
			continue
		}
		if _, stop := stopWords[cleaned]; stop {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

// containsAllQueryWords reports whether every query term occurs in document.
// A query made only of stop words matches nothing.
func containsAllQueryWords(document, query string) bool {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return false
	}

	present := make(map[string]struct{})
	for _, word := range terms(document) {
		present[word] = struct{}{}
	}
	for _, t := range queryTerms {
		if _, ok := present[t]; !ok {
			return false
		}
	}
	return true
}
