// Package tokenizer derives the searchable token set of a dataset record.
// Tokens are lower-cased and split on whitespace only: there is no stemming,
// no stop-word removal, and punctuation is kept as part of the word.
package tokenizer

import (
	"strings"

	"github.com/jtlresearchit/leaf/internal/dataset"
)

// Tokenize returns the distinct lowercase tokens of r in first-seen order:
// the words of the name, each tag as a whole, the words of the category and
// the words of the description.
func Tokenize(r dataset.Record) []string {
	tokens := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(token string) {
		if token == "" {
			return
		}
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	for _, word := range Words(r.Name) {
		add(word)
	}
	for _, tag := range r.Tags {
		add(strings.ToLower(strings.TrimSpace(tag)))
	}
	if r.Category != "" {
		for _, word := range Words(r.Category) {
			add(word)
		}
	}
	if r.Description != "" {
		for _, word := range Words(r.Description) {
			add(word)
		}
	}
	return tokens
}

// Words lower-cases text and splits it on whitespace.
func Words(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
