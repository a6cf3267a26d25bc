// Package index holds the inverted index over dataset tokens. Occurrences are
// bucketed by the first rune of their token so a prefix query only scans the
// bucket of its first term.
package index

import (
	"unicode/utf8"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/indexer/tokenizer"
)

// InvertedIndex is owned by a single worker and is not safe for concurrent
// use.
type InvertedIndex struct {
	buckets map[rune][]TokenOccurrence
	records []dataset.Record
	tokens  int
}

func New() *InvertedIndex {
	return &InvertedIndex{
		buckets: make(map[rune][]TokenOccurrence),
	}
}

// Rebuild replaces the whole index with one built from records. The new
// buckets are assembled aside and swapped in at the end, so no lookup ever
// observes a partial generation.
func (x *InvertedIndex) Rebuild(records []dataset.Record, ordinals Ordinals) {
	buckets := make(map[rune][]TokenOccurrence)
	arena := dataset.Clone(records)
	total := 0

	for pos, r := range arena {
		tokens := tokenizer.Tokenize(r)
		ordinal := ordinals.Ordinal(r.ID)
		for i, token := range tokens {
			first, _ := utf8.DecodeRuneInString(token)
			buckets[first] = append(buckets[first], TokenOccurrence{
				Token:     token,
				DatasetID: r.ID,
				Ordinal:   ordinal,
				Record:    pos,
				Siblings:  siblings(tokens, i),
			})
		}
		total += len(tokens)
	}

	x.buckets = buckets
	x.records = arena
	x.tokens = total
}

// Lookup returns the bucket that may hold tokens starting with term. The
// returned slice must not be modified.
func (x *InvertedIndex) Lookup(term string) []TokenOccurrence {
	if term == "" {
		return nil
	}
	first, _ := utf8.DecodeRuneInString(term)
	return x.buckets[first]
}

// Record returns the record stored at arena position pos.
func (x *InvertedIndex) Record(pos int) dataset.Record {
	return x.records[pos]
}

// Records returns the indexed records in arena order.
func (x *InvertedIndex) Records() []dataset.Record {
	return x.records
}

func (x *InvertedIndex) Len() int {
	return len(x.records)
}

// TokenCount is the number of occurrences across all buckets.
func (x *InvertedIndex) TokenCount() int {
	return x.tokens
}

func (x *InvertedIndex) BucketCount() int {
	return len(x.buckets)
}

func siblings(tokens []string, skip int) []string {
	out := make([]string, 0, len(tokens)-1)
	out = append(out, tokens[:skip]...)
	return append(out, tokens[skip+1:]...)
}
