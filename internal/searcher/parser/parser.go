package parser

import (
	"github.com/jtlresearchit/leaf/internal/indexer/tokenizer"
)

// QueryPlan is a parsed search string. Every term must prefix-match a
// distinct token of a dataset for the dataset to match.
type QueryPlan struct {
	Terms    []string
	RawQuery string
}

// Parse lower-cases query and splits it on whitespace. Operators are not
// recognized; "and" is just another term.
func Parse(query string) *QueryPlan {
	return &QueryPlan{
		Terms:    tokenizer.Words(query),
		RawQuery: query,
	}
}

// IsEmpty reports whether the query has no terms, in which case callers
// return the baseline listing.
func (p *QueryPlan) IsEmpty() bool {
	return len(p.Terms) == 0
}
