package executor

import (
	"log/slog"
	"strings"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/indexer/index"
	"github.com/jtlresearchit/leaf/internal/searcher/parser"
)

// Visibility reports whether a dataset ordinal is hidden from search.
type Visibility interface {
	IsExcluded(ordinal uint32) bool
}

type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute runs a multi-term prefix query. The first term selects candidate
// occurrences from its bucket; each further term must prefix-match a sibling
// token not already consumed by an earlier term. Matches are returned once
// each, in bucket order.
func (e *Executor) Execute(plan *parser.QueryPlan, idx *index.InvertedIndex, vis Visibility) []dataset.Record {
	if plan.IsEmpty() {
		return nil
	}
	first := plan.Terms[0]
	rest := plan.Terms[1:]
	need := len(plan.Terms)

	bucket := idx.Lookup(first)
	if len(bucket) == 0 {
		return nil
	}

	var (
		matched  []dataset.Record
		seen     = make(map[int]struct{})
		consumed []bool
	)
	for i := range bucket {
		occ := &bucket[i]
		if !strings.HasPrefix(occ.Token, first) || vis.IsExcluded(occ.Ordinal) {
			continue
		}
		if _, dup := seen[occ.Record]; dup {
			continue
		}

		hits := 1
		if len(rest) > 0 {
			consumed = resetConsumed(consumed, len(occ.Siblings))
			for _, term := range rest {
				if consumeSibling(occ.Siblings, consumed, term) {
					hits++
				}
			}
		}
		if hits != need {
			continue
		}
		seen[occ.Record] = struct{}{}
		matched = append(matched, idx.Record(occ.Record))
	}

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"bucket", len(bucket),
		"results", len(matched),
	)
	return matched
}

// consumeSibling marks the first unconsumed sibling with prefix term.
func consumeSibling(siblings []string, consumed []bool, term string) bool {
	for j, sibling := range siblings {
		if consumed[j] || !strings.HasPrefix(sibling, term) {
			continue
		}
		consumed[j] = true
		return true
	}
	return false
}

func resetConsumed(buf []bool, n int) []bool {
	if cap(buf) < n {
		return make([]bool, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}
