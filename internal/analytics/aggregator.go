package analytics

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jtlresearchit/leaf/pkg/proto"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type Stats struct {
	TotalSearches     int64        `json:"totalSearches"`
	FailedSearches    int64        `json:"failedSearches"`
	ZeroResultCount   int64        `json:"zeroResultCount"`
	AvgLatencyMs      float64      `json:"avgLatencyMs"`
	P50LatencyMs      int64        `json:"p50LatencyMs"`
	P95LatencyMs      int64        `json:"p95LatencyMs"`
	P99LatencyMs      int64        `json:"p99LatencyMs"`
	TopQueries        []QueryCount `json:"topQueries"`
	ZeroResultQueries []QueryCount `json:"zeroResultQueries"`
	QueriesPerMinute  float64      `json:"queriesPerMinute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running search statistics for the stats endpoint. Blank
// queries count towards the totals but are left out of the query rankings.
type Aggregator struct {
	mu                sync.Mutex
	totalSearches     int64
	failedSearches    int64
	zeroResults       int64
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	now               func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
	}
}

func (a *Aggregator) Track(event proto.SearchEvent) {
	query := strings.Join(strings.Fields(strings.ToLower(event.Query)), " ")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	if event.Failed {
		a.failedSearches++
		return
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	if event.ResultCount == 0 {
		a.zeroResults++
	}
	if query == "" {
		return
	}
	a.queryCounts[query]++
	if event.ResultCount == 0 {
		a.zeroResultQueries[query]++
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		TotalSearches:     a.totalSearches,
		FailedSearches:    a.failedSearches,
		ZeroResultCount:   a.zeroResults,
		TopQueries:        topN(a.queryCounts, 10),
		ZeroResultQueries: topN(a.zeroResultQueries, 10),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN ranks by count, breaking ties by query text.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Query, b.Query))
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
