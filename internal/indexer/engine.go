// Package indexer owns the dataset catalog, its inverted index, the
// visibility state and the cached baseline listing. An Engine is driven by
// exactly one goroutine, the search worker in internal/gateway.
package indexer

import (
	"log/slog"
	"time"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/indexer/index"
	"github.com/jtlresearchit/leaf/internal/indexer/visibility"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/internal/searcher/executor"
	"github.com/jtlresearchit/leaf/internal/searcher/parser"
	"github.com/jtlresearchit/leaf/pkg/metrics"
)

type Engine struct {
	index      *index.InvertedIndex
	visibility *visibility.State
	executor   *executor.Executor
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// catalog excludes the sentinel and any Demographics-shaped records.
	catalog []dataset.Record
	// baseline is the listing of catalog plus the sentinel when demographics
	// are allowed. Per-dataset exclusions are applied on read.
	baseline assembler.Result
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDemographicsAllowed sets the initial demographics flag.
func WithDemographicsAllowed(allow bool) Option {
	return func(e *Engine) { e.visibility.SetDemographicsAllowed(allow) }
}

// NewEngine returns an engine holding an empty catalog. The sentinel is
// indexed from the start.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		index:      index.New(),
		visibility: visibility.New(),
		executor:   executor.New(),
		logger:     slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Rebuild(nil)
	return e
}

// Rebuild replaces the catalog and the index, recomputes the baseline and
// returns it with the current exclusions applied.
func (e *Engine) Rebuild(records []dataset.Record) assembler.Result {
	start := time.Now()

	catalog := make([]dataset.Record, 0, len(records))
	skipped := 0
	for _, r := range records {
		if r.IsDemographics() || r.ID == dataset.DemographicsID {
			skipped++
			continue
		}
		catalog = append(catalog, r)
	}
	catalog = dataset.Clone(catalog)

	indexed := make([]dataset.Record, 0, len(catalog)+1)
	indexed = append(indexed, catalog...)
	indexed = append(indexed, dataset.Demographics())
	e.index.Rebuild(indexed, e.visibility)
	e.catalog = catalog
	e.recomputeBaseline()

	if e.metrics != nil {
		e.metrics.IndexRebuildsTotal.Inc()
		e.metrics.IndexedDatasets.Set(float64(e.index.Len()))
		e.metrics.IndexedTokens.Set(float64(e.index.TokenCount()))
	}
	e.logger.Info("index rebuilt",
		"datasets", len(catalog),
		"skipped_demographics", skipped,
		"tokens", e.index.TokenCount(),
		"buckets", e.index.BucketCount(),
		"duration", time.Since(start),
	)
	return e.baselineView()
}

// Search runs query against the index. A blank query returns the baseline
// listing; the exclusion set applies either way.
func (e *Engine) Search(query string) assembler.Result {
	plan := parser.Parse(query)
	var res assembler.Result
	if plan.IsEmpty() {
		res = e.baselineView()
	} else {
		res = assembler.Assemble(e.executor.Execute(plan, e.index, e.visibility))
	}
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(res.DatasetCount))
	}
	return res
}

// SetDatasetVisibility hides or shows one dataset. Unknown ids are accepted
// silently. The cached baseline is not recomputed.
func (e *Engine) SetDatasetVisibility(id string, allow bool) {
	e.visibility.Set(id, allow)
	e.logger.Debug("dataset visibility changed", "dataset_id", id, "allow", allow)
}

// AllowAll clears every per-dataset exclusion and returns the baseline.
func (e *Engine) AllowAll() assembler.Result {
	e.visibility.AllowAll()
	return e.baselineView()
}

// SetDemographicsVisibility toggles the sentinel and returns the recomputed
// baseline.
func (e *Engine) SetDemographicsVisibility(allow bool) assembler.Result {
	e.visibility.SetDemographicsAllowed(allow)
	e.recomputeBaseline()
	e.logger.Info("demographics visibility changed", "allow", allow)
	return e.baselineView()
}

// Excluded returns the hidden dataset ids.
func (e *Engine) Excluded() []string {
	return e.visibility.Excluded()
}

func (e *Engine) DemographicsAllowed() bool {
	return e.visibility.DemographicsAllowed()
}

// CatalogSize is the number of catalog datasets, sentinel excluded.
func (e *Engine) CatalogSize() int {
	return len(e.catalog)
}

func (e *Engine) recomputeBaseline() {
	records := e.catalog
	if e.visibility.DemographicsAllowed() {
		records = make([]dataset.Record, 0, len(e.catalog)+1)
		records = append(records, dataset.Demographics())
		records = append(records, e.catalog...)
	}
	e.baseline = assembler.Assemble(records)
}

func (e *Engine) baselineView() assembler.Result {
	if !e.visibility.HasDatasetExclusions() {
		return e.baseline
	}
	return e.baseline.Filter(e.visibility.IsExcludedID)
}
