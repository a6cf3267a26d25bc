// Package assembler turns a set of matched datasets into the categorized,
// display-ordered result returned to the UI.
package assembler

import (
	"cmp"
	"slices"

	"github.com/jtlresearchit/leaf/internal/dataset"
)

// Neighbors are the ids before and after a dataset in display order. The
// order is circular: the last dataset's next is the first.
type Neighbors struct {
	PrevID string `json:"prevId"`
	NextID string `json:"nextId"`
}

type Category struct {
	Name     string           `json:"category"`
	Datasets []dataset.Record `json:"datasets"`
}

// Result is a categorized listing. Order is the single global sequence the
// categories were cut from, and DisplayOrder is the ring over it.
type Result struct {
	Categories   []Category           `json:"categories"`
	DisplayOrder map[string]Neighbors `json:"displayOrder"`
	Order        []string             `json:"order"`
	DatasetCount int                  `json:"datasetCount"`
}

// Empty returns a result with no datasets.
func Empty() Result {
	return Result{
		Categories:   []Category{},
		DisplayOrder: map[string]Neighbors{},
		Order:        []string{},
	}
}

// Assemble dedupes records by id (first wins), sorts them by category, then
// name, then id, and moves Demographics-shaped records to the front as their
// own category. The returned result shares no memory with records.
func Assemble(records []dataset.Record) Result {
	seen := make(map[string]struct{}, len(records))
	var leading, rest []dataset.Record
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if r.IsDemographics() {
			leading = append(leading, r)
		} else {
			rest = append(rest, r)
		}
	}

	slices.SortStableFunc(rest, func(a, b dataset.Record) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})

	sorted := dataset.Clone(append(leading, rest...))
	if len(sorted) == 0 {
		return Empty()
	}

	res := Result{
		Categories:   group(sorted),
		DisplayOrder: make(map[string]Neighbors, len(sorted)),
		Order:        make([]string, len(sorted)),
		DatasetCount: len(sorted),
	}
	for i, r := range sorted {
		res.Order[i] = r.ID
	}
	n := len(res.Order)
	for i, id := range res.Order {
		res.DisplayOrder[id] = Neighbors{
			PrevID: res.Order[(i-1+n)%n],
			NextID: res.Order[(i+1)%n],
		}
	}
	return res
}

// group cuts sorted into runs of equal category. Demographics records never
// share a run with other records.
func group(sorted []dataset.Record) []Category {
	var out []Category
	for i, r := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			if prev.Category == r.Category && prev.IsDemographics() == r.IsDemographics() {
				last := &out[len(out)-1]
				last.Datasets = append(last.Datasets, r)
				continue
			}
		}
		out = append(out, Category{Name: r.Category, Datasets: []dataset.Record{r}})
	}
	return out
}

// Records returns the datasets in display order.
func (r Result) Records() []dataset.Record {
	out := make([]dataset.Record, 0, r.DatasetCount)
	for _, c := range r.Categories {
		out = append(out, c.Datasets...)
	}
	return out
}

// Next returns the id displayed after id, wrapping at the end.
func (r Result) Next(id string) (string, bool) {
	n, ok := r.DisplayOrder[id]
	return n.NextID, ok
}

// Prev returns the id displayed before id, wrapping at the start.
func (r Result) Prev(id string) (string, bool) {
	n, ok := r.DisplayOrder[id]
	return n.PrevID, ok
}

// Filter re-assembles the result without the datasets for which drop
// returns true. It returns r itself when nothing is dropped.
func (r Result) Filter(drop func(id string) bool) Result {
	kept := make([]dataset.Record, 0, r.DatasetCount)
	dropped := false
	for _, c := range r.Categories {
		for _, d := range c.Datasets {
			if drop(d.ID) {
				dropped = true
				continue
			}
			kept = append(kept, d)
		}
	}
	if !dropped {
		return r
	}
	return Assemble(kept)
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	out := Result{
		Categories:   make([]Category, len(r.Categories)),
		DisplayOrder: make(map[string]Neighbors, len(r.DisplayOrder)),
		Order:        slices.Clone(r.Order),
		DatasetCount: r.DatasetCount,
	}
	if out.Order == nil {
		out.Order = []string{}
	}
	for i, c := range r.Categories {
		out.Categories[i] = Category{Name: c.Name, Datasets: dataset.Clone(c.Datasets)}
	}
	for id, n := range r.DisplayOrder {
		out.DisplayOrder[id] = n
	}
	return out
}
