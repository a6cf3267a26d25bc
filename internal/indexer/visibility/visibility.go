// Package visibility tracks which datasets are hidden from search. Dataset ids
// are interned into uint32 ordinals and the exclusion set is a roaring
// bitmap over those ordinals.
package visibility

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/jtlresearchit/leaf/internal/dataset"
)

// State is the mutable exclusion set plus the demographics flag. The
// Demographics sentinel is excluded exactly when demographics are not
// allowed. State is owned by the search worker and is not safe for
// concurrent use.
type State struct {
	ordinals map[string]uint32
	ids      []string
	excluded *roaring.Bitmap

	sentinel            uint32
	demographicsAllowed bool
}

// New returns a State with every dataset visible and demographics hidden.
func New() *State {
	s := &State{
		ordinals: make(map[string]uint32),
		excluded: roaring.New(),
	}
	s.sentinel = s.Ordinal(dataset.DemographicsID)
	s.excluded.Add(s.sentinel)
	return s
}

// Ordinal returns the ordinal for id, interning it on first use. Ordinals
// are stable for the lifetime of the State so exclusions survive rebuilds.
func (s *State) Ordinal(id string) uint32 {
	if o, ok := s.ordinals[id]; ok {
		return o
	}
	o := uint32(len(s.ids))
	s.ordinals[id] = o
	s.ids = append(s.ids, id)
	return o
}

// Set allows or disallows a single dataset. Unknown ids are fine. The
// sentinel is ignored here; use SetDemographicsAllowed.
func (s *State) Set(id string, allow bool) {
	if id == dataset.DemographicsID {
		return
	}
	if allow {
		if o, ok := s.ordinals[id]; ok {
			s.excluded.Remove(o)
		}
		return
	}
	s.excluded.Add(s.Ordinal(id))
}

func (s *State) Allow(id string) { s.Set(id, true) }

func (s *State) Disallow(id string) { s.Set(id, false) }

// AllowAll clears the exclusion set. Demographics stay hidden unless they
// are allowed.
func (s *State) AllowAll() {
	s.excluded.Clear()
	if !s.demographicsAllowed {
		s.excluded.Add(s.sentinel)
	}
}

func (s *State) SetDemographicsAllowed(allow bool) {
	s.demographicsAllowed = allow
	if allow {
		s.excluded.Remove(s.sentinel)
	} else {
		s.excluded.Add(s.sentinel)
	}
}

func (s *State) DemographicsAllowed() bool {
	return s.demographicsAllowed
}

// IsExcluded reports whether the dataset with the given ordinal is hidden.
func (s *State) IsExcluded(ordinal uint32) bool {
	return s.excluded.Contains(ordinal)
}

// IsExcludedID reports whether id is hidden. Ids never seen are visible.
func (s *State) IsExcludedID(id string) bool {
	o, ok := s.ordinals[id]
	return ok && s.excluded.Contains(o)
}

// ExcludedCount counts hidden datasets, sentinel included.
func (s *State) ExcludedCount() int {
	return int(s.excluded.GetCardinality())
}

// HasDatasetExclusions reports whether any dataset other than the sentinel
// is hidden.
func (s *State) HasDatasetExclusions() bool {
	n := s.excluded.GetCardinality()
	if s.excluded.Contains(s.sentinel) {
		n--
	}
	return n > 0
}

// Excluded returns the hidden dataset ids in sorted order.
func (s *State) Excluded() []string {
	out := make([]string, 0, s.excluded.GetCardinality())
	it := s.excluded.Iterator()
	for it.HasNext() {
		out = append(out, s.ids[it.Next()])
	}
	slices.Sort(out)
	return out
}
