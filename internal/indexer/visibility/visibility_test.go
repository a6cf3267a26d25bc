package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jtlresearchit/leaf/internal/dataset"
)

func TestNewHidesDemographics(t *testing.T) {
	s := New()
	assert.False(t, s.DemographicsAllowed())
	assert.True(t, s.IsExcludedID(dataset.DemographicsID))
	assert.Equal(t, []string{dataset.DemographicsID}, s.Excluded())
	assert.False(t, s.HasDatasetExclusions())
}

func TestSetIsIdempotent(t *testing.T) {
	s := New()
	s.Disallow("a")
	s.Disallow("a")
	assert.True(t, s.IsExcludedID("a"))
	assert.Equal(t, 2, s.ExcludedCount())

	s.Allow("a")
	s.Allow("a")
	assert.False(t, s.IsExcludedID("a"))
	assert.Equal(t, 1, s.ExcludedCount())
}

func TestAllowUnknownIsNoop(t *testing.T) {
	s := New()
	s.Allow("never-seen")
	assert.False(t, s.IsExcludedID("never-seen"))
	assert.Equal(t, []string{dataset.DemographicsID}, s.Excluded())
}

func TestDisallowBeforeIndexingSurvives(t *testing.T) {
	s := New()
	s.Disallow("later")
	o := s.Ordinal("later")
	assert.True(t, s.IsExcluded(o))
}

func TestSetIgnoresSentinel(t *testing.T) {
	s := New()
	s.Allow(dataset.DemographicsID)
	assert.True(t, s.IsExcludedID(dataset.DemographicsID))

	s.SetDemographicsAllowed(true)
	s.Disallow(dataset.DemographicsID)
	assert.False(t, s.IsExcludedID(dataset.DemographicsID))
}

func TestAllowAll(t *testing.T) {
	tests := []struct {
		name         string
		demographics bool
		expected     []string
	}{
		{"demographics hidden", false, []string{dataset.DemographicsID}},
		{"demographics allowed", true, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.SetDemographicsAllowed(tt.demographics)
			s.Disallow("a")
			s.Disallow("b")

			s.AllowAll()
			first := s.Excluded()
			s.AllowAll()

			assert.Equal(t, tt.expected, first)
			assert.Equal(t, first, s.Excluded())
			assert.False(t, s.HasDatasetExclusions())
		})
	}
}

func TestDemographicsFlagAndSentinelAgree(t *testing.T) {
	s := New()
	for _, allow := range []bool{true, false, false, true, true, false} {
		s.SetDemographicsAllowed(allow)
		s.Disallow("x")
		s.AllowAll()
		assert.Equal(t, !s.DemographicsAllowed(), s.IsExcludedID(dataset.DemographicsID))
	}
}

func TestOrdinalsAreStable(t *testing.T) {
	s := New()
	a := s.Ordinal("a")
	b := s.Ordinal("b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, s.Ordinal("a"))
}
