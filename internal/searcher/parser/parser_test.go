package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		terms []string
		empty bool
	}{
		{"", []string{}, true},
		{"   \t ", []string{}, true},
		{"al", []string{"al"}, false},
		{"WH bl", []string{"wh", "bl"}, false},
		{"  blood   AND  panel ", []string{"blood", "and", "panel"}, false},
		{"wh wh", []string{"wh", "wh"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			plan := Parse(tt.query)
			assert.Equal(t, tt.query, plan.RawQuery)
			assert.Equal(t, tt.empty, plan.IsEmpty())
			if tt.empty {
				assert.Empty(t, plan.Terms)
			} else {
				assert.Equal(t, tt.terms, plan.Terms)
			}
		})
	}
}

func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"single", "blood"},
		{"multi", "blood panel cbc"},
		{"long", "basic demographics labs microbiology culture results allergy list imaging"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Parse(q.query)
			}
		})
	}
}
