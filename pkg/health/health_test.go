package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{
			name:   "all up",
			checks: map[string]Check{"a": PingCheck(func(context.Context) error { return nil })},
			want:   StatusUp,
		},
		{
			name: "degraded",
			checks: map[string]Check{
				"a": PingCheck(func(context.Context) error { return nil }),
				"b": Disabled("redis not configured"),
			},
			want: StatusDegraded,
		},
		{
			name: "down wins",
			checks: map[string]Check{
				"a": Disabled("off"),
				"b": ErrCheck(func() error { return errors.New("search worker fault") }),
			},
			want: StatusDown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, len(tt.checks))
		})
	}
}

func TestOptionalPingCheckDegrades(t *testing.T) {
	got := OptionalPingCheck(func(context.Context) error { return errors.New("refused") })(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "refused", got.Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("redis", Disabled("not configured"))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("search_worker", ErrCheck(func() error { return errors.New("fault") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Components["search_worker"].Status)
}
