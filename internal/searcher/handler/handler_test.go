package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtlresearchit/leaf/internal/analytics"
	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/gateway"
	"github.com/jtlresearchit/leaf/internal/indexer"
	"github.com/jtlresearchit/leaf/internal/query"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

type stubReloader struct {
	records []dataset.Record
	gw      *gateway.Gateway
	fresh   []bool
}

func (s *stubReloader) Reload(ctx context.Context, fresh bool) (assembler.Result, error) {
	s.fresh = append(s.fresh, fresh)
	return s.gw.RebuildIndex(s.records).Wait(ctx)
}

type stubQueries struct {
	saved   query.SaveResult
	deleted query.DeleteResult
	err     error
	lastID  string
	lastReq query.SaveRequest
	force   bool
}

func (s *stubQueries) List(context.Context) ([]query.Query, error) {
	return []query.Query{{ID: "q1", Name: "Saved"}}, s.err
}

func (s *stubQueries) Get(_ context.Context, id string) (query.Query, error) {
	s.lastID = id
	return query.Query{ID: id, Name: "Saved"}, s.err
}

func (s *stubQueries) Delete(_ context.Context, id string, force bool) (query.DeleteResult, error) {
	s.lastID, s.force = id, force
	return s.deleted, s.err
}

func (s *stubQueries) Save(_ context.Context, id string, req query.SaveRequest) (query.SaveResult, error) {
	s.lastID, s.lastReq = id, req
	return s.saved, s.err
}

// faultyIndex panics on every search and blocks on "slow".
type faultyIndex struct {
	*indexer.Engine
	release chan struct{}
}

func (f *faultyIndex) Search(q string) assembler.Result {
	if q == "slow" {
		<-f.release
		return assembler.Empty()
	}
	panic("corrupted index")
}

func catalog() []dataset.Record {
	return []dataset.Record{
		{ID: "a", Name: "Allergy List", Category: "Labs", Tags: []string{"allergy"}},
		{ID: "b", Name: "Blood Panel", Category: "Labs"},
		{ID: "c", Name: "Culture Results", Category: "Micro"},
	}
}

func newServer(t *testing.T, opts ...Option) (*gateway.Gateway, http.Handler) {
	t.Helper()
	gw := gateway.New(indexer.NewEngine())
	t.Cleanup(func() { gw.Close() })
	_, err := gw.RebuildIndex(catalog()).Wait(context.Background())
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(gw, opts...).Register(mux)
	return gw, mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestSearchEndpoint(t *testing.T) {
	agg := analytics.NewAggregator()
	_, h := newServer(t, WithTracker(agg))

	rec := do(t, h, http.MethodGet, "/api/v1/datasets/search?q=bl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[assembler.Result](t, rec)
	assert.Equal(t, []string{"b"}, res.Order)
	assert.Equal(t, 1, res.DatasetCount)

	rec = do(t, h, http.MethodGet, "/api/v1/datasets/search", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[assembler.Result](t, rec).DatasetCount)

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalSearches)
	assert.Equal(t, "bl", stats.TopQueries[0].Query)
}

func TestRebuildEndpoint(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodPut, "/api/v1/datasets", `[{"id":"x","name":"Xray Reports","category":"Imaging","shape":1}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[assembler.Result](t, rec)
	assert.Equal(t, []string{"x"}, res.Order)

	rec = do(t, h, http.MethodPut, "/api/v1/datasets", `[{"name":"no id"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/datasets", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisibilityEndpoints(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodPut, "/api/v1/datasets/b/visibility", `{"allow":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ack := decode[proto.VisibilityAck](t, rec)
	assert.Equal(t, "b", ack.DatasetID)
	assert.False(t, ack.Allow)
	assert.NotEmpty(t, ack.RequestID)

	rec = do(t, h, http.MethodGet, "/api/v1/datasets/search?q=bl", "")
	assert.Zero(t, decode[assembler.Result](t, rec).DatasetCount)

	rec = do(t, h, http.MethodPut, "/api/v1/datasets/b/visibility", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/datasets/visibility/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[assembler.Result](t, rec).DatasetCount)

	rec = do(t, h, http.MethodPut, "/api/v1/datasets/demographics", `{"allow":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[assembler.Result](t, rec)
	assert.Equal(t, 4, res.DatasetCount)
	assert.Equal(t, dataset.DemographicsID, res.Order[0])
}

func TestReloadEndpoint(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, h := newServer(t)
		rec := do(t, h, http.MethodPost, "/api/v1/datasets/reload", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "catalog store is not configured", decode[proto.ErrorResponse](t, rec).Error)
	})
	t.Run("reloads", func(t *testing.T) {
		gw := gateway.New(indexer.NewEngine())
		defer gw.Close()
		r := &stubReloader{gw: gw, records: catalog()[:1]}
		mux := http.NewServeMux()
		New(gw, WithReloader(r)).Register(mux)

		rec := do(t, mux, http.MethodPost, "/api/v1/datasets/reload?fresh=false", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[assembler.Result](t, rec).DatasetCount)
		assert.Equal(t, []bool{false}, r.fresh)

		rec = do(t, mux, http.MethodPost, "/api/v1/datasets/reload?fresh=maybe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWorkerFaultIsServiceUnavailable(t *testing.T) {
	gw := gateway.New(&faultyIndex{Engine: indexer.NewEngine()})
	defer gw.Close()
	agg := analytics.NewAggregator()
	mux := http.NewServeMux()
	New(gw, WithTracker(agg)).Register(mux)

	rec := do(t, mux, http.MethodGet, "/api/v1/datasets/search?q=a", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"search unavailable"}`, rec.Body.String())

	// Every later request fails the same way.
	rec = do(t, mux, http.MethodPost, "/api/v1/datasets/visibility/reset", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int64(1), agg.Stats().FailedSearches)
}

func TestWaitTimeout(t *testing.T) {
	idx := &faultyIndex{Engine: indexer.NewEngine(), release: make(chan struct{})}
	gw := gateway.New(idx)
	defer gw.Close()
	defer close(idx.release)
	mux := http.NewServeMux()
	New(gw, WithRequestTimeout(20*time.Millisecond)).Register(mux)

	rec := do(t, mux, http.MethodGet, "/api/v1/datasets/search?q=slow", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "request timeout", decode[proto.ErrorResponse](t, rec).Error)
}

func TestQueryEndpoints(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, h := newServer(t)
		rec := do(t, h, http.MethodGet, "/api/v1/queries", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	id := uuid.NewString()
	q := &stubQueries{
		saved:   query.SaveResult{State: query.SaveOK, Query: &query.Query{ID: id, Ver: 1}},
		deleted: query.DeleteResult{ID: id, Deleted: false, Dependents: []query.Dependent{{ID: "d", Name: "Dep"}}},
	}
	_, h := newServer(t, WithQueries(q))

	rec := do(t, h, http.MethodGet, "/api/v1/queries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]query.Query](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/queries/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, q.lastID)

	rec = do(t, h, http.MethodDelete, "/api/v1/queries/"+id+"?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.force)
	assert.False(t, decode[query.DeleteResult](t, rec).Deleted)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"name":"Q","definition":{"panels":[]}}`))
	req.Header.Set(UserHeader, "jdoe")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", q.lastID)
	assert.Equal(t, "jdoe", q.lastReq.Owner)
	assert.Equal(t, "Q", q.lastReq.Name)

	rec = do(t, h, http.MethodPut, "/api/v1/queries/"+id, `{"name":"Q"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, q.lastID)
	assert.Equal(t, "anonymous", q.lastReq.Owner)

	q.saved = query.SaveResult{State: query.SavePreflight, Preflight: query.Preflight{Errors: []string{"definition has no panels"}}}
	rec = do(t, h, http.MethodPost, "/api/v1/queries", `{"name":"Q"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"definition has no panels"}, decode[proto.PreflightResponse](t, rec).Errors)

	q.saved = query.SaveResult{State: query.SaveNotFound}
	rec = do(t, h, http.MethodPost, "/api/v1/queries", `{"name":"Q","universalId":"urn:leaf:query:x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	q.err = apperrors.ErrConflict
	rec = do(t, h, http.MethodPut, "/api/v1/queries/"+id, `{"name":"Q"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	q.err = apperrors.ErrInternal
	rec = do(t, h, http.MethodGet, "/api/v1/queries/"+id, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[proto.ErrorResponse](t, rec).Error)
}
