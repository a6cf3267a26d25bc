package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
)

type memoryStore struct {
	mu         sync.Mutex
	byID       map[string]Query
	dependents map[string][]Dependent
	failWith   error
	initial    int
	upserts    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byID: map[string]Query{}, dependents: map[string][]Dependent{}}
}

func (s *memoryStore) List(context.Context) ([]Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Query{}
	for _, q := range s.byID {
		q.Definition = nil
		out = append(out, q)
	}
	return out, s.failWith
}

func (s *memoryStore) Get(_ context.Context, id string) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byID[id]
	if !ok {
		return Query{}, fmt.Errorf("getting query %s: %w", id, apperrors.ErrNotFound)
	}
	return q, nil
}

func (s *memoryStore) Delete(_ context.Context, id string, force bool) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return DeleteResult{}, apperrors.ErrNotFound
	}
	res := DeleteResult{ID: id, Dependents: s.dependents[id]}
	if len(res.Dependents) > 0 && !force {
		return res, nil
	}
	delete(s.byID, id)
	res.Deleted = true
	return res, nil
}

func (s *memoryStore) InitialSave(_ context.Context, q Query) (*Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial++
	if s.failWith != nil {
		return nil, s.failWith
	}
	q.Ver = 1
	s.byID[q.ID] = q
	return &q, nil
}

func (s *memoryStore) UpsertSave(_ context.Context, q Query, ver *int) (*Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for id, cur := range s.byID {
		if cur.UniversalID != q.UniversalID {
			continue
		}
		if ver != nil && *ver != cur.Ver {
			return nil, errConcurrency
		}
		q.ID = id
		q.Ver = cur.Ver + 1
		s.byID[id] = q
		return &q, nil
	}
	return nil, nil
}

type stubValidator struct {
	report Preflight
	err    error
}

func (v stubValidator) Preflight(context.Context, SaveRequest) (Preflight, error) {
	return v.report, v.err
}

var passing = stubValidator{report: Preflight{Passed: true}}

func validRequest() SaveRequest {
	return SaveRequest{
		Name:       "Diabetics over 65",
		Category:   "Cohorts",
		Definition: json.RawMessage(`{"panels":[{"datasets":["a"]}]}`),
		Owner:      "jdoe",
	}
}

func TestSaveInitialAssignsUniversalID(t *testing.T) {
	store := newMemoryStore()
	m := NewManager(store, passing)

	res, err := m.Save(context.Background(), "", validRequest())
	require.NoError(t, err)
	require.Equal(t, SaveOK, res.State)
	require.NotNil(t, res.Query)

	_, err = uuid.Parse(res.Query.ID)
	require.NoError(t, err)
	assert.Equal(t, UniversalPrefix+res.Query.ID, res.Query.UniversalID)
	assert.Equal(t, 1, res.Query.Ver)
	assert.Equal(t, 1, store.initial)
	assert.Zero(t, store.upserts)
}

func TestSaveUpsertWithVersion(t *testing.T) {
	store := newMemoryStore()
	m := NewManager(store, passing)
	ctx := context.Background()

	first, err := m.Save(ctx, "", validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.UniversalID = first.Query.UniversalID
	req.Name = "Renamed"
	ver := 1
	req.Ver = &ver

	second, err := m.Save(ctx, first.Query.ID, req)
	require.NoError(t, err)
	assert.Equal(t, SaveOK, second.State)
	assert.Equal(t, 2, second.Query.Ver)
	assert.Equal(t, "Renamed", second.Query.Name)

	// Saving again with the stale version conflicts.
	_, err = m.Save(ctx, first.Query.ID, req)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSaveUpsertUnknownUniversalID(t *testing.T) {
	m := NewManager(newMemoryStore(), passing)
	req := validRequest()
	req.UniversalID = UniversalPrefix + uuid.NewString()

	res, err := m.Save(context.Background(), uuid.NewString(), req)
	require.NoError(t, err)
	assert.Equal(t, SaveNotFound, res.State)
	assert.Nil(t, res.Query)
}

func TestSavePreflightFailureDoesNotStore(t *testing.T) {
	store := newMemoryStore()
	v := stubValidator{report: Preflight{Passed: false, Errors: []string{"panel 0 references unknown dataset \"x\""}}}
	m := NewManager(store, v)

	res, err := m.Save(context.Background(), "", validRequest())
	require.NoError(t, err)
	assert.Equal(t, SavePreflight, res.State)
	assert.Equal(t, v.report.Errors, res.Preflight.Errors)
	assert.Zero(t, store.initial)
	assert.Empty(t, store.byID)
}

func TestSaveErrors(t *testing.T) {
	t.Run("validator error", func(t *testing.T) {
		boom := errors.New("catalog unavailable")
		m := NewManager(newMemoryStore(), stubValidator{err: boom})
		_, err := m.Save(context.Background(), "", validRequest())
		assert.ErrorIs(t, err, boom)
	})
	t.Run("bad id", func(t *testing.T) {
		m := NewManager(newMemoryStore(), passing)
		_, err := m.Save(context.Background(), "not-a-uuid", validRequest())
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
	t.Run("store error", func(t *testing.T) {
		store := newMemoryStore()
		store.failWith = fmt.Errorf("inserting: %w", apperrors.ErrConflict)
		m := NewManager(store, passing)
		_, err := m.Save(context.Background(), "", validRequest())
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m := NewManager(newMemoryStore(), passing)
		_, err := m.Save(ctx, "", validRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetAndList(t *testing.T) {
	store := newMemoryStore()
	m := NewManager(store, passing)
	ctx := context.Background()

	saved, err := m.Save(ctx, "", validRequest())
	require.NoError(t, err)

	got, err := m.Get(ctx, saved.Query.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"panels":[{"datasets":["a"]}]}`, string(got.Definition))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Definition)

	_, err = m.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = m.Get(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDeleteRespectsDependents(t *testing.T) {
	store := newMemoryStore()
	m := NewManager(store, passing)
	ctx := context.Background()

	saved, err := m.Save(ctx, "", validRequest())
	require.NoError(t, err)
	id := saved.Query.ID
	store.dependents[id] = []Dependent{{ID: uuid.NewString(), Name: "Uses diabetics"}}

	res, err := m.Delete(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Len(t, res.Dependents, 1)
	assert.Contains(t, store.byID, id)

	res, err = m.Delete(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.NotContains(t, store.byID, id)

	_, err = m.Delete(ctx, id, true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDefinitionValidator(t *testing.T) {
	known := map[string]bool{"a": true, "b": true}
	v := DefinitionValidator{Datasets: func(id string) bool { return known[id] }, MaxName: 20}

	tests := []struct {
		name   string
		req    SaveRequest
		passed bool
		errs   int
	}{
		{"valid", validRequest(), true, 0},
		{"blank name", SaveRequest{Name: "  ", Definition: json.RawMessage(`{"panels":[{}]}`)}, false, 1},
		{"long name", SaveRequest{Name: "a name that is far too long", Definition: json.RawMessage(`{"panels":[{}]}`)}, false, 1},
		{"missing definition", SaveRequest{Name: "x"}, false, 1},
		{"not an object", SaveRequest{Name: "x", Definition: json.RawMessage(`[1,2]`)}, false, 1},
		{"no panels", SaveRequest{Name: "x", Definition: json.RawMessage(`{"panels":[]}`)}, false, 1},
		{"unknown datasets", SaveRequest{Name: "x", Definition: json.RawMessage(`{"panels":[{"datasets":["a","z"]},{"datasets":["y"]}]}`)}, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Preflight(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, got.Passed)
			assert.Len(t, got.Errors, tt.errs)
		})
	}
}

func TestSaveStateJSON(t *testing.T) {
	data, err := json.Marshal(SaveResult{State: SavePreflight, Preflight: Preflight{Errors: []string{"x"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"preflight","preflight":{"passed":false,"errors":["x"]}}`, string(data))
}
