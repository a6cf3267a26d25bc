package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/logger"
)

// Manager runs saved-query operations against a Store, validating queries
// before they are written.
type Manager struct {
	store     Store
	validator Validator
}

func NewManager(store Store, validator Validator) *Manager {
	return &Manager{
		store:     store,
		validator: validator,
	}
}

func (m *Manager) List(ctx context.Context) ([]Query, error) {
	logger.FromContext(ctx).Info("listing queries")
	return m.store.List(ctx)
}

func (m *Manager) Get(ctx context.Context, id string) (Query, error) {
	log := logger.FromContext(ctx)
	log.Info("getting query", "query_id", id)
	if err := checkID(id); err != nil {
		return Query{}, err
	}
	q, err := m.store.Get(ctx, id)
	if err != nil {
		log.Error("could not get query", "query_id", id, "error", err)
		return Query{}, err
	}
	return q, nil
}

// Delete removes a query. Unless force is set, a query other queries depend
// on is left in place and its dependents are reported.
func (m *Manager) Delete(ctx context.Context, id string, force bool) (DeleteResult, error) {
	log := logger.FromContext(ctx)
	log.Info("deleting query", "query_id", id, "force", force)
	if err := checkID(id); err != nil {
		return DeleteResult{}, err
	}
	res, err := m.store.Delete(ctx, id, force)
	if err != nil {
		log.Error("could not delete query", "query_id", id, "error", err)
		return DeleteResult{}, err
	}
	if !res.Deleted {
		log.Info("query has dependents, not deleted", "query_id", id, "dependents", len(res.Dependents))
	}
	return res, nil
}

// Save validates and stores a query under id, or under a fresh id when id is
// empty. A failed preflight is reported in the result, not as an error.
func (m *Manager) Save(ctx context.Context, id string, req SaveRequest) (SaveResult, error) {
	log := logger.FromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	} else if err := checkID(id); err != nil {
		return SaveResult{}, err
	}
	log.Info("starting query save", "query_id", id)

	preflight, err := m.validator.Preflight(ctx, req)
	if err != nil {
		return SaveResult{}, fmt.Errorf("preflight for query %s: %w", id, err)
	}
	if !preflight.Passed {
		log.Info("query failed preflight", "query_id", id, "errors", preflight.Errors)
		return SaveResult{State: SavePreflight, Preflight: preflight}, nil
	}
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}

	toSave := Query{
		ID:          id,
		UniversalID: req.UniversalID,
		Name:        req.Name,
		Category:    req.Category,
		Definition:  req.Definition,
		Owner:       req.Owner,
	}
	log.Info("saving query", "query_id", id, "universal_id", toSave.UniversalID, "ver", req.Ver)

	var saved *Query
	if toSave.UniversalID == "" {
		toSave.UniversalID = UniversalPrefix + id
		saved, err = m.store.InitialSave(ctx, toSave)
	} else {
		saved, err = m.store.UpsertSave(ctx, toSave, req.Ver)
	}
	if err != nil {
		log.Error("could not save query", "query_id", id, "universal_id", toSave.UniversalID, "error", err)
		return SaveResult{}, err
	}
	if saved == nil {
		return SaveResult{State: SaveNotFound, Preflight: preflight}, nil
	}
	return SaveResult{State: SaveOK, Preflight: preflight, Query: saved}, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: query id %q is not a uuid", apperrors.ErrInvalidInput, id)
	}
	return nil
}
