package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/postgres"
)

var errConcurrency = fmt.Errorf("%w: query was modified concurrently", apperrors.ErrConflict)

// Store persists saved queries. Implementations return errors already
// translated onto the application sentinels.
type Store interface {
	List(ctx context.Context) ([]Query, error)
	Get(ctx context.Context, id string) (Query, error)
	Delete(ctx context.Context, id string, force bool) (DeleteResult, error)
	// InitialSave inserts a query that has never been saved.
	InitialSave(ctx context.Context, q Query) (*Query, error)
	// UpsertSave replaces the query saved under q.UniversalID. It returns nil
	// when no such query exists.
	UpsertSave(ctx context.Context, q Query, ver *int) (*Query, error)
}

const (
	queryColumns = `id, universal_id, name, COALESCE(category, ''), definition, ver, owner, created, updated`

	selectQueries = `
SELECT id, universal_id, name, COALESCE(category, ''), ver, owner, created, updated
FROM app.saved_query
ORDER BY updated DESC`

	selectQuery = `SELECT ` + queryColumns + ` FROM app.saved_query WHERE id = $1`

	selectDependents = `
SELECT d.id, d.name
FROM app.query_dependency qd
JOIN app.saved_query d ON d.id = qd.dependent_id
WHERE qd.query_id = $1
ORDER BY d.name`

	insertQuery = `
INSERT INTO app.saved_query (id, universal_id, name, category, definition, ver, owner, created, updated)
VALUES ($1, $2, $3, $4, $5, 1, $6, now(), now())
RETURNING ` + queryColumns

	updateQuery = `
UPDATE app.saved_query
SET name = $2, category = $3, definition = $4, ver = ver + 1, updated = now()
WHERE universal_id = $1 AND ($5::int IS NULL OR ver = $5)
RETURNING ` + queryColumns
)

// PostgresStore keeps saved queries in app.saved_query.
type PostgresStore struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{
		client: client,
		logger: slog.Default().With("component", "query-store"),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuery(row scanner) (Query, error) {
	var (
		q   Query
		def []byte
	)
	if err := row.Scan(&q.ID, &q.UniversalID, &q.Name, &q.Category, &def, &q.Ver, &q.Owner, &q.Created, &q.Updated); err != nil {
		return Query{}, err
	}
	q.Definition = def
	return q, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Query, error) {
	rows, err := s.client.DB.QueryContext(ctx, selectQueries)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", postgres.TranslateError(err))
	}
	defer rows.Close()

	queries := []Query{}
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.ID, &q.UniversalID, &q.Name, &q.Category, &q.Ver, &q.Owner, &q.Created, &q.Updated); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing queries: %w", postgres.TranslateError(err))
	}
	return queries, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Query, error) {
	q, err := scanQuery(s.client.DB.QueryRowContext(ctx, selectQuery, id))
	if err != nil {
		return Query{}, fmt.Errorf("getting query %s: %w", id, postgres.TranslateError(err))
	}
	return q, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string, force bool) (DeleteResult, error) {
	result := DeleteResult{ID: id, Dependents: []Dependent{}}
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM app.saved_query WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			return postgres.TranslateError(err)
		}

		rows, err := tx.QueryContext(ctx, selectDependents, id)
		if err != nil {
			return postgres.TranslateError(err)
		}
		for rows.Next() {
			var d Dependent
			if err := rows.Scan(&d.ID, &d.Name); err != nil {
				rows.Close()
				return fmt.Errorf("scanning dependent row: %w", err)
			}
			result.Dependents = append(result.Dependents, d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return postgres.TranslateError(err)
		}

		if len(result.Dependents) > 0 && !force {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM app.query_dependency WHERE query_id = $1 OR dependent_id = $1`, id); err != nil {
			return postgres.TranslateError(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM app.saved_query WHERE id = $1`, id); err != nil {
			return postgres.TranslateError(err)
		}
		result.Deleted = true
		return nil
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("deleting query %s: %w", id, err)
	}
	return result, nil
}

func (s *PostgresStore) InitialSave(ctx context.Context, q Query) (*Query, error) {
	saved, err := scanQuery(s.client.DB.QueryRowContext(ctx, insertQuery,
		q.ID, q.UniversalID, q.Name, nullable(q.Category), string(q.Definition), q.Owner))
	if err != nil {
		return nil, fmt.Errorf("inserting query %s: %w", q.ID, postgres.TranslateError(err))
	}
	return &saved, nil
}

func (s *PostgresStore) UpsertSave(ctx context.Context, q Query, ver *int) (*Query, error) {
	var expected sql.NullInt64
	if ver != nil {
		expected = sql.NullInt64{Int64: int64(*ver), Valid: true}
	}

	var saved *Query
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		row, err := scanQuery(tx.QueryRowContext(ctx, updateQuery,
			q.UniversalID, q.Name, nullable(q.Category), string(q.Definition), expected))
		if err == nil {
			saved = &row
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return postgres.TranslateError(err)
		}

		// Nothing updated: either the query is gone or its version moved on.
		var current int
		err = tx.QueryRowContext(ctx, `SELECT ver FROM app.saved_query WHERE universal_id = $1`, q.UniversalID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return postgres.TranslateError(err)
		}
		return fmt.Errorf("query %s is at version %d, expected %d: %w",
			q.UniversalID, current, expected.Int64, errConcurrency)
	})
	if err != nil {
		return nil, fmt.Errorf("updating query %s: %w", q.UniversalID, err)
	}
	if saved == nil {
		s.logger.Debug("upsert matched no query", "universal_id", q.UniversalID)
	}
	return saved, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
