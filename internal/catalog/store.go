// Package catalog loads the dataset catalog that the search index is built
// from: PostgreSQL is the source of truth, Redis holds a compressed
// snapshot, and Kafka notifications trigger reloads.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/pkg/postgres"
	"github.com/jtlresearchit/leaf/pkg/resilience"
)

// Source returns the full catalog.
type Source interface {
	Load(ctx context.Context) ([]dataset.Record, error)
}

const selectCatalog = `
SELECT id, name, COALESCE(category, ''), shape, COALESCE(tags, '{}'), description
FROM app.dataset_query
ORDER BY id`

const upsertRecord = `
INSERT INTO app.dataset_query (id, name, category, shape, tags, description)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	shape = EXCLUDED.shape,
	tags = EXCLUDED.tags,
	description = EXCLUDED.description`

// PostgresStore reads the catalog from app.dataset_query.
type PostgresStore struct {
	client  *postgres.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewPostgresStore(client *postgres.Client, breaker *resilience.CircuitBreaker) *PostgresStore {
	return &PostgresStore{
		client:  client,
		breaker: breaker,
		logger:  slog.Default().With("component", "catalog-store"),
	}
}

func (s *PostgresStore) Load(ctx context.Context) ([]dataset.Record, error) {
	var records []dataset.Record
	err := s.guard(func() error {
		rows, err := s.client.DB.QueryContext(ctx, selectCatalog)
		if err != nil {
			return postgres.TranslateError(err)
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var (
				r    dataset.Record
				desc sql.NullString
			)
			if err := rows.Scan(&r.ID, &r.Name, &r.Category, &r.Shape, pq.Array(&r.Tags), &desc); err != nil {
				return fmt.Errorf("scanning catalog row: %w", err)
			}
			r.Description = desc.String
			records = append(records, r)
		}
		return postgres.TranslateError(rows.Err())
	})
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	s.logger.Debug("catalog loaded from postgres", "datasets", len(records))
	return records, nil
}

// Upsert writes records in one transaction, replacing existing rows with the
// same id.
func (s *PostgresStore) Upsert(ctx context.Context, records []dataset.Record) error {
	return s.guard(func() error {
		return s.client.InTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, upsertRecord)
			if err != nil {
				return postgres.TranslateError(err)
			}
			defer stmt.Close()
			for _, r := range records {
				var desc sql.NullString
				if r.Description != "" {
					desc = sql.NullString{String: r.Description, Valid: true}
				}
				tags := r.Tags
				if tags == nil {
					tags = []string{}
				}
				if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Category, int(r.Shape), pq.Array(tags), desc); err != nil {
					return fmt.Errorf("upserting dataset %s: %w", r.ID, postgres.TranslateError(err))
				}
			}
			return nil
		})
	})
}

func (s *PostgresStore) guard(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}
