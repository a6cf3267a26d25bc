package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
)

func TestTranslateError(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, apperrors.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scanning: %w", sql.ErrNoRows), apperrors.ErrNotFound},
		{"unique", &pq.Error{Code: "23505"}, apperrors.ErrConflict},
		{"serialization", &pq.Error{Code: "40001"}, apperrors.ErrConflict},
		{"foreign key", &pq.Error{Code: "23503"}, apperrors.ErrInvalidInput},
		{"bad uuid", &pq.Error{Code: "22P02"}, apperrors.ErrInvalidInput},
		{"raise concurrency", &pq.Error{Code: "P0001", Message: "Concurrency violation on query 1"}, apperrors.ErrConflict},
		{"raise not found", &pq.Error{Code: "P0001", Message: "Query not found"}, apperrors.ErrNotFound},
		{"raise unauthorized", &pq.Error{Code: "P0001", Message: "Unauthorized"}, apperrors.ErrUnauthorized},
		{"raise other", &pq.Error{Code: "P0001", Message: "bad definition"}, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranslateError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Same(t, plain, TranslateError(plain))
	assert.Nil(t, TranslateError(nil))

	other := &pq.Error{Code: "53300"}
	assert.Equal(t, error(other), TranslateError(other))
}
