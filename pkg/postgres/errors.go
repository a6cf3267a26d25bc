package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
)

// SQLSTATE codes the store layer reacts to.
const (
	codeUniqueViolation      = pq.ErrorCode("23505")
	codeForeignKeyViolation  = pq.ErrorCode("23503")
	codeCheckViolation       = pq.ErrorCode("23514")
	codeNotNullViolation     = pq.ErrorCode("23502")
	codeSerializationFailure = pq.ErrorCode("40001")
	codeRaiseException       = pq.ErrorCode("P0001")
	codeInvalidTextRep       = pq.ErrorCode("22P02")
)

// TranslateError maps driver errors onto the application sentinels, keeping
// the original error in the chain. Errors it does not recognize are returned
// unchanged.
//
// Stored procedures signal problems with RAISE EXCEPTION; the message text
// decides the sentinel ("not found", "concurrency", "unauthorized").
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case codeUniqueViolation, codeSerializationFailure:
		return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
	case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation, codeInvalidTextRep:
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	case codeRaiseException:
		msg := strings.ToLower(pqErr.Message)
		switch {
		case strings.Contains(msg, "concurrency"), strings.Contains(msg, "version"):
			return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
		case strings.Contains(msg, "not found"):
			return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
		case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not permitted"):
			return fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	return err
}
