package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/emr/emr/internal/platform/apperr"
)

// Postgres SQLSTATE codes translated into error kinds.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// TranslateError maps driver errors onto apperr kinds. resource names the
// entity for the message. Errors without a mapping are returned unchanged.
func TranslateError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, resource)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s violates %s", apperr.ErrDuplicate, resource, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s is referenced by or references missing rows (%s)", apperr.ErrInvalidState, resource, pgErr.ConstraintName)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s violates %s", apperr.ErrValidation, resource, pgErr.ConstraintName)
	}
	return err
}
