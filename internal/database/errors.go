package database

import (
	"errors"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes for constraint violations
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// ClassifyError converts constraint violations reported by PostgreSQL into
// IntegrityError. Any other error, including nil, is returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var integrity *apierrors.IntegrityError
	if errors.As(err, &integrity) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation, codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
		return &apierrors.IntegrityError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation on the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
