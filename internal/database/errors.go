package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL error codes the journal can hit
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
)

func pgError(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueConstraintError reports a unique violation, such as a second
// settlement row for the same game
func IsUniqueConstraintError(err error) bool {
	code, _ := pgError(err)
	return code == codeUniqueViolation
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// JournalErrorMessage describes a settlement journal failure for API callers
// without exposing SQL
func JournalErrorMessage(err error) string {
	if IsNotFoundError(err) {
		return "Settlement not found"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Settlement journal timed out"
	}

	code, constraint := pgError(err)
	switch code {
	case codeUniqueViolation:
		if strings.Contains(constraint, "position") {
			return "Settlement transfers were written twice"
		}
		return "Settlement already recorded for this game"
	case codeForeignKeyViolation:
		return "Settlement transfer has no settlement record"
	case codeNotNullViolation:
		return "Settlement is missing a required field"
	}
	return "Failed to record settlement"
}
