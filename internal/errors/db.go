package errors

import (
	"context"
	"errors"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// "Key (job_id, format_key)=(...) already exists."
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError converts driver errors into AppErrors. Unrecognised errors are returned as is.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "database operation timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "database operation canceled")
	case errors.Is(err, pgx.ErrNoRows):
		return Wrap(err, ErrCodeNotFound, "resource not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{Code: ErrCodeConflict, Message: "value already exists", Field: violatedField(pgErr), Cause: err}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{Code: ErrCodeForeignKey, Message: "referenced record does not exist", Field: violatedField(pgErr), Cause: err}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "invalid value", Field: pgErr.ColumnName, Cause: err}
	case pgerrcode.QueryCanceled, pgerrcode.LockNotAvailable:
		return Wrap(err, ErrCodeTimeout, "database operation timed out")
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected,
		pgerrcode.TooManyConnections, pgerrcode.CannotConnectNow, pgerrcode.AdminShutdown:
		return Wrap(err, ErrCodeUnavailable, "database temporarily unavailable")
	}
	return Wrap(err, ErrCodeInternal, "database error")
}

func violatedField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}
