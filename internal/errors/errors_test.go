package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrapf(cause, ErrCodeUnavailable, "write %s", "masters/a")
	require.Error(t, err)
	assert.Equal(t, "write masters/a: disk full", err.Error())
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("admission: %w", err)
	assert.True(t, IsUnavailable(wrapped))
	assert.Equal(t, ErrCodeUnavailable, GetCode(wrapped))

	assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "x"))
	assert.Empty(t, GetCode(cause))
}

func TestValidationField(t *testing.T) {
	err := ValidationField("quality", "must be between 1 and 100")
	assert.True(t, IsValidation(err))
	assert.Equal(t, "quality", GetField(err))
	assert.Equal(t, "must be between 1 and 100", err.Error())
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  ErrorCode
		field string
	}{
		{name: "deadline", err: context.DeadlineExceeded, code: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, code: ErrCodeCanceled},
		{name: "no rows", err: fmt.Errorf("get: %w", pgx.ErrNoRows), code: ErrCodeNotFound},
		{
			name:  "unique from detail",
			err:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, Detail: "Key (job_id, format_key)=(a, b) already exists."},
			code:  ErrCodeConflict,
			field: "job_id, format_key",
		},
		{
			name:  "fk column",
			err:   &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ColumnName: "job_id"},
			code:  ErrCodeForeignKey,
			field: "job_id",
		},
		{name: "check", err: &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "quality"}, code: ErrCodeValidation, field: "quality"},
		{name: "deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, code: ErrCodeUnavailable},
		{name: "other pg", err: &pgconn.PgError{Code: pgerrcode.DiskFull}, code: ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapDBError(tt.err)
			assert.Equal(t, tt.code, GetCode(got))
			assert.Equal(t, tt.field, GetField(got))
			require.ErrorIs(t, got, tt.err)
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, MapDBError(plain))
	assert.NoError(t, MapDBError(nil))
}
