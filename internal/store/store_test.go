package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"alex/internal/apperr"
)

func TestClassifyDeadlineIsTransient(t *testing.T) {
	err := classify(context.DeadlineExceeded)
	assert.Equal(t, apperr.TransientDB, apperr.KindOf(err))
}

func TestClassifyGenericIsFatal(t *testing.T) {
	err := classify(errors.New("boom"))
	assert.Equal(t, apperr.FatalDB, apperr.KindOf(err))
}

func TestClassifyPgConnectionFailureIsTransient(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "08006"})
	assert.Equal(t, apperr.TransientDB, apperr.KindOf(err))
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}
