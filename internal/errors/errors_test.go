package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorChain(t *testing.T) {
	root := errors.New("disk full")
	err := NewPersistenceError("save project", root)

	assert.Equal(t, "save project: disk full", err.Error())
	assert.Equal(t, "PERSISTENCE_ERROR", err.Code)
	assert.ErrorIs(t, err, root)
	assert.True(t, IsPersistenceError(fmt.Errorf("turn: %w", err)))
	assert.False(t, IsNotFoundError(err))
}

func TestWrapErrorKeepsType(t *testing.T) {
	inner := NewNotFoundError("project missing", nil)
	wrapped := WrapError(inner, "open", ErrorTypeError)

	assert.True(t, IsNotFoundError(wrapped))
	assert.Equal(t, "open: project missing", wrapped.Error())

	plain := WrapError(errors.New("boom"), "open", ErrorTypeBackend)
	assert.Equal(t, ErrorTypeBackend, TypeOf(plain))
	assert.Nil(t, WrapError(nil, "noop", ErrorTypeError))
}

func TestTypeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("x")))
	assert.True(t, IsConflictError(NewConflictError("busy", nil)))
	assert.True(t, IsTimeoutError(NewTimeoutError("slow", nil)))
	assert.True(t, IsValidationError(NewValidationError("bad", nil)))
	assert.True(t, IsUnauthorizedError(NewUnauthorizedError("no key", nil)))
}
