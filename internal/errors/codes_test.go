package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsCodeSeesWrappedErrors(t *testing.T) {
	base := NotFound("joke 7 not found")

	assert.True(t, IsCode(base, ErrCodeNotFound))
	assert.True(t, IsCode(fmt.Errorf("fetch failed: %w", base), ErrCodeNotFound))
	assert.True(t, IsCode(pkgerrors.Wrap(base, "fetch failed"), ErrCodeNotFound))

	assert.False(t, IsCode(base, ErrCodeInternal))
	assert.False(t, IsCode(fmt.Errorf("plain failure"), ErrCodeNotFound))
	assert.False(t, IsCode(nil, ErrCodeNotFound))
}

func TestGetCodeFromError(t *testing.T) {
	base := Internal("backend exploded", nil)

	assert.Equal(t, ErrCodeInternal, GetCodeFromError(base, ErrCodeInvalidArgument))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(pkgerrors.Wrap(base, "while searching"), ErrCodeInvalidArgument))
	assert.Equal(t, ErrCodeInvalidArgument, GetCodeFromError(fmt.Errorf("plain failure"), ErrCodeInvalidArgument))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	wrapped := ServiceUnavailable("store unreachable", cause)

	assert.ErrorIs(t, wrapped, cause)
}
