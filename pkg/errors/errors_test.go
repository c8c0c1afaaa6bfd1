package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentityForErrorsIs(t *testing.T) {
	err := Clone(ErrInvalidState, "document already issued")
	require.True(t, errors.Is(err, ErrInvalidState))
	require.False(t, errors.Is(err, ErrPreconditionFailed))
	require.Equal(t, "document already issued", err.Error())
}

func TestWrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("duplicate key")
	err := Wrap(cause, ErrConflict.Code, ErrConflict.Status, "record already exists")
	require.True(t, errors.Is(err, ErrConflict))
	require.True(t, errors.Is(err, cause))
	require.Equal(t, "record already exists: duplicate key", err.Error())
}

func TestFromErrorNormalises(t *testing.T) {
	require.Nil(t, FromError(nil))

	plain := FromError(fmt.Errorf("boom"))
	require.Equal(t, ErrInternal.Code, plain.Code)

	wrapped := fmt.Errorf("outer: %w", Clone(ErrAmbiguousMerge, "two unassigned records"))
	require.Equal(t, ErrAmbiguousMerge.Code, FromError(wrapped).Code)
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, "", CodeOf(nil))
	require.Equal(t, "", CodeOf(fmt.Errorf("plain")))
	require.Equal(t, ErrNotFound.Code, CodeOf(fmt.Errorf("load: %w", Clone(ErrNotFound, "year not found"))))
}
