package ferrors_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
)

func TestNewHasNoSource(t *testing.T) {
	e := ferrors.New(ferrors.MissingOutput, "no such file")
	require.Equal(t, ferrors.MissingOutput, e.Kind)
	require.Equal(t, "", e.Source)
	require.Equal(t, "no such file", e.Details)
}

func TestFromOpAttachesSource(t *testing.T) {
	e := ferrors.FromOp(ferrors.ExceptionRaised, "op-hash", "boom")
	require.Equal(t, "op-hash", e.Source)
	require.Contains(t, e.String(), "op-hash")
	require.Contains(t, e.String(), "boom")
}

func TestUnwrapErrorCarriesOriginal(t *testing.T) {
	inner := ferrors.New(ferrors.NotFound, "gone")
	wrapped := &ferrors.UnwrapError{Err: inner}

	require.Contains(t, wrapped.Error(), "not_found")
	require.Equal(t, inner, wrapped.Unwrap())
}
