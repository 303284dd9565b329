package storeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := NotFound("GetDevice", "device 1 not found")
	require.True(t, Is(err, KindNotFound))
	require.False(t, Is(err, KindConflict))
}

func TestIs_FalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("boom"), KindIO))
}

func TestIO_UnwrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("WriteSnapshot", cause)
	require.True(t, Is(err, KindIO))
	require.ErrorIs(t, err, cause)
}

func TestError_MessageIncludesOpAndCause(t *testing.T) {
	err := IO("WriteSnapshot", errors.New("disk full"))
	require.Contains(t, err.Error(), "WriteSnapshot")
	require.Contains(t, err.Error(), "disk full")
}
