package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindRetryable(t *testing.T) {
	require.True(t, KindPluginTimeout.Retryable())
	require.True(t, KindStoreTransient.Retryable())
	require.False(t, KindValidation.Retryable())
	require.True(t, KindStoreCorruption.Fatal())
	require.False(t, KindValidation.Fatal())
}

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStoreTransient, "store.PutBlob", "write failed", cause)
	require.True(t, Is(err, KindStoreTransient))
	require.False(t, Is(err, KindValidation))
	require.ErrorIs(t, err, cause)
}
