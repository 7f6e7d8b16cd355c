package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorClassification(t *testing.T) {
	t.Parallel()

	netErr := NewNetworkError("http://example.org/p", 503, errors.New("service unavailable"))
	require.True(t, errors.Is(netErr, ErrNetwork))
	require.False(t, errors.Is(netErr, ErrAborted))
	require.Contains(t, netErr.Error(), "status 503")

	abortErr := NewAbortedError("http://example.org/p", context.Canceled)
	require.True(t, errors.Is(abortErr, ErrAborted))
	require.False(t, errors.Is(abortErr, ErrNetwork))
}
