package workerclient

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitedReaderThrottles(t *testing.T) {
	data := strings.Repeat("x", 250)
	r := NewRateLimitedReader(strings.NewReader(data), 100)

	var slept time.Duration
	r.sleep = func(d time.Duration) { slept += d }

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, string(out))
	require.Greater(t, slept, time.Duration(0))
}

func TestRateLimitedReaderPassthroughWhenUnbounded(t *testing.T) {
	r := NewRateLimitedReader(strings.NewReader("hello"), 0)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}
