package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateBackoff(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute

	require.Equal(t, time.Second, CalculateBackoff(0, base, max))
	require.Equal(t, 2*time.Second, CalculateBackoff(1, base, max))
	require.Equal(t, 4*time.Second, CalculateBackoff(2, base, max))
	require.Equal(t, 64*time.Second, CalculateBackoff(6, base, max))

	// 2^9 = 512s would exceed the 300s cap.
	require.Equal(t, max, CalculateBackoff(9, base, max))
	require.Equal(t, max, CalculateBackoff(100, base, max), "large attempts stay capped, no overflow")

	require.Equal(t, base, CalculateBackoff(-3, base, max), "negative attempts treated as zero")
}
