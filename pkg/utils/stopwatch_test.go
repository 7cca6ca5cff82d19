package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopwatch(t *testing.T) {
	sw := NewStopwatch()
	require.Empty(t, sw.Splits())
	require.Zero(t, sw.Elapsed())

	time.Sleep(5 * time.Millisecond)
	sw.Mark("checks")
	sw.Mark("allocate")

	splits := sw.Splits()
	require.Len(t, splits, 2)
	require.Equal(t, "checks", splits[0].Phase)
	require.GreaterOrEqual(t, splits[0].Duration, 5*time.Millisecond)
	require.Equal(t, "allocate", splits[1].Phase)
	require.Equal(t, splits[0].Duration+splits[1].Duration, sw.Elapsed())
}
