package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartAssignsDenseIndices(t *testing.T) {
	var reg ProcessRegistry

	p0, err := reg.Start([]string{"true"}, true)
	require.NoError(t, err)
	require.Equal(t, 0, p0.Index)

	p1, err := reg.Start([]string{"true"}, false)
	require.NoError(t, err)
	require.Equal(t, 1, p1.Index)

	require.Equal(t, 2, reg.Len())
}

func TestPollReportsExitCodeAfterCompletion(t *testing.T) {
	var reg ProcessRegistry
	pi, err := reg.Start([]string{"sh", "-c", "exit 7"}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exited, _ := pi.Poll()
		return exited
	}, 2*time.Second, 5*time.Millisecond)

	exited, code := pi.Poll()
	require.True(t, exited)
	require.Equal(t, 7, code)
}

func TestAtOutOfRangeReturnsFalse(t *testing.T) {
	var reg ProcessRegistry
	_, err := reg.Start([]string{"true"}, true)
	require.NoError(t, err)

	_, ok := reg.At(5)
	require.False(t, ok)
}
