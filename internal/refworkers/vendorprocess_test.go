package refworkers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecProcessLifecycle(t *testing.T) {
	p := NewExecProcess("sleep", "2")

	require.False(t, p.Alive(), "a process never started is never alive")
	require.NoError(t, p.Start())
	require.True(t, p.Alive())

	require.NoError(t, p.Stop())
	require.Eventually(t, func() bool { return !p.Alive() }, time.Second, time.Millisecond)
}

func TestExecProcessStartReturnsErrorForMissingBinary(t *testing.T) {
	p := NewExecProcess("/no/such/binary-cardbus-test")
	require.Error(t, p.Start())
}
