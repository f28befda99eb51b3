package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesLinesInOrder(t *testing.T) {
	var lines []string
	var kinds []bool

	result, err := Run(context.Background(), Options{
		Command: []string{"sh", "-c", "echo one; echo two; echo three 1>&2"},
		LineCallback: func(line string, isStdout bool) {
			lines = append(lines, line)
			kinds = append(kinds, isStdout)
		},
	})
	require.NoError(t, err)
	require.NoError(t, result.Check())
	assert.ElementsMatch(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, "one\ntwo", result.Stdout)
	assert.True(t, result.WasOutputAlreadyStreamed)
}

func TestRun_NonZeroExitChecksAsError(t *testing.T) {
	result, err := Run(context.Background(), Options{Command: []string{"sh", "-c", "exit 7"}})
	require.NoError(t, err)
	assert.Equal(t, 7, result.ReturnCode)

	checkErr := result.Check()
	require.Error(t, checkErr)
	var runErr *RunError
	require.ErrorAs(t, checkErr, &runErr)
	assert.Equal(t, 7, runErr.ReturnCode)
}

func TestRun_TimeoutEscalates(t *testing.T) {
	result, err := Run(context.Background(), Options{
		Command:         []string{"sh", "-c", "trap '' TERM; sleep 5"},
		Timeout:         50 * time.Millisecond,
		ShutdownTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.IsTimedOut)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, result.Check(), &timeoutErr)
}

func TestRun_ShutdownEventTerminatesChild(t *testing.T) {
	shutdown := NewShutdownEvent()
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		shutdown.Set()
		close(done)
	}()

	result, err := Run(context.Background(), Options{
		Command:         []string{"sh", "-c", "sleep 5"},
		ShutdownEvent:   shutdown,
		ShutdownTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	<-done
	assert.NotEqual(t, 0, result.ReturnCode)
}

func TestSetupError_OnMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Options{Command: []string{"/nonexistent/binary/for-sure"}})
	require.Error(t, err)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
}
