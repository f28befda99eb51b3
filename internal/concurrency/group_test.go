package concurrency

import (
	"context"
	"testing"
	"time"

	"muster/internal/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_RunToCompletion(t *testing.T) {
	g := New()
	defer g.Close()

	result, err := g.RunToCompletion(context.Background(), process.Options{
		Command: []string{"sh", "-c", "echo hi"},
	})
	require.NoError(t, err)
	require.NoError(t, result.Check())
}

func TestGroup_RunBackgroundAndStream(t *testing.T) {
	g := New()
	defer g.Close()

	rp := g.RunBackground(context.Background(), process.Options{
		Command: []string{"sh", "-c", "echo a; echo b"},
	})

	var got []string
	for line := range rp.StreamStdoutAndStderr() {
		got = append(got, line.Text)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, got)

	result, err := rp.WaitAndRead(time.Second)
	require.NoError(t, err)
	require.NoError(t, result.Check())
}

func TestGroup_CloseShutsDownChildren(t *testing.T) {
	g := New()
	rp := g.RunBackground(context.Background(), process.Options{
		Command: []string{"sh", "-c", "sleep 5"},
	})

	start := time.Now()
	g.Close()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*time.Second)
	code := rp.Poll()
	require.NotNil(t, code)
}

func TestGroup_CloseIsIdempotent(t *testing.T) {
	g := New()
	g.Close()
	assert.NotPanics(t, func() { g.Close() })
}
