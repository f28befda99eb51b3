package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
	"muster/internal/errs"
)

func TestRenderListJSON(t *testing.T) {
	result := ListResult{
		Agents: []AgentRow{{Name: "a1", Type: "generic", State: domain.LifecycleRunning, HostName: "h1", Provider: "local"}},
		Errors: []ProviderFailure{{Provider: "p1", Message: "unreachable"}},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderList(&buf, result, domain.OutputFormatJSON))

	var decoded ListResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, result.Agents[0].Name, decoded.Agents[0].Name)
	assert.Equal(t, result.Errors[0].Provider, decoded.Errors[0].Provider)
}

func TestRenderListHuman(t *testing.T) {
	result := ListResult{Agents: []AgentRow{{Name: "a1", Type: "generic", State: domain.LifecycleRunning, HostName: "h1", Provider: "local"}}}
	var buf bytes.Buffer
	require.NoError(t, RenderList(&buf, result, domain.OutputFormatHuman))
	assert.Contains(t, buf.String(), "a1")
}

func TestExitCodeForUserInputError(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFor(nil))
	assert.Equal(t, ExitUsage, ExitCodeFor(&errs.UserInputError{Message: "bad"}))
}
