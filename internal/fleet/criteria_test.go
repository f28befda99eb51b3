package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
)

func TestCompileFilterEmptyAlwaysMatches(t *testing.T) {
	f, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, f)

	ok, err := f.Matches(CriteriaAgent{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileFilterInvalidExpression(t *testing.T) {
	_, err := CompileFilter("state ==")
	require.Error(t, err)
	var parseErr interface{ Error() string }
	require.ErrorAs(t, err, &parseErr)
}

func TestFilterMatchesHostAndAgentFields(t *testing.T) {
	f, err := CompileFilter(`host.provider == "ssh-prod" && idle > 3600`)
	require.NoError(t, err)

	match := CriteriaAgent{Host: CriteriaHost{Provider: "ssh-prod"}, Idle: 7200}
	ok, err := f.Matches(match)
	require.NoError(t, err)
	assert.True(t, ok)

	noMatch := CriteriaAgent{Host: CriteriaHost{Provider: "local"}, Idle: 7200}
	ok, err = f.Matches(noMatch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesAllIncludeExclude(t *testing.T) {
	include, err := CompileAll([]string{`type == "claude"`})
	require.NoError(t, err)
	exclude, err := CompileAll([]string{`host.name == "retired"`})
	require.NoError(t, err)

	c := CriteriaAgent{Type: "claude", Host: CriteriaHost{Name: "box1"}}
	ok, err := MatchesAll(c, include, exclude)
	require.NoError(t, err)
	assert.True(t, ok)

	excluded := CriteriaAgent{Type: "claude", Host: CriteriaHost{Name: "retired"}}
	ok, err = MatchesAll(excluded, include, exclude)
	require.NoError(t, err)
	assert.False(t, ok)

	wrongType := CriteriaAgent{Type: "codex", Host: CriteriaHost{Name: "box1"}}
	ok, err = MatchesAll(wrongType, include, exclude)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildCriteriaFlattensAgentAndHost(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	created := now.Add(-2 * time.Hour)

	av := AgentView{
		Id:          domain.AgentId("a1"),
		Name:        "fixer",
		Type:        "claude",
		State:       domain.LifecycleRunning,
		CreateTime:  created,
		IdleSeconds: 42,
	}
	hv := HostView{
		Id:   domain.HostId("h1"),
		Name: "box1",
		Tags: map[string]string{"env": "prod"},
	}

	c := BuildCriteria(av, hv, "ssh-prod", now)
	assert.Equal(t, "fixer", c.Name)
	assert.Equal(t, "claude", c.Type)
	assert.Equal(t, "RUNNING", c.State)
	assert.Equal(t, "box1", c.Host.Name)
	assert.Equal(t, "ssh-prod", c.Host.Provider)
	assert.Equal(t, "prod", c.Host.Tags["env"])
	assert.InDelta(t, 7200, c.Age, 1)
	assert.Equal(t, 42.0, c.Idle)
}
