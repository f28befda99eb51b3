package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"muster/internal/domain"
	"muster/internal/provider"
)

func TestEvaluateIdleDisabledNeverFires(t *testing.T) {
	cfg := provider.ActivityConfig{IdleMode: domain.IdleModeDisabled, IdleTimeoutSeconds: 1}
	now := time.Now()
	_, ok := EvaluateIdle(cfg, now, []time.Time{now.Add(-time.Hour)}, nil)
	assert.False(t, ok)
}

func TestEvaluateIdleAnySource(t *testing.T) {
	cfg := provider.ActivityConfig{IdleMode: domain.IdleModeAnySource, IdleTimeoutSeconds: 3600}
	now := time.Now()

	stale := []time.Time{now.Add(-2 * time.Hour)}
	_, ok := EvaluateIdle(cfg, now, stale, nil)
	assert.True(t, ok)

	fresh := []time.Time{now.Add(-1 * time.Minute)}
	_, ok = EvaluateIdle(cfg, now, fresh, nil)
	assert.False(t, ok)

	// A fresh per-agent source keeps any_source from firing even if the host
	// file itself is stale.
	perAgentFresh := [][]time.Time{{now.Add(-1 * time.Minute)}}
	_, ok = EvaluateIdle(cfg, now, stale, perAgentFresh)
	assert.False(t, ok)
}

func TestEvaluateIdleAllAgentsIdle(t *testing.T) {
	cfg := provider.ActivityConfig{IdleMode: domain.IdleModeAllAgentsIdle, IdleTimeoutSeconds: 3600}
	now := time.Now()

	// No agents at all: never idle under this mode.
	_, ok := EvaluateIdle(cfg, now, nil, nil)
	assert.False(t, ok)

	allStale := [][]time.Time{
		{now.Add(-2 * time.Hour)},
		{now.Add(-3 * time.Hour)},
	}
	_, ok = EvaluateIdle(cfg, now, nil, allStale)
	assert.True(t, ok)

	oneFresh := [][]time.Time{
		{now.Add(-2 * time.Hour)},
		{now.Add(-1 * time.Minute)},
	}
	_, ok = EvaluateIdle(cfg, now, nil, oneFresh)
	assert.False(t, ok)
}
