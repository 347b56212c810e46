package friction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

func TestCriticalWhenHighCriticalityAndLowReversibility(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "high", Reversibility: "low"}
	require.Equal(t, LevelCritical, Assess(attr, Context{}))
}

func TestLowForSimpleLowCriticalityTask(t *testing.T) {
	attr := core.TaskAttribute{Complexity: "low", Criticality: "low", Reversibility: "high", Verifiability: "high"}
	require.Equal(t, LevelLow, Assess(attr, Context{}))
}

func TestLowTrustTierEscalatesOneBand(t *testing.T) {
	attr := core.TaskAttribute{Complexity: "low", Criticality: "low", Reversibility: "high", Verifiability: "high"}
	require.Equal(t, LevelStandard, Assess(attr, Context{DelegateeTier: core.TierLow}))
}

func TestNeverReturnsEmptyLevel(t *testing.T) {
	level := Assess(core.TaskAttribute{}, Context{})
	require.NotEmpty(t, level)
}
