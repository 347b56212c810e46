package firebreak

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

func TestBlocksWhenCriticalAndIrreversibleAndOverExposed(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "high", Reversibility: "low"}
	d := Evaluate(attr, 10.0, Config{OutstandingBondThresholdUsd: 5.0})
	require.Equal(t, Block, d)
}

func TestRequiresConfirmationWhenOnlyCriticalityHigh(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "high", Reversibility: "high"}
	d := Evaluate(attr, 10.0, Config{OutstandingBondThresholdUsd: 5.0})
	require.Equal(t, RequireConfirmation, d)
}

func TestRequiresConfirmationWhenOnlyReversibilityLow(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "low", Reversibility: "low"}
	d := Evaluate(attr, 0, Config{OutstandingBondThresholdUsd: 5.0})
	require.Equal(t, RequireConfirmation, d)
}

func TestAllowsBenignTask(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "low", Reversibility: "high"}
	d := Evaluate(attr, 0, Config{OutstandingBondThresholdUsd: 5.0})
	require.Equal(t, Allow, d)
}

func TestCriticalAndIrreversibleUnderExposureOnlyRequiresConfirmation(t *testing.T) {
	attr := core.TaskAttribute{Criticality: "high", Reversibility: "low"}
	d := Evaluate(attr, 1.0, Config{OutstandingBondThresholdUsd: 5.0})
	require.Equal(t, RequireConfirmation, d)
}
