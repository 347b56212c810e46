package contract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

func TestNewContractStartsActive(t *testing.T) {
	c := New("node-a", "node-b", "task-1", "do the thing", core.SLO{}, core.PermissionBoundary{}, core.MonitoringPolicy{})
	require.Equal(t, core.ContractActive, c.Status)
	require.False(t, IsTerminal(c))
	require.NotEmpty(t, c.ContractID)
}

func TestTerminalTransitions(t *testing.T) {
	c := New("node-a", "node-b", "task-1", "text", core.SLO{}, core.PermissionBoundary{}, core.MonitoringPolicy{})

	completed := Complete(c)
	require.True(t, IsTerminal(completed))
	require.Equal(t, core.ContractCompleted, completed.Status)

	violated := Violate(c)
	require.True(t, IsTerminal(violated))

	cancelled := Cancel(c)
	require.True(t, IsTerminal(cancelled))
}
