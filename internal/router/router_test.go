package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

func TestExplicitHumanOverrideAlwaysWins(t *testing.T) {
	d := Route(core.TaskAttribute{Verifiability: "high", Criticality: "low"}, true)
	require.Equal(t, TargetHuman, d.Target)
	require.Equal(t, 1.0, d.Confidence)
}

func TestHighCriticalityLowReversibilityRoutesHuman(t *testing.T) {
	d := Route(core.TaskAttribute{Criticality: "high", Reversibility: "low"}, false)
	require.Equal(t, TargetHuman, d.Target)
}

func TestLowVerifiabilityRoutesHuman(t *testing.T) {
	d := Route(core.TaskAttribute{Verifiability: "low", Criticality: "medium", Reversibility: "medium"}, false)
	require.Equal(t, TargetHuman, d.Target)
}

func TestHighSubjectivityRoutesHuman(t *testing.T) {
	d := Route(core.TaskAttribute{Subjectivity: "high", Criticality: "medium", Reversibility: "medium", Verifiability: "medium"}, false)
	require.Equal(t, TargetHuman, d.Target)
}

func TestHighVerifiabilityLowCriticalityRoutesAI(t *testing.T) {
	d := Route(core.TaskAttribute{Verifiability: "high", Criticality: "low", Reversibility: "medium", Subjectivity: "low"}, false)
	require.Equal(t, TargetAI, d.Target)
}

func TestDefaultRoutesAnyWithModerateConfidence(t *testing.T) {
	d := Route(core.TaskAttribute{Verifiability: "medium", Criticality: "medium", Reversibility: "medium", Subjectivity: "medium"}, false)
	require.Equal(t, TargetAny, d.Target)
	require.Equal(t, 0.6, d.Confidence)
}

func TestGraduatedAuthorityLowTierTightensSLO(t *testing.T) {
	base := core.SLO{MaxDurationMs: 1000, MaxTokens: 1000, MaxCostUsd: 1.0}
	slo, mon := ApplyGraduatedAuthority(AuthorityLow, base, core.MonitoringPolicy{})
	require.Equal(t, int64(500), slo.MaxDurationMs)
	require.Equal(t, int64(500), slo.MaxTokens)
	require.InDelta(t, 0.25, slo.MaxCostUsd, 1e-9)
	require.True(t, mon.CheckpointRequired)
	require.Equal(t, "verbose", mon.Level)
}

func TestGraduatedAuthorityHighTierRelaxesSLO(t *testing.T) {
	base := core.SLO{MaxDurationMs: 1000, MaxCostUsd: 1.0}
	slo, mon := ApplyGraduatedAuthority(AuthorityHigh, base, core.MonitoringPolicy{CheckpointRequired: true})
	require.Equal(t, int64(1500), slo.MaxDurationMs)
	require.InDelta(t, 2.0, slo.MaxCostUsd, 1e-9)
	require.False(t, mon.CheckpointRequired)
}

func TestGraduatedAuthorityEliteRemovesMonitoring(t *testing.T) {
	_, mon := ApplyGraduatedAuthority(AuthorityElite, core.SLO{}, core.MonitoringPolicy{CheckpointRequired: true, Level: "standard"})
	require.False(t, mon.CheckpointRequired)
	require.Equal(t, "minimal", mon.Level)
}

func TestTierFromTrustMapsAllFour(t *testing.T) {
	require.Equal(t, AuthorityLow, TierFromTrust(core.TierLow))
	require.Equal(t, AuthorityMedium, TierFromTrust(core.TierMedium))
	require.Equal(t, AuthorityHigh, TierFromTrust(core.TierHigh))
	require.Equal(t, AuthorityElite, TierFromTrust(core.TierElite))
}
