package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

func TestUnknownPeerReturnsPriorTrustScore(t *testing.T) {
	s := New(nil, nil, nil)
	require.Equal(t, 0.5, s.GetTrustScore("node-unknown"))
}

func TestRecordOutcomeIncrementsCountersAndStreaks(t *testing.T) {
	s := New(nil, nil, nil)

	s.RecordOutcome("peer-a", core.OutcomeCompleted, 100, 10, 0.01)
	s.RecordOutcome("peer-a", core.OutcomeCompleted, 100, 10, 0.01)
	rep, ok := s.Get("peer-a")
	require.True(t, ok)
	require.Equal(t, int64(2), rep.TasksCompleted)
	require.Equal(t, 2, rep.ConsecutiveSuccesses)

	s.RecordOutcome("peer-a", core.OutcomeFailed, 100, 10, 0.01)
	rep, _ = s.Get("peer-a")
	require.Equal(t, 0, rep.ConsecutiveSuccesses)
	require.Equal(t, 1, rep.ConsecutiveFailures)
}

func TestTrustTierMonotonic(t *testing.T) {
	require.Equal(t, core.TierLow, TrustTier(0.0))
	require.Equal(t, core.TierLow, TrustTier(0.39))
	require.Equal(t, core.TierMedium, TrustTier(0.4))
	require.Equal(t, core.TierMedium, TrustTier(0.69))
	require.Equal(t, core.TierHigh, TrustTier(0.7))
	require.Equal(t, core.TierHigh, TrustTier(0.89))
	require.Equal(t, core.TierElite, TrustTier(0.9))
	require.Equal(t, core.TierElite, TrustTier(1.0))
}

// TestSlowPeerHasLowerTrustThanFastPeer: a peer
// with a strong completion history but elevated average latency still
// lands a trust score below a fast, reliable peer's.
func TestSlowPeerHasLowerTrustThanFastPeer(t *testing.T) {
	s := New(nil, nil, nil)

	for i := 0; i < 10; i++ {
		s.RecordOutcome("peer-fast", core.OutcomeCompleted, 200, 10, 0.01)
	}
	for i := 0; i < 10; i++ {
		s.RecordOutcome("peer-slow", core.OutcomeCompleted, 2800, 10, 0.01)
	}

	fastTrust := s.GetTrustScore("peer-fast")
	slowTrust := s.GetTrustScore("peer-slow")
	require.Greater(t, fastTrust, slowTrust)
	require.InDelta(t, 0.944, slowTrust, 1e-9, "0.6*1 + 0.2*(1-2800/10000) + 0.2 streak bonus")
}

func TestTrustScoreClampedToUnitInterval(t *testing.T) {
	s := New(nil, nil, nil)
	for i := 0; i < 50; i++ {
		s.RecordOutcome("peer-a", core.OutcomeCompleted, 0, 0, 0)
	}
	trust := s.GetTrustScore("peer-a")
	require.LessOrEqual(t, trust, 1.0)
	require.GreaterOrEqual(t, trust, 0.0)
}

func TestQuarantineAndRecoveryLifecycle(t *testing.T) {
	s := New(nil, nil, nil)
	s.quarantineCfg.CooldownPeriod = 0

	s.Quarantine("peer-bad")
	require.True(t, s.IsQuarantined("peer-bad"))

	result := s.RequestRecovery("peer-bad", 0.001)
	require.False(t, result.Value, "stake below MinRecoveryStake should be rejected")
	require.True(t, s.IsQuarantined("peer-bad"))

	result = s.RequestRecovery("peer-bad", 1.0)
	require.True(t, result.Value)
}

func TestRecoveryDeniedWithoutCooldown(t *testing.T) {
	s := New(nil, nil, nil)
	s.Quarantine("peer-bad")

	result := s.RequestRecovery("peer-bad", 1.0)
	require.False(t, result.Value)
}

func TestRecoveryExhaustsMaxAttempts(t *testing.T) {
	s := New(nil, nil, nil)
	s.quarantineCfg.CooldownPeriod = 0
	s.quarantineCfg.MaxRecoveryAttempts = 2
	s.Quarantine("peer-bad")

	s.RequestRecovery("peer-bad", 0.0) // attempt 1, fails stake check
	s.RequestRecovery("peer-bad", 0.0) // attempt 2, fails stake check
	result := s.RequestRecovery("peer-bad", 1.0) // attempt 3 would succeed but is exhausted
	require.False(t, result.Value)
}
