package sybil

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

// TestCoordinatedJoinFlaggedOnSixthDistinctJoin mirrors spec.md's
// end-to-end example: 5 distinct joins within the window are fine, the
// 6th triggers a coordinated_join report.
func TestCoordinatedJoinFlaggedOnSixthDistinctJoin(t *testing.T) {
	d := New(Config{MaxJoinsInWindow: 5, JoinWindowMs: 60000})
	now := time.Now()

	for i := 0; i < 5; i++ {
		reports := d.Evaluate(core.NodeIdentity{NodeID: idFor(i), APIUrl: "http://host" + idFor(i) + ":8080"}, now)
		for _, r := range reports {
			require.NotEqual(t, core.IndicatorCoordinatedJoin, r.Indicator)
		}
	}

	reports := d.Evaluate(core.NodeIdentity{NodeID: "node-6", APIUrl: "http://host6:8080"}, now)
	found := false
	for _, r := range reports {
		if r.Indicator == core.IndicatorCoordinatedJoin {
			found = true
		}
	}
	require.True(t, found)
}

func idFor(i int) string {
	return string(rune('a' + i))
}

func TestSameIPRangeFlaggedAtThreeEscalatesAtFive(t *testing.T) {
	d := New(Config{MaxJoinsInWindow: 100, JoinWindowMs: 60000})
	now := time.Now()

	var lastReports []core.SybilReport
	for i := 0; i < 3; i++ {
		lastReports = d.Evaluate(core.NodeIdentity{NodeID: idFor(i), APIUrl: "http://shared-host:8080"}, now)
	}
	found := false
	for _, r := range lastReports {
		if r.Indicator == core.IndicatorSameIPRange {
			found = true
			require.Equal(t, core.SybilFlag, r.Action)
		}
	}
	require.True(t, found)

	for i := 3; i < 5; i++ {
		lastReports = d.Evaluate(core.NodeIdentity{NodeID: idFor(i), APIUrl: "http://shared-host:8080"}, now)
	}
	for _, r := range lastReports {
		if r.Indicator == core.IndicatorSameIPRange {
			require.Equal(t, core.SybilChallenge, r.Action)
		}
	}
}

func TestSimilarCapabilitiesFlagsJaccardAboveThreshold(t *testing.T) {
	d := New(Config{MaxJoinsInWindow: 100, JoinWindowMs: 60000})
	now := time.Now()
	caps := []string{"grep", "read_file", "write_file", "exec"}

	var lastReports []core.SybilReport
	for i := 0; i < 3; i++ {
		lastReports = d.Evaluate(core.NodeIdentity{NodeID: idFor(i), APIUrl: "http://h" + idFor(i), Capabilities: caps}, now)
	}
	found := false
	for _, r := range lastReports {
		if r.Indicator == core.IndicatorSimilarCapabilities {
			found = true
		}
	}
	require.True(t, found)
}

func TestStaleJoinsOutsideWindowDontCount(t *testing.T) {
	d := New(Config{MaxJoinsInWindow: 1, JoinWindowMs: 1000})
	base := time.Now()

	d.Evaluate(core.NodeIdentity{NodeID: "node-1"}, base)
	reports := d.Evaluate(core.NodeIdentity{NodeID: "node-2"}, base.Add(2*time.Second))

	for _, r := range reports {
		require.NotEqual(t, core.IndicatorCoordinatedJoin, r.Indicator)
	}
}

func TestProofOfWorkChallengeRoundTrip(t *testing.T) {
	c, err := NewChallenge(1)
	require.NoError(t, err)

	var solution int
	for {
		candidate := strconv.Itoa(solution)
		if c.Verify(candidate) {
			require.True(t, c.Verify(candidate))
			return
		}
		solution++
		if solution > 1000000 {
			t.Fatal("could not find PoW solution within bound")
		}
	}
}

func TestProofOfWorkRejectsWrongSolution(t *testing.T) {
	c := Challenge{Value: "abc123", Difficulty: 4}
	require.False(t, c.Verify("definitely-wrong"))
}
