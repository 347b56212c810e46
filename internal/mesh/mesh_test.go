package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/sybil"
)

func newTestManager() *Manager {
	cfg := Config{
		SuspectedAfterMs:   1000,
		UnreachableAfterMs: 2000,
		EvictAfterMs:       3000,
		SweepIntervalMs:    100,
	}
	return New(cfg, core.NodeIdentity{NodeID: "self"}, sybil.New(sybil.Config{MaxJoinsInWindow: 100, JoinWindowMs: 60000}), nil, nil, nil)
}

func TestJoinAdmitsPeerAsActive(t *testing.T) {
	m := newTestManager()
	result, reports, err := m.Join(core.NodeIdentity{NodeID: "peer-a"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, core.PeerActive, result.Value.Status)
	require.Empty(t, reports)
}

func TestJoinRejectsPeerOutsideTrustDomain(t *testing.T) {
	cfg := Config{SuspectedAfterMs: 1000, UnreachableAfterMs: 2000, EvictAfterMs: 3000, SweepIntervalMs: 100, TrustDomain: "mesh.internal"}
	m := New(cfg, core.NodeIdentity{NodeID: "self"}, sybil.New(sybil.Config{MaxJoinsInWindow: 100, JoinWindowMs: 60000}), nil, nil, nil)

	_, _, err := m.Join(core.NodeIdentity{NodeID: "peer-a", SpiffeID: "spiffe://other.domain/node/peer-a"}, time.Now())
	require.Error(t, err)

	_, ok := m.GetPeer("peer-a")
	require.False(t, ok)
}

func TestJoinAdmitsPeerInMatchingTrustDomain(t *testing.T) {
	cfg := Config{SuspectedAfterMs: 1000, UnreachableAfterMs: 2000, EvictAfterMs: 3000, SweepIntervalMs: 100, TrustDomain: "mesh.internal"}
	m := New(cfg, core.NodeIdentity{NodeID: "self"}, sybil.New(sybil.Config{MaxJoinsInWindow: 100, JoinWindowMs: 60000}), nil, nil, nil)

	result, _, err := m.Join(core.NodeIdentity{NodeID: "peer-a", SpiffeID: "spiffe://mesh.internal/node/peer-a"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, core.PeerActive, result.Value.Status)
}

func TestHeartbeatTransitionsAnyStateToActive(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Join(core.NodeIdentity{NodeID: "peer-a"}, now)

	m.Sweep(now.Add(5 * time.Second)) // drive to unreachable
	peer, _ := m.GetPeer("peer-a")
	require.Equal(t, core.PeerUnreachable, peer.Status)

	ok := m.Heartbeat("peer-a", 50, now.Add(5*time.Second))
	require.True(t, ok)
	peer, _ = m.GetPeer("peer-a")
	require.Equal(t, core.PeerActive, peer.Status)
	require.Equal(t, 0, peer.ConsecutiveFailures)
}

func TestSweepTimeoutLadder(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Join(core.NodeIdentity{NodeID: "peer-a"}, now)

	m.Sweep(now.Add(1500 * time.Millisecond))
	peer, _ := m.GetPeer("peer-a")
	require.Equal(t, core.PeerSuspected, peer.Status)

	m.Sweep(now.Add(3500 * time.Millisecond))
	peer, _ = m.GetPeer("peer-a")
	require.Equal(t, core.PeerUnreachable, peer.Status)

	m.Sweep(now.Add(7000 * time.Millisecond))
	_, ok := m.GetPeer("peer-a")
	require.False(t, ok, "peer should be evicted from the table")
}

func TestLeaveTransitionsFromAnyState(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Join(core.NodeIdentity{NodeID: "peer-a"}, now)

	require.True(t, m.Leave("peer-a"))
	peer, _ := m.GetPeer("peer-a")
	require.Equal(t, core.PeerLeft, peer.Status)
}

func TestGetActivePeersFiltersCorrectly(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Join(core.NodeIdentity{NodeID: "peer-a"}, now)
	m.Join(core.NodeIdentity{NodeID: "peer-b"}, now)
	m.Leave("peer-b")

	active := m.GetActivePeers()
	require.Len(t, active, 1)
	require.Equal(t, "peer-a", active[0].NodeID)
}

func TestRecordTransportFailureIncrementsCounter(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Join(core.NodeIdentity{NodeID: "peer-a"}, now)

	m.RecordTransportFailure("peer-a")
	m.RecordTransportFailure("peer-a")
	peer, _ := m.GetPeer("peer-a")
	require.Equal(t, 2, peer.ConsecutiveFailures)
}
