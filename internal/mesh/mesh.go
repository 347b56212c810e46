// Package mesh implements MeshManager: the peer membership table and its
// finite state machine, heartbeat/sweep timers, and join admission via
// SybilDetector.
//
// Grounded on the teacher's internal/federation/state_machine.go
// (HandshakeStateMachine) for the mutex-guarded transition-validity-map
// pattern, generalized from a 13-state handshake to the mesh's 4-state
// peer lifecycle (spec.md §4.13).
package mesh

import (
	"sync"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/events"
	"github.com/ocx/delegation-mesh/internal/journal"
	"github.com/ocx/delegation-mesh/internal/metrics"
	"github.com/ocx/delegation-mesh/internal/sybil"
)

// Config mirrors spec.md §6's mesh surface.
type Config struct {
	HeartbeatIntervalMs int
	SweepIntervalMs     int
	SuspectedAfterMs    int
	UnreachableAfterMs  int
	EvictAfterMs        int
	DelegationTimeoutMs int

	// TrustDomain, when non-empty, requires every joining peer to present a
	// SpiffeID belonging to this SPIFFE trust domain; peers outside it are
	// rejected before admission. Empty disables the check.
	TrustDomain string
}

// validTransitions encodes spec.md §4.13's FSM: unknown->active on first
// heartbeat/join; active->suspected/suspected->unreachable on missed
// heartbeats; unreachable->evicted after a further grace period; any
// state->active on a successful heartbeat; any state->left on explicit
// leave.
var validTransitions = map[core.PeerStatus]map[core.PeerStatus]bool{
	"unknown": {
		core.PeerActive: true,
	},
	core.PeerActive: {
		core.PeerSuspected: true,
		core.PeerLeft:      true,
		core.PeerActive:    true,
	},
	core.PeerSuspected: {
		core.PeerUnreachable: true,
		core.PeerActive:      true,
		core.PeerLeft:        true,
	},
	core.PeerUnreachable: {
		"evicted":          true,
		core.PeerActive:    true,
		core.PeerLeft:      true,
	},
}

func isValidTransition(from, to core.PeerStatus) bool {
	targets, ok := validTransitions[from]
	return ok && targets[to]
}

// Manager owns the peer table for the local node.
type Manager struct {
	cfg      Config
	identity core.NodeIdentity

	mu    sync.RWMutex
	peers map[string]*core.PeerEntry

	sybil   *sybil.Detector
	journal *journal.Journal
	bus     *events.EventBus
	metrics *metrics.Collectors

	stopCh chan struct{}
}

func New(cfg Config, identity core.NodeIdentity, sybilDetector *sybil.Detector, j *journal.Journal, bus *events.EventBus, m *metrics.Collectors) *Manager {
	return &Manager{
		cfg:      cfg,
		identity: identity,
		peers:    make(map[string]*core.PeerEntry),
		sybil:    sybilDetector,
		journal:  j,
		bus:      bus,
		metrics:  m,
		stopCh:   make(chan struct{}),
	}
}

func (m *Manager) GetIdentity() core.NodeIdentity { return m.identity }

// Join admits a new peer, running it through SybilDetector first; a
// challenge outcome withholds active status until proof-of-work verifies.
// When the mesh has a configured TrustDomain, a peer presenting a SpiffeID
// outside it is rejected outright, before sybil scoring runs.
func (m *Manager) Join(identity core.NodeIdentity, now time.Time) (core.Accepted[core.PeerEntry], []core.SybilReport, error) {
	if err := verifyTrustDomain(m.cfg.TrustDomain, identity.SpiffeID); err != nil {
		if m.journal != nil {
			m.journal.TryEmit(identity.NodeID, "mesh.peer_rejected", map[string]any{
				"node_id": identity.NodeID, "reason": err.Error(),
			})
		}
		return core.Accepted[core.PeerEntry]{}, nil, err
	}

	var reports []core.SybilReport
	if m.sybil != nil {
		reports = m.sybil.Evaluate(identity, now)
	}

	requiresChallenge := false
	for _, r := range reports {
		if r.Action == core.SybilChallenge || r.Action == core.SybilQuarantine {
			requiresChallenge = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status := core.PeerActive
	if requiresChallenge {
		status = core.PeerSuspected // withheld from active pending PoW
	}

	entry := &core.PeerEntry{
		NodeIdentity:    identity,
		Status:          status,
		LastHeartbeatAt: now,
	}
	m.peers[identity.NodeID] = entry

	if m.journal != nil {
		m.journal.TryEmit(identity.NodeID, "mesh.peer_joined", map[string]any{
			"node_id": identity.NodeID, "status": string(status),
		})
	}
	if m.bus != nil {
		m.bus.Emit("mesh.peer_joined", "mesh", identity.NodeID, map[string]any{"node_id": identity.NodeID})
	}

	return core.Accepted[core.PeerEntry]{Value: *entry}, reports, nil
}

// ConfirmProofOfWork sets a known peer's status to active. It does not
// check a PoW solution itself and does not look at the peer's current
// status.
func (m *Manager) ConfirmProofOfWork(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[nodeID]
	if !ok {
		return false
	}
	p.Status = core.PeerActive
	return true
}

// Heartbeat records a successful heartbeat from nodeID, transitioning it
// to active from any state per the FSM's "any -> active" rule, and resets
// ConsecutiveFailures.
func (m *Manager) Heartbeat(nodeID string, latencyMs int64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[nodeID]
	if !ok {
		return false
	}
	p.Status = core.PeerActive
	p.LastHeartbeatAt = now
	p.LastLatencyMs = latencyMs
	p.ConsecutiveFailures = 0
	return true
}

// RecordTransportFailure increments a peer's consecutive-failure counter,
// called by the orchestrator after a dispatch failure.
func (m *Manager) RecordTransportFailure(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[nodeID]; ok {
		p.ConsecutiveFailures++
	}
}

// Leave transitions nodeID to left from any current state.
func (m *Manager) Leave(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[nodeID]
	if !ok {
		return false
	}
	if !isValidTransition(p.Status, core.PeerLeft) {
		return false
	}
	p.Status = core.PeerLeft
	if m.bus != nil {
		m.bus.Emit("mesh.peer_left", "mesh", nodeID, map[string]any{"node_id": nodeID})
	}
	return true
}

// Sweep applies the timeout ladder: active->suspected after
// SuspectedAfterMs of silence, suspected->unreachable after
// UnreachableAfterMs, unreachable->evicted (removed from the table) after
// EvictAfterMs. An active peer silent past UnreachableAfterMs goes
// straight to unreachable in one sweep; eviction only happens on a sweep
// that finds the peer already unreachable. Called on SweepIntervalMs
// cadence.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for nodeID, p := range m.peers {
		if p.Status == core.PeerLeft {
			continue
		}
		silence := now.Sub(p.LastHeartbeatAt)

		switch p.Status {
		case core.PeerActive, core.PeerSuspected:
			if p.Status == core.PeerActive && silence > time.Duration(m.cfg.SuspectedAfterMs)*time.Millisecond {
				p.Status = core.PeerSuspected
				m.emitTransition(nodeID, core.PeerSuspected)
			}
			if p.Status == core.PeerSuspected && silence > time.Duration(m.cfg.UnreachableAfterMs)*time.Millisecond {
				p.Status = core.PeerUnreachable
				m.emitTransition(nodeID, core.PeerUnreachable)
			}
		case core.PeerUnreachable:
			if silence > time.Duration(m.cfg.EvictAfterMs)*time.Millisecond {
				delete(m.peers, nodeID)
				if m.journal != nil {
					m.journal.TryEmit(nodeID, "mesh.peer_evicted", map[string]any{"node_id": nodeID})
				}
				if m.bus != nil {
					m.bus.Emit("mesh.peer_evicted", "mesh", nodeID, map[string]any{"node_id": nodeID})
				}
			}
		}
	}

	if m.metrics != nil {
		active := 0
		for _, p := range m.peers {
			if p.Status == core.PeerActive {
				active++
			}
		}
		m.metrics.ActivePeers.Set(float64(active))
	}
}

func (m *Manager) emitTransition(nodeID string, to core.PeerStatus) {
	if m.journal != nil {
		m.journal.TryEmit(nodeID, "mesh.peer_status_changed", map[string]any{"node_id": nodeID, "status": string(to)})
	}
	if m.bus != nil {
		m.bus.Emit("mesh.peer_status_changed", "mesh", nodeID, map[string]any{"node_id": nodeID, "status": string(to)})
	}
}

// GetPeers returns a snapshot of the full peer table.
func (m *Manager) GetPeers() []core.PeerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.PeerEntry, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// GetActivePeers returns only peers currently in the active state.
func (m *Manager) GetActivePeers() []core.PeerEntry {
	all := m.GetPeers()
	out := all[:0]
	for _, p := range all {
		if p.Status == core.PeerActive {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) GetPeer(nodeID string) (core.PeerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[nodeID]
	if !ok {
		return core.PeerEntry{}, false
	}
	return *p, true
}

// Run starts the sweep loop, calling Sweep every SweepIntervalMs; it sends
// no heartbeats to peers. It blocks until Stop is called, so callers
// should invoke it in its own goroutine.
func (m *Manager) Run() {
	ticker := time.NewTicker(time.Duration(m.cfg.SweepIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) Stop() {
	close(m.stopCh)
}
