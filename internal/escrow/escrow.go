// Package escrow implements EscrowManager: per-peer bond accounts with
// deposit/hold/release/slash operations, every change journaled, plus an
// await-release gate so a caller can block until a bond's fate resolves.
//
// Grounded on the teacher's internal/escrow/gate.go for the channel-based
// await pattern (HeldItem.done / AwaitRelease) and internal/economics/wallet.go
// for the governance-tax surcharge on low-trust bonds.
package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/journal"
	"github.com/ocx/delegation-mesh/internal/metrics"
)

// Config mirrors spec.md §6's escrow surface.
type Config struct {
	MinBondUsd          float64
	SlashPctOnViolation  float64
	SlashPctOnTimeout    float64
}

// trustScorer is the minimal surface EscrowManager needs from
// ReputationStore, kept as an interface so escrow never imports reputation
// directly (avoiding an import cycle; CoreServices wires the concrete type).
type trustScorer interface {
	GetTrustScore(nodeID string) float64
}

// hold tracks one outstanding bond hold and the channel a caller can block
// on until it resolves, mirroring the teacher's HeldItem/done channel.
type hold struct {
	taskID string
	nodeID string
	amount float64
	done   chan struct{}
	result string // "released" | "slashed"
}

// Manager is the EscrowManager. One instance per mesh node.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	accounts map[string]*core.EscrowAccount
	holds    map[string]*hold // keyed by task_id; at most one active hold per task (I-spec §8)

	trust   trustScorer
	journal *journal.Journal
	metrics *metrics.Collectors
}

func New(cfg Config, trust trustScorer, j *journal.Journal, m *metrics.Collectors) *Manager {
	return &Manager{
		cfg:      cfg,
		accounts: make(map[string]*core.EscrowAccount),
		holds:    make(map[string]*hold),
		trust:    trust,
		journal:  j,
		metrics:  m,
	}
}

func (m *Manager) account(nodeID string) *core.EscrowAccount {
	acc, ok := m.accounts[nodeID]
	if !ok {
		acc = &core.EscrowAccount{NodeID: nodeID, Held: make(map[string]float64)}
		m.accounts[nodeID] = acc
	}
	return acc
}

// Deposit credits a peer's free balance.
func (m *Manager) Deposit(nodeID string, amountUsd float64) core.Accepted[core.EscrowAccount] {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(nodeID)
	acc.FreeBalance += amountUsd

	if m.journal != nil {
		m.journal.TryEmit(nodeID, "escrow.deposited", map[string]any{"node_id": nodeID, "amount_usd": amountUsd})
	}
	if m.metrics != nil {
		m.metrics.FreeBalance.WithLabelValues(nodeID).Set(acc.FreeBalance)
	}
	return core.Accepted[core.EscrowAccount]{Value: *acc}
}

// governanceTaxMultiplier applies a surcharge to the bond requirement for
// low-trust peers, adapted from the teacher's BillingEngine.CalculateAuditCost
// threshold ladder (0.80 / 0.70) onto bond sizing instead of audit cost.
func governanceTaxMultiplier(trust float64) float64 {
	switch {
	case trust < 0.40:
		return 2.0
	case trust < 0.70:
		return 1.5
	default:
		return 1.0
	}
}

// HoldBond reserves baseAmountUsd, raised to MinBondUsd when it is lower
// and then multiplied by the peer's governance tax, from free balance into
// a per-task hold; it rejects the hold when free balance cannot cover that
// amount. At most one active hold may exist per
// task_id.
func (m *Manager) HoldBond(taskID, nodeID string, baseAmountUsd float64) core.Accepted[float64] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.holds[taskID]; exists {
		if m.metrics != nil {
			m.metrics.BondHolds.WithLabelValues(nodeID, "rejected_duplicate").Inc()
		}
		return core.Accepted[float64]{}
	}

	amount := baseAmountUsd
	if amount < m.cfg.MinBondUsd {
		amount = m.cfg.MinBondUsd
	}
	if m.trust != nil {
		amount *= governanceTaxMultiplier(m.trust.GetTrustScore(nodeID))
	}

	acc := m.account(nodeID)
	if acc.FreeBalance < amount {
		if m.metrics != nil {
			m.metrics.BondHolds.WithLabelValues(nodeID, "rejected_insufficient_balance").Inc()
		}
		return core.Accepted[float64]{}
	}

	acc.FreeBalance -= amount
	acc.Held[taskID] = amount
	m.holds[taskID] = &hold{taskID: taskID, nodeID: nodeID, amount: amount, done: make(chan struct{})}

	if m.journal != nil {
		m.journal.TryEmit(nodeID, "escrow.bond_held", map[string]any{
			"task_id": taskID, "node_id": nodeID, "amount_usd": amount,
		})
	}
	if m.metrics != nil {
		m.metrics.BondHolds.WithLabelValues(nodeID, "ok").Inc()
		m.metrics.FreeBalance.WithLabelValues(nodeID).Set(acc.FreeBalance)
	}

	return core.Accepted[float64]{Value: amount}
}

// ReleaseBond returns a held amount to free balance in full.
func (m *Manager) ReleaseBond(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[taskID]
	if !ok {
		return fmt.Errorf("escrow: no active hold for task %s", taskID)
	}
	acc := m.account(h.nodeID)
	acc.FreeBalance += h.amount
	delete(acc.Held, taskID)
	delete(m.holds, taskID)
	h.result = "released"
	close(h.done)

	if m.journal != nil {
		m.journal.TryEmit(h.nodeID, "escrow.bond_released", map[string]any{
			"task_id": taskID, "node_id": h.nodeID, "amount_usd": h.amount,
		})
	}
	if m.metrics != nil {
		m.metrics.BondReleases.WithLabelValues(h.nodeID).Inc()
		m.metrics.FreeBalance.WithLabelValues(h.nodeID).Set(acc.FreeBalance)
	}
	return nil
}

// SlashBond burns pct of a held bond to the sink (never back to the
// delegator; see DESIGN.md's Open Question decision) and returns the
// remainder to free balance.
func (m *Manager) SlashBond(taskID string, pct float64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[taskID]
	if !ok {
		return fmt.Errorf("escrow: no active hold for task %s", taskID)
	}
	acc := m.account(h.nodeID)
	slashed := h.amount * pct
	remainder := h.amount - slashed
	acc.FreeBalance += remainder
	delete(acc.Held, taskID)
	delete(m.holds, taskID)
	h.result = "slashed"
	close(h.done)

	if m.journal != nil {
		m.journal.TryEmit(h.nodeID, "escrow.bond_slashed", map[string]any{
			"task_id": taskID, "node_id": h.nodeID, "slashed_usd": slashed,
			"remainder_usd": remainder, "reason": reason,
		})
	}
	if m.metrics != nil {
		m.metrics.BondSlashes.WithLabelValues(h.nodeID, reason).Inc()
		m.metrics.FreeBalance.WithLabelValues(h.nodeID).Set(acc.FreeBalance)
	}
	return nil
}

// SlashPctOnViolation and SlashPctOnTimeout expose the configured rates so
// callers (the delegation pipeline) don't need their own copy of Config.
func (m *Manager) SlashPctOnViolation() float64 { return m.cfg.SlashPctOnViolation }
func (m *Manager) SlashPctOnTimeout() float64   { return m.cfg.SlashPctOnTimeout }

// AwaitRelease blocks until the hold for task_id resolves (released or
// slashed) or ctx is done, mirroring the teacher's EscrowGate.AwaitRelease.
func (m *Manager) AwaitRelease(ctx context.Context, taskID string) (string, error) {
	m.mu.Lock()
	h, ok := m.holds[taskID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("escrow: no active hold for task %s", taskID)
	}

	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Balance returns a snapshot of a peer's escrow account.
func (m *Manager) Balance(nodeID string) core.EscrowAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.account(nodeID)
	heldCopy := make(map[string]float64, len(acc.Held))
	for k, v := range acc.Held {
		heldCopy[k] = v
	}
	return core.EscrowAccount{NodeID: nodeID, FreeBalance: acc.FreeBalance, Held: heldCopy}
}
