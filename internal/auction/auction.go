// Package auction implements TaskAuction: an originator broadcasts an RFQ,
// collects bids within a deadline, scores them, and awards the task to the
// best bidder.
//
// Grounded on the teacher's internal/escrow/engine.go for the
// mutex-guarded in-memory ledger-of-records pattern, and on
// internal/billing/engine.go (BillingEngine.CalculateAuditCost) for the
// weighted-scalar scoring idiom, repurposed onto bid evaluation.
package auction

import (
	"sync"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/events"
	"github.com/ocx/delegation-mesh/internal/journal"
)

// trustScorer avoids an import cycle with the reputation package.
type trustScorer interface {
	GetTrustScore(nodeID string) float64
}

// latencyScore and costScore score a bid's latency and cost estimates against an RFQ's SLO
// ceiling. Lower estimates score higher; an estimate at or above the
// ceiling scores zero.
func latencyScore(estimateMs int64, ceilingMs int64) float64 {
	if ceilingMs <= 0 {
		return 1.0
	}
	if estimateMs >= ceilingMs {
		return 0.0
	}
	return 1.0 - float64(estimateMs)/float64(ceilingMs)
}

func costScore(estimateUsd, ceilingUsd float64) float64 {
	if ceilingUsd <= 0 {
		return 1.0
	}
	if estimateUsd >= ceilingUsd {
		return 0.0
	}
	return 1.0 - estimateUsd/ceilingUsd
}

// capabilityMatch is |offered ∩ required| / |required|; an RFQ with no
// required capabilities always matches fully.
func capabilityMatch(offered, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	have := make(map[string]bool, len(offered))
	for _, c := range offered {
		have[c] = true
	}
	hit := 0
	for _, c := range required {
		if have[c] {
			hit++
		}
	}
	return float64(hit) / float64(len(required))
}

// Score implements the auction's bid-ranking formula:
// 0.4*trust + 0.2*latency + 0.2*cost + 0.2*capability_match.
func Score(bid core.Bid, rfq core.RFQ, trust float64) float64 {
	lat := latencyScore(bid.DurationEstimateMs, rfq.Constraints.MaxDurationMs)
	cost := costScore(bid.CostEstimate, rfq.Constraints.MaxCostUsd)
	cap := capabilityMatch(bid.CapabilitiesOffered, rfq.RequiredCapabilities)
	return 0.4*trust + 0.2*lat + 0.2*cost + 0.2*cap
}

// Manager owns in-flight auctions, keyed by rfq_id.
type Manager struct {
	mu       sync.Mutex
	auctions map[string]*core.AuctionRecord
	trust    trustScorer
	journal  *journal.Journal
	bus      *events.EventBus
}

func New(trust trustScorer, j *journal.Journal, bus *events.EventBus) *Manager {
	return &Manager{
		auctions: make(map[string]*core.AuctionRecord),
		trust:    trust,
		journal:  j,
		bus:      bus,
	}
}

// CreateAuction opens a new auction for rfq, in the open state until the
// first bid arrives.
func (m *Manager) CreateAuction(rfq core.RFQ, now time.Time) *core.AuctionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &core.AuctionRecord{
		RFQ:       rfq,
		Status:    core.AuctionOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.auctions[rfq.RFQID] = rec

	if m.journal != nil {
		m.journal.TryEmit(rfq.RFQID, "auction.created", map[string]any{"rfq_id": rfq.RFQID})
	}
	if m.bus != nil {
		m.bus.Emit("auction.created", "auction", rfq.RFQID, map[string]any{"rfq_id": rfq.RFQID})
	}
	return rec
}

// ReceiveBid appends bid to an open or collecting auction. A bid is
// rejected once the auction has been awarded, cancelled, or expired.
func (m *Manager) ReceiveBid(bid core.Bid, now time.Time) core.Accepted[core.Bid] {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.auctions[bid.RFQID]
	if !ok {
		return core.Accepted[core.Bid]{}
	}
	if rec.Status != core.AuctionOpen && rec.Status != core.AuctionCollecting {
		return core.Accepted[core.Bid]{}
	}

	rec.Bids = append(rec.Bids, bid)
	rec.Status = core.AuctionCollecting
	rec.UpdatedAt = now

	if m.journal != nil {
		m.journal.TryEmit(bid.RFQID, "auction.bid_received", map[string]any{
			"rfq_id": bid.RFQID, "bidder": bid.Bidder,
		})
	}
	return core.Accepted[core.Bid]{Value: bid}
}

// EvaluateBids scores every bid currently on the auction and returns them
// sorted best-first, without mutating auction state.
func (m *Manager) EvaluateBids(rfqID string) []core.Bid {
	m.mu.Lock()
	rec, ok := m.auctions[rfqID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	rfq := rec.RFQ
	bids := make([]core.Bid, len(rec.Bids))
	copy(bids, rec.Bids)
	m.mu.Unlock()

	scores := make(map[string]float64, len(bids))
	for _, b := range bids {
		trust := 0.5
		if m.trust != nil {
			trust = m.trust.GetTrustScore(b.Bidder)
		}
		scores[b.BidID] = Score(b, rfq, trust)
	}

	sorted := make([]core.Bid, len(bids))
	copy(sorted, bids)
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && scores[sorted[j].BidID] > scores[sorted[j-1].BidID] {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}
	return sorted
}

// AwardAuction picks the highest-scoring bid and marks the auction
// awarded. An auction with zero bids is marked expired instead.
func (m *Manager) AwardAuction(rfqID string, now time.Time) core.Accepted[core.AuctionRecord] {
	ranked := m.EvaluateBids(rfqID)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.auctions[rfqID]
	if !ok {
		return core.Accepted[core.AuctionRecord]{}
	}
	if rec.Status != core.AuctionOpen && rec.Status != core.AuctionCollecting {
		return core.Accepted[core.AuctionRecord]{Value: *rec}
	}

	if len(ranked) == 0 {
		rec.Status = core.AuctionExpired
		rec.UpdatedAt = now
		if m.bus != nil {
			m.bus.Emit("auction.expired", "auction", rfqID, map[string]any{"rfq_id": rfqID})
		}
		return core.Accepted[core.AuctionRecord]{Value: *rec}
	}

	winner := ranked[0]
	rec.Status = core.AuctionAwarded
	rec.WinningBid = &winner
	rec.UpdatedAt = now

	if m.journal != nil {
		m.journal.TryEmit(rfqID, "auction.awarded", map[string]any{
			"rfq_id": rfqID, "winner": winner.Bidder,
		})
	}
	if m.bus != nil {
		m.bus.Emit("auction.awarded", "auction", rfqID, map[string]any{"rfq_id": rfqID, "winner": winner.Bidder})
	}
	return core.Accepted[core.AuctionRecord]{Value: *rec}
}

// Cancel marks an in-progress auction cancelled; a no-op once terminal.
func (m *Manager) Cancel(rfqID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.auctions[rfqID]
	if !ok {
		return false
	}
	if rec.Status == core.AuctionAwarded || rec.Status == core.AuctionCancelled || rec.Status == core.AuctionExpired {
		return false
	}
	rec.Status = core.AuctionCancelled
	rec.UpdatedAt = now
	return true
}

// Get returns the auction record for rfqID.
func (m *Manager) Get(rfqID string) (core.AuctionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.auctions[rfqID]
	if !ok {
		return core.AuctionRecord{}, false
	}
	return *rec, true
}

// Sweep expires any auction past its bid deadline that never received a
// bid worth awarding automatically; callers typically run this on the
// same cadence as MeshManager's sweep.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rfqID, rec := range m.auctions {
		if rec.Status != core.AuctionOpen && rec.Status != core.AuctionCollecting {
			continue
		}
		deadline := rec.CreatedAt.Add(time.Duration(rec.RFQ.BidDeadlineMs) * time.Millisecond)
		if now.After(deadline) && len(rec.Bids) == 0 {
			rec.Status = core.AuctionExpired
			rec.UpdatedAt = now
			if m.bus != nil {
				m.bus.Emit("auction.expired", "auction", rfqID, map[string]any{"rfq_id": rfqID})
			}
		}
	}
}
