package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

type fakeTrust struct {
	scores map[string]float64
}

func (f fakeTrust) GetTrustScore(nodeID string) float64 {
	if s, ok := f.scores[nodeID]; ok {
		return s
	}
	return 0.5
}

func baseRFQ() core.RFQ {
	return core.RFQ{
		RFQID:                "rfq-1",
		Originator:           "node-a",
		BidDeadlineMs:        1000,
		Constraints:          core.SLO{MaxDurationMs: 10000, MaxCostUsd: 1.0},
		RequiredCapabilities: []string{"code_review"},
	}
}

func TestHigherTrustBidWinsAllElseEqual(t *testing.T) {
	trust := fakeTrust{scores: map[string]float64{"fast-trusted": 0.9, "fast-new": 0.3}}
	m := New(trust, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)

	m.ReceiveBid(core.Bid{BidID: "b1", RFQID: "rfq-1", Bidder: "fast-trusted",
		DurationEstimateMs: 2000, CostEstimate: 0.1, CapabilitiesOffered: []string{"code_review"}}, now)
	m.ReceiveBid(core.Bid{BidID: "b2", RFQID: "rfq-1", Bidder: "fast-new",
		DurationEstimateMs: 2000, CostEstimate: 0.1, CapabilitiesOffered: []string{"code_review"}}, now)

	result := m.AwardAuction("rfq-1", now)
	require.Equal(t, core.AuctionAwarded, result.Value.Status)
	require.Equal(t, "fast-trusted", result.Value.WinningBid.Bidder)
}

func TestCapabilityMismatchLowersScore(t *testing.T) {
	trust := fakeTrust{scores: map[string]float64{"a": 0.7, "b": 0.7}}
	m := New(trust, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)

	m.ReceiveBid(core.Bid{BidID: "b1", RFQID: "rfq-1", Bidder: "a",
		DurationEstimateMs: 2000, CostEstimate: 0.1, CapabilitiesOffered: []string{"code_review"}}, now)
	m.ReceiveBid(core.Bid{BidID: "b2", RFQID: "rfq-1", Bidder: "b",
		DurationEstimateMs: 2000, CostEstimate: 0.1, CapabilitiesOffered: []string{"unrelated_skill"}}, now)

	result := m.AwardAuction("rfq-1", now)
	require.Equal(t, "a", result.Value.WinningBid.Bidder)
}

func TestZeroBidsExpiresAuction(t *testing.T) {
	m := New(fakeTrust{}, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)

	result := m.AwardAuction("rfq-1", now)
	require.Equal(t, core.AuctionExpired, result.Value.Status)
	require.Nil(t, result.Value.WinningBid)
}

func TestTerminalAuctionRejectsFurtherBids(t *testing.T) {
	m := New(fakeTrust{}, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)
	m.ReceiveBid(core.Bid{BidID: "b1", RFQID: "rfq-1", Bidder: "a"}, now)
	m.AwardAuction("rfq-1", now)

	accepted := m.ReceiveBid(core.Bid{BidID: "b2", RFQID: "rfq-1", Bidder: "late"}, now)
	require.Empty(t, accepted.Value.BidID)

	rec, _ := m.Get("rfq-1")
	require.Len(t, rec.Bids, 1)
}

func TestSweepExpiresStaleAuctionWithNoBids(t *testing.T) {
	m := New(fakeTrust{}, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)

	m.Sweep(now.Add(2 * time.Second))
	rec, _ := m.Get("rfq-1")
	require.Equal(t, core.AuctionExpired, rec.Status)
}

func TestCancelRejectedOnceAwarded(t *testing.T) {
	m := New(fakeTrust{}, nil, nil)
	now := time.Now()
	m.CreateAuction(baseRFQ(), now)
	m.ReceiveBid(core.Bid{BidID: "b1", RFQID: "rfq-1", Bidder: "a"}, now)
	m.AwardAuction("rfq-1", now)

	require.False(t, m.Cancel("rfq-1", now))
}
