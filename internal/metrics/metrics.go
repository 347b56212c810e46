// Package metrics exposes Prometheus collectors for every core component,
// following the promauto registration style the teacher uses for escrow
// alone (internal/escrow/metrics.go), extended across the whole pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds every Prometheus metric the mesh node registers.
type Collectors struct {
	BondHolds     *prometheus.CounterVec
	BondSlashes   *prometheus.CounterVec
	BondReleases  *prometheus.CounterVec
	FreeBalance   *prometheus.GaugeVec

	TrustScore *prometheus.GaugeVec

	AnomaliesTotal *prometheus.CounterVec
	QuarantineSize prometheus.Gauge

	AuctionsCreated *prometheus.CounterVec
	AuctionsAwarded *prometheus.CounterVec
	BidsReceived    *prometheus.CounterVec

	ConsensusAgreementRatio *prometheus.HistogramVec
	ConsensusRounds         *prometheus.CounterVec

	JournalDiskUsageBytes prometheus.Gauge
	JournalEventsTotal    *prometheus.CounterVec

	ActivePeers prometheus.Gauge

	RedelegationsTotal *prometheus.CounterVec
}

// New constructs and registers every collector against the default
// registry. Call only once per process; metrics.enabled gates whether
// cmd/meshd wires the /metrics handler at all.
func New() *Collectors {
	return &Collectors{
		BondHolds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_bond_holds_total",
			Help: "Total bond hold attempts.",
		}, []string{"node_id", "result"}),
		BondSlashes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_bond_slashes_total",
			Help: "Total bond slashes by reason.",
		}, []string{"node_id", "reason"}),
		BondReleases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_bond_releases_total",
			Help: "Total bond releases.",
		}, []string{"node_id"}),
		FreeBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_escrow_free_balance",
			Help: "Current free balance per peer.",
		}, []string{"node_id"}),

		TrustScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_peer_trust_score",
			Help: "Derived trust score per peer.",
		}, []string{"node_id"}),

		AnomaliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_anomalies_total",
			Help: "Anomaly reports by type and severity.",
		}, []string{"type", "severity"}),
		QuarantineSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_quarantine_size",
			Help: "Number of peers currently quarantined.",
		}),

		AuctionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_auctions_created_total",
			Help: "Auctions created.",
		}, []string{}),
		AuctionsAwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_auctions_awarded_total",
			Help: "Auctions by terminal status.",
		}, []string{"status"}),
		BidsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_bids_received_total",
			Help: "Bids received.",
		}, []string{"rfq_id"}),

		ConsensusAgreementRatio: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mesh_consensus_agreement_ratio",
			Help:    "Agreement ratio of evaluated consensus rounds.",
			Buckets: []float64{0, 0.25, 0.5, 0.67, 0.75, 0.9, 1.0},
		}, []string{"task_id"}),
		ConsensusRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_consensus_rounds_total",
			Help: "Consensus rounds by outcome.",
		}, []string{"outcome"}),

		JournalDiskUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_journal_disk_usage_bytes",
			Help: "Current size of the journal file.",
		}),
		JournalEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_journal_events_total",
			Help: "Journal events emitted by type.",
		}, []string{"type"}),

		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_active_peers",
			Help: "Number of peers currently in active state.",
		}),

		RedelegationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_redelegations_total",
			Help: "Re-delegation attempts by outcome.",
		}, []string{"outcome"}),
	}
}
