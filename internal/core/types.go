// Package core holds the domain types shared across the delegation mesh.
// The aggregate that wires every component together is
// orchestrator.Services.
package core

import "time"

// NodeIdentity is stable for a node's lifetime. Owned by the local
// MeshManager; peers receive copies through the hello endpoint.
type NodeIdentity struct {
	NodeID       string    `json:"node_id"`
	DisplayName  string    `json:"display_name"`
	APIUrl       string    `json:"api_url"`
	Capabilities []string  `json:"capabilities"`
	Version      string    `json:"version"`
	JoinedAt     time.Time `json:"joined_at"`
	SpiffeID     string    `json:"spiffe_id,omitempty"`
}

// PeerStatus is a PeerEntry's lifecycle state.
type PeerStatus string

const (
	PeerActive      PeerStatus = "active"
	PeerSuspected   PeerStatus = "suspected"
	PeerUnreachable PeerStatus = "unreachable"
	PeerLeft        PeerStatus = "left"
)

// PeerEntry is exclusively owned by MeshManager.
type PeerEntry struct {
	NodeIdentity
	Status             PeerStatus `json:"status"`
	LastHeartbeatAt    time.Time  `json:"last_heartbeat_at"`
	LastLatencyMs      int64      `json:"last_latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// JournalEvent is immutable once emitted.
type JournalEvent struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   map[string]any  `json:"payload"`
	HashPrev  string          `json:"hash_prev,omitempty"`
}

// PeerReputation is owned by ReputationStore; trust is derived, not stored.
type PeerReputation struct {
	NodeID              string    `json:"node_id"`
	TasksCompleted       int64     `json:"tasks_completed"`
	TasksFailed          int64     `json:"tasks_failed"`
	TasksAborted         int64     `json:"tasks_aborted"`
	TotalDurationMs      int64     `json:"total_duration_ms"`
	TotalTokensUsed      int64     `json:"total_tokens_used"`
	TotalCostUsd         float64   `json:"total_cost_usd"`
	AvgLatencyMs         float64   `json:"avg_latency_ms"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastOutcomeAt        time.Time `json:"last_outcome_at"`
}

// TrustTier is a coarse bucket of a peer's trust score.
type TrustTier string

const (
	TierLow   TrustTier = "low"
	TierMedium TrustTier = "medium"
	TierHigh  TrustTier = "high"
	TierElite TrustTier = "elite"
)

// EscrowAccount is owned by EscrowManager. Invariant: FreeBalance +
// sum(Held) >= 0 at all times; slashed amounts go to a sink.
type EscrowAccount struct {
	NodeID      string             `json:"node_id"`
	FreeBalance float64            `json:"free_balance"`
	Held        map[string]float64 `json:"held"`
}

// SLO is a contract's per-task ceiling.
type SLO struct {
	MaxDurationMs int64   `json:"max_duration_ms"`
	MaxTokens     int64   `json:"max_tokens"`
	MaxCostUsd    float64 `json:"max_cost_usd"`
	MinFindings   int     `json:"min_findings,omitempty"`
}

// PermissionBoundary bounds the tools a delegatee may invoke.
type PermissionBoundary struct {
	ToolAllowlist []string `json:"tool_allowlist"`
}

// MonitoringPolicy governs checkpoint cadence for a contract.
type MonitoringPolicy struct {
	CheckpointRequired bool   `json:"checkpoint_required"`
	IntervalMs         int64  `json:"interval_ms"`
	Level              string `json:"level"` // "minimal" | "standard" | "verbose"
}

// ContractStatus is a DelegationContract's lifecycle state.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractViolated  ContractStatus = "violated"
	ContractCancelled ContractStatus = "cancelled"
)

// DelegationContract captures a single delegation's authority.
type DelegationContract struct {
	ContractID         string              `json:"contract_id"`
	Delegator          string              `json:"delegator"`
	Delegatee          string              `json:"delegatee"`
	TaskID             string              `json:"task_id"`
	TaskText           string              `json:"task_text"`
	SLO                SLO                 `json:"slo"`
	PermissionBoundary PermissionBoundary  `json:"permission_boundary"`
	Monitoring         MonitoringPolicy    `json:"monitoring"`
	Status             ContractStatus      `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// TaskOutcomeStatus is a SwarmTaskResult's terminal status.
type TaskOutcomeStatus string

const (
	OutcomeCompleted TaskOutcomeStatus = "completed"
	OutcomeFailed    TaskOutcomeStatus = "failed"
	OutcomeAborted   TaskOutcomeStatus = "aborted"
)

// Finding is one step summary produced by a delegatee.
type Finding struct {
	ToolName string `json:"tool_name"`
	Summary  string `json:"summary"`
}

// SwarmTaskRequest is carried by the transport to a worker.
type SwarmTaskRequest struct {
	TaskID      string         `json:"task_id"`
	TaskText    string         `json:"task_text"`
	Constraints SLO            `json:"constraints"`
	Originator  string         `json:"originator"`
}

// SwarmTaskResult is the worker's callback payload.
type SwarmTaskResult struct {
	TaskID      string            `json:"task_id"`
	Status      TaskOutcomeStatus `json:"status"`
	Findings    []Finding         `json:"findings"`
	TokensUsed  int64             `json:"tokens_used"`
	CostUsd     float64           `json:"cost_usd"`
	DurationMs  int64             `json:"duration_ms"`
}

// RFQ is broadcast by an originator inviting peers to bid.
type RFQ struct {
	RFQID                string   `json:"rfq_id"`
	TaskText             string   `json:"task_text"`
	Originator           string   `json:"originator"`
	BidDeadlineMs        int64    `json:"bid_deadline_ms"`
	Constraints          SLO      `json:"constraints"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// Bid is a peer's response to an RFQ.
type Bid struct {
	BidID               string    `json:"bid_id"`
	RFQID                string    `json:"rfq_id"`
	Bidder               string    `json:"bidder"`
	CostEstimate         float64   `json:"cost_estimate"`
	DurationEstimateMs   int64     `json:"duration_estimate_ms"`
	TokenEstimate        int64     `json:"token_estimate"`
	CapabilitiesOffered  []string  `json:"capabilities_offered"`
	Round                int       `json:"round"`
	Nonce                string    `json:"nonce"`
	Expiry               time.Time `json:"expiry"`
}

// AuctionStatus is an AuctionRecord's lifecycle state.
type AuctionStatus string

const (
	AuctionOpen       AuctionStatus = "open"
	AuctionCollecting AuctionStatus = "collecting"
	AuctionEvaluating AuctionStatus = "evaluating"
	AuctionAwarded    AuctionStatus = "awarded"
	AuctionExpired    AuctionStatus = "expired"
	AuctionCancelled  AuctionStatus = "cancelled"
)

// AuctionRecord tracks an RFQ through its bidding lifecycle.
type AuctionRecord struct {
	RFQ        RFQ           `json:"rfq"`
	Bids       []Bid         `json:"bids"`
	Status     AuctionStatus `json:"status"`
	WinningBid *Bid          `json:"winning_bid,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// TaskCheckpoint is one durable snapshot of an in-flight delegation.
type TaskCheckpoint struct {
	CheckpointID  string    `json:"checkpoint_id"`
	TaskID        string    `json:"task_id"`
	PeerNodeID    string    `json:"peer_node_id"`
	State         []byte    `json:"state"`
	FindingsSoFar []Finding `json:"findings_so_far"`
	TokensUsed    int64     `json:"tokens_used"`
	CostUsd       float64   `json:"cost_usd"`
	DurationMs    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// AnomalyType classifies an AnomalyReport.
type AnomalyType string

const (
	AnomalyCostSpike          AnomalyType = "cost_spike"
	AnomalyDurationSpike      AnomalyType = "duration_spike"
	AnomalySuspiciousFindings AnomalyType = "suspicious_findings"
	AnomalyCapabilityMismatch AnomalyType = "capability_mismatch"
	AnomalyRepeatedFailures   AnomalyType = "repeated_failures"
)

// AnomalySeverity is how urgently an AnomalyReport should be acted on.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// AnomalyReport is emitted by AnomalyDetector.
type AnomalyReport struct {
	AnomalyID   string          `json:"anomaly_id"`
	TaskID      string          `json:"task_id"`
	Peer        string          `json:"peer"`
	Type        AnomalyType     `json:"type"`
	Severity    AnomalySeverity `json:"severity"`
	Description string          `json:"description"`
	Evidence    map[string]any  `json:"evidence"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SybilIndicator classifies a SybilReport.
type SybilIndicator string

const (
	IndicatorCoordinatedJoin     SybilIndicator = "coordinated_join"
	IndicatorSameIPRange         SybilIndicator = "same_ip_range"
	IndicatorSimilarCapabilities SybilIndicator = "similar_capabilities"
)

// SybilAction is the recommended response to a SybilReport.
type SybilAction string

const (
	SybilFlag       SybilAction = "flag"
	SybilChallenge  SybilAction = "challenge"
	SybilQuarantine SybilAction = "quarantine"
)

// SybilReport is emitted by SybilDetector.
type SybilReport struct {
	Indicator      SybilIndicator `json:"indicator"`
	SuspectNodeIDs []string       `json:"suspect_node_ids"`
	Confidence     float64        `json:"confidence"`
	Action         SybilAction    `json:"action"`
	Evidence       map[string]any `json:"evidence"`
}

// TaskAttribute is the categorical description a subtask is analyzed into.
type TaskAttribute struct {
	Complexity         string  `json:"complexity"`  // low|medium|high
	Criticality        string  `json:"criticality"` // low|medium|high
	Verifiability      string  `json:"verifiability"`
	Reversibility      string  `json:"reversibility"`
	Subjectivity       string  `json:"subjectivity"` // low|medium|high
	EstimatedCostUsd   float64 `json:"estimated_cost_usd"`
	EstimatedDurationMs int64  `json:"estimated_duration_ms"`
	DelegationTarget   string  `json:"delegation_target,omitempty"` // "" | "human" | "ai" | "any"
}

// SubTaskGroup describes how a SubTask relates to its siblings once a
// task has been decomposed.
type SubTaskGroup string

const (
	GroupSequential SubTaskGroup = "sequential"
	GroupParallel   SubTaskGroup = "parallel"
	GroupAtomic     SubTaskGroup = "atomic"
)

// SubTask is one unit of work produced by TaskDecomposer. Siblings share
// a Group; Order is the subtask's position in the decomposition, for
// sequential and parallel groups alike.
type SubTask struct {
	SubTaskID   string        `json:"sub_task_id"`
	ParentID    string        `json:"parent_id"`
	TaskText    string        `json:"task_text"`
	Attribute   TaskAttribute `json:"attribute"`
	Group       SubTaskGroup  `json:"group"`
	Order       int           `json:"order"`
	SLO         SLO           `json:"slo"`
	Boundary    PermissionBoundary `json:"boundary"`
}

// DelegationRequest is the top-level call into the mesh's control flow.
type DelegationRequest struct {
	Originator  string             `json:"originator"`
	TaskText    string             `json:"task_text"`
	SLO         SLO                `json:"slo"`
	Boundary    PermissionBoundary `json:"boundary"`
	Monitoring  MonitoringPolicy   `json:"monitoring"`
	HumanOverride bool             `json:"human_override,omitempty"`
}

// DelegationOutcome is what Delegate returns once every subtask has
// settled.
type DelegationOutcome struct {
	Results    []SwarmTaskResult    `json:"results"`
	Contracts  []DelegationContract `json:"contracts"`
	Anomalies  []AnomalyReport      `json:"anomalies"`
	RootCauses map[string]string    `json:"root_causes,omitempty"`
}

// Accepted wraps a successful result-typed return, per the mesh's
// exceptions-as-control-flow ban.
type Accepted[T any] struct {
	Value T
}

// Rejected wraps a failed result-typed return with a machine-readable reason.
type Rejected struct {
	Reason string
}

func (r Rejected) Error() string { return r.Reason }
