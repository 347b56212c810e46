// Package orchestrator wires every mesh component into one Services
// container and implements Delegate: the top-level control flow from a
// raw delegation request down to settled contracts.
//
// Grounded on the teacher's internal/service package (AnalyticsService,
// BillingService, TrustEngine, ...), which wires config+database into
// each narrow service rather than one god object; Services plays the
// same connective role here, one field per component instead of one
// struct per concern, since the mesh's components already encapsulate
// their own state.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ocx/delegation-mesh/internal/anomaly"
	"github.com/ocx/delegation-mesh/internal/auction"
	"github.com/ocx/delegation-mesh/internal/behavioral"
	"github.com/ocx/delegation-mesh/internal/checkpoint"
	"github.com/ocx/delegation-mesh/internal/config"
	"github.com/ocx/delegation-mesh/internal/consensus"
	"github.com/ocx/delegation-mesh/internal/contract"
	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/decompose"
	"github.com/ocx/delegation-mesh/internal/escrow"
	"github.com/ocx/delegation-mesh/internal/events"
	"github.com/ocx/delegation-mesh/internal/firebreak"
	"github.com/ocx/delegation-mesh/internal/friction"
	"github.com/ocx/delegation-mesh/internal/journal"
	"github.com/ocx/delegation-mesh/internal/mesh"
	"github.com/ocx/delegation-mesh/internal/metrics"
	"github.com/ocx/delegation-mesh/internal/redelegation"
	"github.com/ocx/delegation-mesh/internal/reputation"
	"github.com/ocx/delegation-mesh/internal/rootcause"
	"github.com/ocx/delegation-mesh/internal/router"
	"github.com/ocx/delegation-mesh/internal/sybil"
	"github.com/ocx/delegation-mesh/internal/transport"
	"github.com/ocx/delegation-mesh/internal/verify"
)

// TaskExecutor abstracts the actual agent work a node performs when a
// peer delegates a task to it. The mesh's own concern is orchestration,
// not the underlying agent's reasoning; production nodes supply their
// own executor (whatever runs the tool calls), tests supply a stub.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, req core.SwarmTaskRequest) (core.SwarmTaskResult, error)
}

// NoopExecutor completes every task immediately with no findings; useful
// as a wiring placeholder before a real executor is plugged in.
type NoopExecutor struct{}

func (NoopExecutor) ExecuteTask(_ context.Context, req core.SwarmTaskRequest) (core.SwarmTaskResult, error) {
	return core.SwarmTaskResult{TaskID: req.TaskID, Status: core.OutcomeCompleted}, nil
}

// Services is the dependency-injection container wiring every mesh
// component for one node.
type Services struct {
	cfg *config.Config

	Journal      *journal.Journal
	Checkpoints  *checkpoint.Serializer
	Reputation   *reputation.Store
	Escrow       *escrow.Manager
	Consensus    *consensus.Verifier
	Anomaly      *anomaly.Detector
	Redelegation *redelegation.Monitor
	Sybil        *sybil.Detector
	Mesh         *mesh.Manager
	Auction      *auction.Manager
	Behavioral   *behavioral.Scorer
	Bus          *events.EventBus
	Metrics      *metrics.Collectors

	transportClient *transport.Client
	executor        TaskExecutor

	mu        sync.Mutex
	contracts map[string]core.DelegationContract
	started   map[string]time.Time
}

// New constructs a Services container for one mesh node, wiring every
// component together the way cmd/meshd needs at process start.
func New(cfg *config.Config, j *journal.Journal, bus *events.EventBus, m *metrics.Collectors, executor TaskExecutor) (*Services, error) {
	if executor == nil {
		executor = NoopExecutor{}
	}

	checkpoints, err := checkpoint.New(cfg.Journal.CheckpointDir, bus)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: checkpoint serializer: %w", err)
	}

	repStore := reputation.New(j, bus, m)

	escrowMgr := escrow.New(escrow.Config{
		MinBondUsd:          cfg.Escrow.MinBondUsd,
		SlashPctOnViolation: cfg.Escrow.SlashPctOnViolation,
		SlashPctOnTimeout:   cfg.Escrow.SlashPctOnTimeout,
	}, repStore, j, m)

	sybilDetector := sybil.New(sybil.Config{
		MaxJoinsInWindow:   cfg.Sybil.MaxJoinsInWindow,
		JoinWindowMs:       cfg.Sybil.JoinWindowMs,
		PowDifficulty:      cfg.Sybil.PowDifficulty,
		RequireProofOfWork: cfg.Sybil.RequireProofOfWork,
	})

	anomalyDetector := anomaly.New(anomaly.Config{
		FailureRateThreshold:   cfg.Anomaly.FailureRateThreshold,
		FailureRateWindow:      cfg.Anomaly.FailureRateWindow,
		DurationSpikeThreshold: cfg.Anomaly.DurationSpikeThreshold,
		CostSpikeThreshold:     cfg.Anomaly.CostSpikeThreshold,
	}, repStore)

	identity := core.NodeIdentity{
		NodeID:      cfg.Mesh.NodeID,
		DisplayName: cfg.Mesh.DisplayName,
		APIUrl:      cfg.Mesh.APIUrl,
		SpiffeID:    fmt.Sprintf("spiffe://%s/node/%s", cfg.Mesh.TrustDomain, cfg.Mesh.NodeID),
	}
	if cfg.Mesh.TrustDomain == "" {
		identity.SpiffeID = ""
	}

	meshMgr := mesh.New(mesh.Config{
		HeartbeatIntervalMs: cfg.Mesh.HeartbeatIntervalMs,
		SweepIntervalMs:     cfg.Mesh.SweepIntervalMs,
		SuspectedAfterMs:    cfg.Mesh.SuspectedAfterMs,
		UnreachableAfterMs:  cfg.Mesh.UnreachableAfterMs,
		EvictAfterMs:        cfg.Mesh.EvictAfterMs,
		DelegationTimeoutMs: cfg.Mesh.DelegationTimeoutMs,
		TrustDomain:         cfg.Mesh.TrustDomain,
	}, identity, sybilDetector, j, bus, m)

	auctionMgr := auction.New(repStore, j, bus)

	return &Services{
		cfg:             cfg,
		Journal:         j,
		Checkpoints:     checkpoints,
		Reputation:      repStore,
		Escrow:          escrowMgr,
		Consensus:       consensus.New(),
		Anomaly:         anomalyDetector,
		Redelegation: redelegation.New(redelegation.Config{
			MaxRedelegations:       cfg.Redelegation.MaxRedelegations,
			RedelegationCooldownMs: cfg.Redelegation.RedelegationCooldownMs,
		}),
		Sybil:           sybilDetector,
		Mesh:            meshMgr,
		Auction:         auctionMgr,
		Behavioral:      behavioral.New(),
		Bus:             bus,
		Metrics:         m,
		transportClient: transport.NewClient(identity.NodeID),
		executor:        executor,
		contracts:       make(map[string]core.DelegationContract),
		started:         make(map[string]time.Time),
	}, nil
}

// selectDelegatee picks the highest-trust active peer not in excluded
// (peers already tried for this subtask); returns false if none remain.
func (s *Services) selectDelegatee(sub core.SubTask, excluded map[string]bool) (core.PeerEntry, bool) {
	peers := s.Mesh.GetActivePeers()
	var best core.PeerEntry
	var bestTrust float64
	found := false
	for _, p := range peers {
		if excluded[p.NodeID] {
			continue
		}
		t := s.Reputation.GetTrustScore(p.NodeID)
		if !found || t > bestTrust {
			best, bestTrust, found = p, t, true
		}
	}
	return best, found
}

// resultHash canonicalizes the parts of a SwarmTaskResult that matter for
// agreement (status and findings, not cost/duration/tokens, which are
// expected to vary slightly run to run) into a stable hex digest, for
// ConsensusVerifier's vote comparison. Grounded on journal.go's bodyHash
// (JSON-marshal a canonical struct, sha256, hex-encode).
func resultHash(result core.SwarmTaskResult) string {
	type canonical struct {
		Status   core.TaskOutcomeStatus `json:"status"`
		Findings []core.Finding         `json:"findings"`
	}
	b, _ := json.Marshal(canonical{Status: result.Status, Findings: result.Findings})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// runConsensus solicits independent verification from cfg.Consensus.
// RequiredVoters-1 other active peers by redundantly dispatching the same
// task to them, then tallies every result's hash (including the primary
// delegatee's) through ConsensusVerifier. Only run for verbose-monitoring
// (low trust tier) subtasks, where a single delegatee's say-so isn't
// enough; skipped — and treated as agreement — when the mesh doesn't have
// enough distinct active peers to form a quorum, since spec.md's
// Non-goals exclude Byzantine-fault-tolerant consensus across arbitrary
// peer sets and this mesh cannot manufacture voters it doesn't have.
func (s *Services) runConsensus(ctx context.Context, sub core.SubTask, req core.DelegationRequest, primary core.PeerEntry, primaryResult core.SwarmTaskResult, slo core.SLO, timeout time.Duration) bool {
	needed := s.cfg.Consensus.RequiredVoters - 1
	if needed <= 0 {
		return true
	}

	var extra []core.PeerEntry
	for _, p := range s.Mesh.GetActivePeers() {
		if p.NodeID == primary.NodeID {
			continue
		}
		extra = append(extra, p)
		if len(extra) == needed {
			break
		}
	}
	if len(extra) < needed {
		return true
	}

	round := s.Consensus.CreateRound(sub.SubTaskID, s.cfg.Consensus.RequiredVoters, s.cfg.Consensus.RequiredAgreement)
	s.Consensus.SubmitVerification(sub.SubTaskID, primary.NodeID, resultHash(primaryResult))

	taskReq := core.SwarmTaskRequest{TaskID: sub.SubTaskID, TaskText: sub.TaskText, Constraints: slo, Originator: req.Originator}
	for _, p := range extra {
		var r core.SwarmTaskResult
		var err error
		if p.APIUrl != "" {
			r, err = s.transportClient.DispatchTask(ctx, p.NodeID, p.APIUrl, taskReq, timeout)
		} else {
			r, err = s.executor.ExecuteTask(ctx, taskReq)
		}
		if err != nil {
			continue // a non-responsive corroborating voter just abstains
		}
		round = s.Consensus.SubmitVerification(sub.SubTaskID, p.NodeID, resultHash(r))
	}
	s.Consensus.Close(sub.SubTaskID)

	if round == nil || !round.Evaluated {
		return true
	}
	return round.Agrees
}

// behavioralObservation derives a Observation from the verifier's verdict:
// a tool-allowlist violation hits tool compliance, a non-completed status
// or any other SLO violation hits scope compliance, and every redelegation
// hop this subtask has already taken adds retry penalty.
func behavioralObservation(verdict verify.Verdict, hops int) behavioral.Observation {
	toolCompliance := 1.0
	scopeCompliance := 1.0
	for _, v := range verdict.Violations {
		if strings.Contains(v, "disallowed tool") {
			toolCompliance = 0
		} else {
			scopeCompliance = 0
		}
	}
	return behavioral.Observation{
		ToolComplianceScore:  toolCompliance,
		ScopeComplianceScore: scopeCompliance,
		RetryPenalty:         0.1 * float64(hops),
	}
}

func (s *Services) outstandingBond(nodeID string) float64 {
	acc := s.Escrow.Balance(nodeID)
	var total float64
	for _, v := range acc.Held {
		total += v
	}
	return total
}

// dispatchTimeout picks PeerTransport's timeout mode from the
// contract's monitoring level: verbose monitoring implies an
// interactive task a human may be waiting on, minimal monitoring
// implies a fast fire-and-check task, and everything else runs as a
// background simulation.
func dispatchTimeout(level string) time.Duration {
	switch level {
	case "verbose":
		return transport.TimeoutInteractive
	case "minimal":
		return transport.TimeoutFast
	default:
		return transport.TimeoutSimulation
	}
}

// subTaskOutcome bundles one dispatch attempt's settled state, so
// runSubTask's redelegation loop can hand back either the attempt that
// succeeded or the last attempt tried once redelegation is exhausted.
type subTaskOutcome struct {
	result          core.SwarmTaskResult
	contract        core.DelegationContract
	anomaly         *core.AnomalyReport
	consensusFailed bool
}

// runSubTask carries one subtask from routing through settlement,
// re-delegating to the next-best peer on failure per spec.md §8 scenario
// 1: a failed or consensus-dissenting attempt is slashed, tracked through
// RedelegationMonitor's hop count and cooldown, and retried against a
// fresh peer until it succeeds, the monitor refuses another hop, or no
// peer remains. Returns the last attempt's SwarmTaskResult (possibly a
// synthetic aborted/failed one) and the DelegationContract it ran under.
func (s *Services) runSubTask(ctx context.Context, req core.DelegationRequest, sub core.SubTask) (core.SwarmTaskResult, core.DelegationContract, *core.AnomalyReport, bool) {
	decision := router.Route(sub.Attribute, req.HumanOverride)
	if decision.Target == router.TargetHuman {
		c := contract.New(req.Originator, "", sub.SubTaskID, sub.TaskText, sub.SLO, sub.Boundary, req.Monitoring)
		return core.SwarmTaskResult{TaskID: sub.SubTaskID, Status: core.OutcomeAborted}, c, nil, false
	}

	tried := make(map[string]bool)
	var last subTaskOutcome
	haveLast := false

	for {
		peer, ok := s.selectDelegatee(sub, tried)
		if !ok {
			if haveLast {
				return last.result, last.contract, last.anomaly, last.consensusFailed
			}
			c := contract.New(req.Originator, "", sub.SubTaskID, sub.TaskText, sub.SLO, sub.Boundary, req.Monitoring)
			return core.SwarmTaskResult{TaskID: sub.SubTaskID, Status: core.OutcomeFailed}, c, nil, false
		}
		tried[peer.NodeID] = true

		attempt := s.attemptDispatch(ctx, req, sub, peer)
		if attempt.result.Status == core.OutcomeCompleted && !attempt.consensusFailed {
			return attempt.result, attempt.contract, attempt.anomaly, false
		}

		last, haveLast = attempt, true

		now := time.Now()
		s.Redelegation.RecordResult(sub.SubTaskID, now)
		if !s.Redelegation.TrackAttempt(sub.SubTaskID, now) {
			return last.result, last.contract, last.anomaly, last.consensusFailed
		}
		// loop: retry against the next-best untried peer
	}
}

// attemptDispatch runs one full route/gate/bond/dispatch/verify/consensus/
// settle cycle against a single candidate peer.
func (s *Services) attemptDispatch(ctx context.Context, req core.DelegationRequest, sub core.SubTask, peer core.PeerEntry) subTaskOutcome {
	tier := router.TierFromTrust(s.Reputation.GetTier(peer.NodeID))
	slo, monitoring := router.ApplyGraduatedAuthority(tier, sub.SLO, req.Monitoring)

	fb := firebreak.Evaluate(sub.Attribute, s.outstandingBond(peer.NodeID), firebreak.Config{OutstandingBondThresholdUsd: 5.0})
	if fb == firebreak.Block {
		c := contract.New(req.Originator, peer.NodeID, sub.SubTaskID, sub.TaskText, slo, sub.Boundary, monitoring)
		return subTaskOutcome{result: core.SwarmTaskResult{TaskID: sub.SubTaskID, Status: core.OutcomeAborted}, contract: c}
	}
	_ = friction.Assess(sub.Attribute, friction.Context{
		DelegateeTier:      s.Reputation.GetTier(peer.NodeID),
		OutstandingBondUsd: s.outstandingBond(peer.NodeID),
	}) // advisory only; the level is discarded and never blocks

	c := contract.New(req.Originator, peer.NodeID, sub.SubTaskID, sub.TaskText, slo, sub.Boundary, monitoring)

	bondResult := s.Escrow.HoldBond(sub.SubTaskID, peer.NodeID, slo.MaxCostUsd)
	if bondResult.Value <= 0 {
		c = contract.Violate(c)
		return subTaskOutcome{result: core.SwarmTaskResult{TaskID: sub.SubTaskID, Status: core.OutcomeFailed}, contract: c}
	}

	s.mu.Lock()
	s.contracts[sub.SubTaskID] = c
	s.started[sub.SubTaskID] = time.Now()
	s.mu.Unlock()

	timeout := dispatchTimeout(monitoring.Level)
	taskReq := core.SwarmTaskRequest{TaskID: sub.SubTaskID, TaskText: sub.TaskText, Constraints: slo, Originator: req.Originator}

	var result core.SwarmTaskResult
	var dispatchErr error
	if peer.APIUrl != "" {
		result, dispatchErr = s.transportClient.DispatchTask(ctx, peer.NodeID, peer.APIUrl, taskReq, timeout)
	} else {
		result, dispatchErr = s.executor.ExecuteTask(ctx, taskReq)
	}

	if dispatchErr != nil {
		s.Mesh.RecordTransportFailure(peer.NodeID)
		s.Escrow.SlashBond(sub.SubTaskID, s.Escrow.SlashPctOnTimeout(), "transport_timeout")
		c = contract.Violate(c)
		s.Reputation.RecordOutcome(peer.NodeID, core.OutcomeFailed, slo.MaxDurationMs, 0, 0)
		chain, _ := s.Redelegation.Get(sub.SubTaskID)
		s.Behavioral.Record(peer.NodeID, behavioral.Observation{ToolComplianceScore: 0.5, ScopeComplianceScore: 0, RetryPenalty: 0.1 * float64(chain.Hops)})
		return subTaskOutcome{result: core.SwarmTaskResult{TaskID: sub.SubTaskID, Status: core.OutcomeFailed}, contract: c}
	}

	verdict := verify.Verify(result, c, s.cfg.Verifier.SLOStrict)
	anomalies := s.Anomaly.AnalyzeResult(result, c, peer)

	consensusOK := true
	if monitoring.Level == "verbose" {
		consensusOK = s.runConsensus(ctx, sub, req, peer, result, slo, timeout)
	}

	s.Reputation.RecordOutcome(peer.NodeID, result.Status, result.DurationMs, result.TokensUsed, result.CostUsd)
	chain, _ := s.Redelegation.Get(sub.SubTaskID)
	s.Behavioral.Record(peer.NodeID, behavioralObservation(verdict, chain.Hops))

	var firstAnomaly *core.AnomalyReport
	if len(anomalies) > 0 {
		firstAnomaly = &anomalies[0]
	}

	if verdict.Passed && result.Status == core.OutcomeCompleted && consensusOK {
		s.Escrow.ReleaseBond(sub.SubTaskID)
		c = contract.Complete(c)
		return subTaskOutcome{result: result, contract: c, anomaly: firstAnomaly}
	}

	s.Escrow.SlashBond(sub.SubTaskID, s.Escrow.SlashPctOnViolation(), "verifier_violation")
	c = contract.Violate(c)
	if !consensusOK && result.Status == core.OutcomeCompleted {
		// the verifier passed it, but peers dissented on the result itself
		result.Status = core.OutcomeFailed
	}
	return subTaskOutcome{result: result, contract: c, anomaly: firstAnomaly, consensusFailed: !consensusOK}
}

// Delegate runs spec.md's full control flow: decompose, route each
// subtask, gate it through friction/firebreak, bond it, dispatch it, and
// settle the bond against the verified outcome.
func (s *Services) Delegate(ctx context.Context, req core.DelegationRequest) (*core.DelegationOutcome, error) {
	hasPeers := len(s.Mesh.GetActivePeers()) > 0
	subs := decompose.Decompose(req, decompose.Config{
		ComplexityFloorWords: s.cfg.Decomposer.ComplexityFloorWords,
		MaxSubTasks:          s.cfg.Decomposer.MaxSubTasks,
	}, hasPeers)

	outcome := &core.DelegationOutcome{RootCauses: make(map[string]string)}

	for _, sub := range subs {
		result, c, anomalyReport, consensusDissented := s.runSubTask(ctx, req, sub)
		outcome.Results = append(outcome.Results, result)
		outcome.Contracts = append(outcome.Contracts, c)
		if anomalyReport != nil {
			outcome.Anomalies = append(outcome.Anomalies, *anomalyReport)
		}

		if result.Status != core.OutcomeCompleted {
			cause := rootcause.Classify(rootcause.Signals{
				TimedOut:           result.Status == core.OutcomeFailed && anomalyReport != nil && anomalyReport.Type == core.AnomalyDurationSpike,
				ConsensusDissented: consensusDissented,
			})
			outcome.RootCauses[sub.SubTaskID] = string(cause)
		}
	}

	return outcome, nil
}

// The methods below implement transport.Handler, letting cmd/meshd pass
// Services directly to transport.NewServer: this node's Services is both
// the delegator (via Delegate) and the delegatee (via these handlers)
// depending on which role a given task puts it in.

func (s *Services) HandleHello(identity core.NodeIdentity) (core.PeerEntry, []core.SybilReport, error) {
	accepted, reports, err := s.Mesh.Join(identity, time.Now())
	if err != nil {
		return core.PeerEntry{}, nil, err
	}
	return accepted.Value, reports, nil
}

func (s *Services) HandleHeartbeat(nodeID string, latencyMs int64) error {
	if !s.Mesh.Heartbeat(nodeID, latencyMs, time.Now()) {
		return fmt.Errorf("orchestrator: unknown peer %s", nodeID)
	}
	return nil
}

// HandleTaskRequest runs an incoming task on this node's own executor;
// this node is acting as a delegatee for whichever peer dispatched it.
func (s *Services) HandleTaskRequest(req core.SwarmTaskRequest) (core.SwarmTaskResult, error) {
	return s.executor.ExecuteTask(context.Background(), req)
}

// HandleTaskResult records an asynchronous result notification from a
// peer this node previously delegated to out-of-band from Delegate's
// own synchronous dispatch (e.g. a resumed task after a checkpoint).
func (s *Services) HandleTaskResult(result core.SwarmTaskResult) error {
	s.mu.Lock()
	c, ok := s.contracts[result.TaskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown task %s", result.TaskID)
	}

	verdict := verify.Verify(result, c, s.cfg.Verifier.SLOStrict)
	if verdict.Passed && result.Status == core.OutcomeCompleted {
		return s.Escrow.ReleaseBond(result.TaskID)
	}
	return s.Escrow.SlashBond(result.TaskID, s.Escrow.SlashPctOnViolation(), "verifier_violation")
}

func (s *Services) HandleRFQ(rfq core.RFQ) error {
	s.Auction.CreateAuction(rfq, time.Now())
	return nil
}

func (s *Services) HandleBid(bid core.Bid) error {
	accepted := s.Auction.ReceiveBid(bid, time.Now())
	if accepted.Value.BidID == "" {
		return fmt.Errorf("orchestrator: bid rejected for rfq %s", bid.RFQID)
	}
	return nil
}

func (s *Services) HandleCheckpoint(cp core.TaskCheckpoint) error {
	_, err := s.Checkpoints.Save(cp.TaskID, cp.PeerNodeID, cp.State, cp.FindingsSoFar, cp.TokensUsed, cp.CostUsd, cp.DurationMs)
	return err
}
