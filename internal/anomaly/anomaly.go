// Package anomaly implements AnomalyDetector: cost/duration spike
// detection against a contract's SLO, tool-allowlist and capability-match
// checks, and a sliding-window failure-rate monitor that can trigger
// auto-quarantine on critical severity.
package anomaly

import (
	"fmt"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Config mirrors spec.md §6's anomaly surface.
type Config struct {
	FailureRateThreshold   float64
	FailureRateWindow      int
	DurationSpikeThreshold float64
	CostSpikeThreshold     float64
}

// quarantiner is the minimal surface AnomalyDetector needs from
// ReputationStore to auto-quarantine on critical severity.
type quarantiner interface {
	Quarantine(nodeID string)
}

// Detector tracks a bounded sliding window of outcomes per peer.
type Detector struct {
	cfg         Config
	quarantine  quarantiner
	windows     map[string][]bool // node_id -> recent outcomes, true = success
}

func New(cfg Config, q quarantiner) *Detector {
	return &Detector{cfg: cfg, quarantine: q, windows: make(map[string][]bool)}
}

// AnalyzeResult checks a completed SwarmTaskResult against its contract's
// SLO, tool allowlist, and the peer's declared capabilities.
func (d *Detector) AnalyzeResult(result core.SwarmTaskResult, contract core.DelegationContract, peer core.PeerEntry) []core.AnomalyReport {
	var reports []core.AnomalyReport

	if contract.SLO.MaxCostUsd > 0 {
		ratio := result.CostUsd / contract.SLO.MaxCostUsd
		if sev, ok := spikeSeverity(ratio, 2, 3); ok {
			reports = append(reports, d.report(result.TaskID, peer.NodeID, core.AnomalyCostSpike, sev,
				fmt.Sprintf("cost_usd/max_cost_usd ratio %.2f", ratio), map[string]any{"ratio": ratio}))
		}
	}
	if contract.SLO.MaxDurationMs > 0 {
		ratio := float64(result.DurationMs) / float64(contract.SLO.MaxDurationMs)
		if sev, ok := spikeSeverity(ratio, 2, 4); ok {
			reports = append(reports, d.report(result.TaskID, peer.NodeID, core.AnomalyDurationSpike, sev,
				fmt.Sprintf("duration_ms/max_duration_ms ratio %.2f", ratio), map[string]any{"ratio": ratio}))
		}
	}

	allowlist := toSet(contract.PermissionBoundary.ToolAllowlist)
	capabilities := toSet(peer.Capabilities)
	for _, f := range result.Findings {
		if len(allowlist) > 0 && !allowlist[f.ToolName] {
			reports = append(reports, d.report(result.TaskID, peer.NodeID, core.AnomalySuspiciousFindings, core.SeverityHigh,
				fmt.Sprintf("tool %q not in contract allowlist", f.ToolName), map[string]any{"tool_name": f.ToolName}))
		}
		if len(capabilities) > 0 && !capabilities[f.ToolName] {
			reports = append(reports, d.report(result.TaskID, peer.NodeID, core.AnomalyCapabilityMismatch, core.SeverityMedium,
				fmt.Sprintf("tool %q not in peer capabilities", f.ToolName), map[string]any{"tool_name": f.ToolName}))
		}
	}

	reports = append(reports, d.recordOutcomeAndCheckFailureRate(peer.NodeID, result.Status == core.OutcomeCompleted)...)

	for _, r := range reports {
		if r.Severity == core.SeverityCritical && d.quarantine != nil {
			d.quarantine.Quarantine(peer.NodeID)
		}
	}

	return reports
}

// AnalyzeCheckpoint applies the duration spike rule using wall-clock
// elapsed time since a task started, for tasks still in flight.
func (d *Detector) AnalyzeCheckpoint(cp core.TaskCheckpoint, contract core.DelegationContract, startedAt time.Time) *core.AnomalyReport {
	if contract.SLO.MaxDurationMs <= 0 {
		return nil
	}
	elapsed := time.Since(startedAt).Milliseconds()
	ratio := float64(elapsed) / float64(contract.SLO.MaxDurationMs)
	sev, ok := spikeSeverity(ratio, 2, 4)
	if !ok {
		return nil
	}
	r := d.report(cp.TaskID, cp.PeerNodeID, core.AnomalyDurationSpike, sev,
		fmt.Sprintf("wall-clock elapsed/max_duration_ms ratio %.2f", ratio), map[string]any{"ratio": ratio})
	return &r
}

func spikeSeverity(ratio, highThreshold, criticalThreshold float64) (core.AnomalySeverity, bool) {
	switch {
	case ratio > criticalThreshold:
		return core.SeverityCritical, true
	case ratio > highThreshold:
		return core.SeverityHigh, true
	default:
		return "", false
	}
}

// recordOutcomeAndCheckFailureRate folds a success/failure into the
// peer's sliding window (capped at FailureRateWindow) and flags
// repeated_failures once the window is full and the failure rate crosses
// the configured threshold (escalating to critical at 0.8).
func (d *Detector) recordOutcomeAndCheckFailureRate(nodeID string, success bool) []core.AnomalyReport {
	window := append(d.windows[nodeID], success)
	if len(window) > d.cfg.FailureRateWindow {
		window = window[len(window)-d.cfg.FailureRateWindow:]
	}
	d.windows[nodeID] = window

	if len(window) < d.cfg.FailureRateWindow {
		return nil
	}

	failures := 0
	for _, s := range window {
		if !s {
			failures++
		}
	}
	rate := float64(failures) / float64(len(window))
	if rate <= d.cfg.FailureRateThreshold {
		return nil
	}

	sev := core.SeverityHigh
	if rate >= 0.8 {
		sev = core.SeverityCritical
	}
	r := d.report("", nodeID, core.AnomalyRepeatedFailures, sev,
		fmt.Sprintf("failure rate %.2f over last %d outcomes", rate, len(window)), map[string]any{"failure_rate": rate})
	return []core.AnomalyReport{r}
}

func (d *Detector) report(taskID, nodeID string, t core.AnomalyType, sev core.AnomalySeverity, desc string, evidence map[string]any) core.AnomalyReport {
	return core.AnomalyReport{
		AnomalyID:   "anom-" + nodeID + "-" + string(t),
		TaskID:      taskID,
		Peer:        nodeID,
		Type:        t,
		Severity:    sev,
		Description: desc,
		Evidence:    evidence,
		Timestamp:   time.Now().UTC(),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
