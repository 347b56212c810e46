// Package verify implements the OutcomeVerifier: checks a completed
// delegatee's result against the contract's SLO and tool allowlist.
//
// Grounded on the teacher's validation-result shape (a verdict plus a list
// of named violations) but is its own bespoke rule set — no third-party
// validation library in the pack fits this exact SLO-vs-findings contract,
// so it stays on the standard library.
package verify

import (
	"fmt"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Verdict is the result of verifying one SwarmTaskResult against a
// DelegationContract.
type Verdict struct {
	Passed     bool
	Violations []string
}

// Verify checks status, duration/tokens/cost against the SLO, the minimum
// findings count, and every finding's tool_name against the permission
// boundary's allowlist. In strict mode (the default) any single violation
// fails the verdict; in non-strict mode only a non-completed status fails.
func Verify(result core.SwarmTaskResult, contract core.DelegationContract, strict bool) Verdict {
	var violations []string

	if result.Status != core.OutcomeCompleted {
		violations = append(violations, fmt.Sprintf("status is %s, not completed", result.Status))
	}

	slo := contract.SLO
	if slo.MaxDurationMs > 0 && result.DurationMs > slo.MaxDurationMs {
		violations = append(violations, fmt.Sprintf("duration_ms %d exceeds max_duration_ms %d", result.DurationMs, slo.MaxDurationMs))
	}
	if slo.MaxTokens > 0 && result.TokensUsed > slo.MaxTokens {
		violations = append(violations, fmt.Sprintf("tokens_used %d exceeds max_tokens %d", result.TokensUsed, slo.MaxTokens))
	}
	if slo.MaxCostUsd > 0 && result.CostUsd > slo.MaxCostUsd {
		violations = append(violations, fmt.Sprintf("cost_usd %.4f exceeds max_cost_usd %.4f", result.CostUsd, slo.MaxCostUsd))
	}
	if slo.MinFindings > 0 && len(result.Findings) < slo.MinFindings {
		violations = append(violations, fmt.Sprintf("findings count %d below min_findings %d", len(result.Findings), slo.MinFindings))
	}

	allowlist := toSet(contract.PermissionBoundary.ToolAllowlist)
	if len(allowlist) > 0 {
		for _, f := range result.Findings {
			if !allowlist[f.ToolName] {
				violations = append(violations, fmt.Sprintf("finding used disallowed tool %q", f.ToolName))
			}
		}
	}

	if strict {
		return Verdict{Passed: len(violations) == 0, Violations: violations}
	}
	// Non-strict mode only fails on a non-completed status; SLO/tool
	// violations are recorded but don't flip the verdict.
	return Verdict{Passed: result.Status == core.OutcomeCompleted, Violations: violations}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
