// Package router implements the DelegateeRouter: a deterministic rule
// stack deciding whether a task goes to a human or an AI delegatee, plus
// the graduated-authority transform that tightens or relaxes a contract's
// SLO and monitoring policy by trust tier.
package router

import "github.com/ocx/delegation-mesh/internal/core"

// Target is the routing decision.
type Target string

const (
	TargetHuman Target = "human"
	TargetAI    Target = "ai"
	TargetAny   Target = "any"
)

// Decision carries the target and the router's confidence in it.
type Decision struct {
	Target     Target
	Confidence float64
}

func bucket(level string) float64 {
	switch level {
	case "low":
		return 0.2
	case "medium":
		return 0.5
	case "high":
		return 0.9
	default:
		return 0.5
	}
}

// Route applies spec.md §4.8's six-rule stack, in order, short-circuiting
// on the first rule that fires. humanOverride is an explicit operator
// directive that always wins.
func Route(attr core.TaskAttribute, humanOverride bool) Decision {
	if humanOverride {
		return Decision{Target: TargetHuman, Confidence: 1.0}
	}

	criticality := bucket(attr.Criticality)
	reversibility := bucket(attr.Reversibility)
	verifiability := bucket(attr.Verifiability)
	subjectivity := bucket(attr.Subjectivity)

	if criticality > 0.7 && reversibility < 0.3 {
		return Decision{Target: TargetHuman, Confidence: criticality}
	}
	if verifiability < 0.3 {
		return Decision{Target: TargetHuman, Confidence: 1 - verifiability}
	}
	if subjectivity > 0.7 {
		return Decision{Target: TargetHuman, Confidence: subjectivity}
	}
	if verifiability > 0.7 && criticality < 0.5 {
		return Decision{Target: TargetAI, Confidence: verifiability}
	}

	return Decision{Target: TargetAny, Confidence: 0.6}
}

// AuthorityTier grades the monitoring rigor applied to a delegation.
type AuthorityTier string

const (
	AuthorityLow    AuthorityTier = "low"
	AuthorityMedium AuthorityTier = "medium"
	AuthorityHigh   AuthorityTier = "high"
	AuthorityElite  AuthorityTier = "elite"
)

// TierFromTrust maps a trust tier directly onto an authority tier — the
// same four-way split governs both trust scoring and delegated authority.
func TierFromTrust(t core.TrustTier) AuthorityTier {
	switch t {
	case core.TierLow:
		return AuthorityLow
	case core.TierMedium:
		return AuthorityMedium
	case core.TierHigh:
		return AuthorityHigh
	default:
		return AuthorityElite
	}
}

// ApplyGraduatedAuthority transforms a baseline SLO and monitoring policy
// per spec.md §4.9. Pure function: baseline in, adjusted copy out.
func ApplyGraduatedAuthority(tier AuthorityTier, baseSLO core.SLO, baseMonitoring core.MonitoringPolicy) (core.SLO, core.MonitoringPolicy) {
	slo := baseSLO
	mon := baseMonitoring

	switch tier {
	case AuthorityLow:
		slo.MaxDurationMs = int64(float64(slo.MaxDurationMs) * 0.5)
		slo.MaxTokens = int64(float64(slo.MaxTokens) * 0.5)
		slo.MaxCostUsd *= 0.25
		mon.CheckpointRequired = true
		mon.Level = "verbose"
	case AuthorityMedium:
		// baseline, unmodified
	case AuthorityHigh:
		slo.MaxDurationMs = int64(float64(slo.MaxDurationMs) * 1.5)
		slo.MaxCostUsd *= 2.0
		mon.CheckpointRequired = false
	case AuthorityElite:
		mon.CheckpointRequired = false
		mon.Level = "minimal"
	}

	return slo, mon
}
