// Package rootcause implements RootCauseAnalyzer: classifies a failed
// delegation's proximate cause from the signals already produced by the
// rest of the pipeline (verifier violations, consensus dissent, escrow
// state). Classify only returns the cause; it emits no event.
package rootcause

import "github.com/ocx/delegation-mesh/internal/core"

// Cause is the classified root cause of a delegation failure.
type Cause string

const (
	CauseSLOTimeout        Cause = "slo_timeout"
	CauseToolError         Cause = "tool_error"
	CauseConsensusDissent  Cause = "consensus_dissent"
	CauseBondExhausted     Cause = "bond_exhausted"
	CauseCapabilityMismatch Cause = "capability_mismatch"
	CauseUnknown           Cause = "unknown"
)

// Signals bundles the inputs available at the point a failure is
// diagnosed.
type Signals struct {
	VerifierViolations []string
	ConsensusDissented  bool
	BondExhausted       bool
	AnomalyTypes        []core.AnomalyType
	TimedOut            bool
}

// Classify picks the single most specific cause for a failed delegation,
// checking the strongest signals first.
func Classify(s Signals) Cause {
	if s.TimedOut {
		return CauseSLOTimeout
	}
	if s.BondExhausted {
		return CauseBondExhausted
	}
	if s.ConsensusDissented {
		return CauseConsensusDissent
	}
	for _, a := range s.AnomalyTypes {
		if a == core.AnomalyCapabilityMismatch {
			return CauseCapabilityMismatch
		}
	}
	if len(s.VerifierViolations) > 0 {
		return CauseToolError
	}
	return CauseUnknown
}
