// Package firebreak implements LiabilityFirebreak: the one hard gate in
// the pipeline that can outright block a delegation rather than merely
// advise on it (that's friction's job).
package firebreak

import "github.com/ocx/delegation-mesh/internal/core"

// Decision is the firebreak's verdict.
type Decision string

const (
	Allow              Decision = "allow"
	RequireConfirmation Decision = "require_confirmation"
	Block              Decision = "block"
)

// Config exposes the one configurable threshold: the outstanding bond
// exposure above which a high-criticality, low-reversibility task blocks
// outright instead of merely requiring confirmation.
type Config struct {
	OutstandingBondThresholdUsd float64
}

// Evaluate applies spec.md §4.7's rule: blocks when criticality is high AND
// reversibility is low AND outstanding exposure exceeds the threshold;
// requires confirmation when criticality is high OR reversibility is low;
// otherwise allows.
func Evaluate(attr core.TaskAttribute, outstandingBondUsd float64, cfg Config) Decision {
	highCriticality := attr.Criticality == "high"
	lowReversibility := attr.Reversibility == "low"

	if highCriticality && lowReversibility && outstandingBondUsd > cfg.OutstandingBondThresholdUsd {
		return Block
	}
	if highCriticality || lowReversibility {
		return RequireConfirmation
	}
	return Allow
}
