// Package friction implements the CognitiveFrictionEngine: a pure,
// advisory-only function mapping a task's attributes and context to a
// friction level. It never blocks a delegation — LiabilityFirebreak does
// that — it only returns an advisory level and records it nowhere.
package friction

import "github.com/ocx/delegation-mesh/internal/core"

// Level is the advisory friction band.
type Level string

const (
	LevelLow      Level = "low"
	LevelStandard Level = "standard"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Context carries situational inputs beyond the task's own attributes,
// such as the delegatee's current trust tier.
type Context struct {
	DelegateeTier core.TrustTier
	OutstandingBondUsd float64
}

// Assess derives a friction level. Criticality and reversibility dominate;
// a low trust tier or high outstanding exposure escalates by one band.
func Assess(attr core.TaskAttribute, ctx Context) Level {
	level := baseLevel(attr)
	if ctx.DelegateeTier == core.TierLow {
		level = escalate(level)
	}
	if ctx.OutstandingBondUsd > 1.0 {
		level = escalate(level)
	}
	return level
}

func baseLevel(attr core.TaskAttribute) Level {
	switch {
	case attr.Criticality == "high" && attr.Reversibility == "low":
		return LevelCritical
	case attr.Criticality == "high" || attr.Reversibility == "low":
		return LevelHigh
	case attr.Criticality == "medium" || attr.Verifiability == "low":
		return LevelElevated
	case attr.Complexity == "low" && attr.Criticality == "low":
		return LevelLow
	default:
		return LevelStandard
	}
}

func escalate(l Level) Level {
	switch l {
	case LevelLow:
		return LevelStandard
	case LevelStandard:
		return LevelElevated
	case LevelElevated:
		return LevelHigh
	default:
		return LevelCritical
	}
}
