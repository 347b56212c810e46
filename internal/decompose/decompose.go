// Package decompose implements TaskDecomposer: it turns one delegation
// request's task text into one or more SubTasks, classifying each into a
// TaskAttribute and attenuating the parent's SLO across siblings.
//
// Grounded on the teacher's internal/escrow/classifier.go ToolClassifier
// for the keyword-lexicon classification idiom, adapted from tool-registry
// lookups to TaskAttribute's four-axis categorical scoring.
package decompose

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Config governs when a request is decomposed instead of dispatched
// atomically.
type Config struct {
	ComplexityFloorWords int
	MaxSubTasks          int
}

func DefaultConfig() Config {
	return Config{ComplexityFloorWords: 20, MaxSubTasks: 8}
}

var sequentialConnective = regexp.MustCompile(`(?i)\bfirst\b.*\bthen\b`)
var enumerationItem = regexp.MustCompile(`(?i)^\s*(?:[-*]|\d+[.)])\s+`)

var (
	highCriticalityWords   = []string{"production", "prod", "deploy", "release", "critical"}
	highVerifiabilityWords = []string{"test", "verify", "validate", "check"}
	lowReversibilityWords  = []string{"delete", "drop", "send", "email", "publish", "pay"}
	subjectiveWords        = []string{"opinion", "best", "nicest", "prefer", "feels", "style"}
)

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// analyze classifies a single subtask's text into a TaskAttribute using
// keyword lexicons. When no keyword fires, criticality and verifiability
// are medium, reversibility is high and subjectivity is low; complexity
// is always medium.
func analyze(text string, baseCost float64, baseDurationMs int64) core.TaskAttribute {
	criticality := "medium"
	if containsAny(text, highCriticalityWords) {
		criticality = "high"
	}
	verifiability := "medium"
	if containsAny(text, highVerifiabilityWords) {
		verifiability = "high"
	}
	reversibility := "high"
	if containsAny(text, lowReversibilityWords) {
		reversibility = "low"
	}
	subjectivity := "low"
	if containsAny(text, subjectiveWords) {
		subjectivity = "high"
	}

	target := ""
	if subjectivity == "high" {
		target = "human"
	}

	return core.TaskAttribute{
		Complexity:          "medium",
		Criticality:         criticality,
		Verifiability:       verifiability,
		Reversibility:       reversibility,
		Subjectivity:        subjectivity,
		EstimatedCostUsd:    baseCost,
		EstimatedDurationMs: baseDurationMs,
		DelegationTarget:    target,
	}
}

// splitEnumeration splits a task text that reads as a bulleted or
// numbered list into one item per line.
func splitEnumeration(text string) []string {
	lines := strings.Split(text, "\n")
	var items []string
	for _, l := range lines {
		if enumerationItem.MatchString(l) {
			items = append(items, strings.TrimSpace(enumerationItem.ReplaceAllString(l, "")))
		}
	}
	return items
}

// splitSequential splits "first X, then Y, and then Z" style text on its
// ordering connectives.
func splitSequential(text string) []string {
	normalized := regexp.MustCompile(`(?i)\band then\b|\bthen\b`).ReplaceAllString(text, "|")
	normalized = regexp.MustCompile(`(?i)^\s*first[,:]?\s*`).ReplaceAllString(normalized, "")
	parts := strings.Split(normalized, "|")
	var items []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "and"))
		p = strings.Trim(p, ", ")
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}

// Decompose splits req.TaskText into one or more SubTasks, attenuating
// the parent's SLO evenly across however many subtasks it produces.
// Requests under the complexity floor, or with no peers available, are
// returned as a single atomic subtask.
func Decompose(req core.DelegationRequest, cfg Config, hasPeers bool) []core.SubTask {
	wordCount := len(strings.Fields(req.TaskText))
	if wordCount < cfg.ComplexityFloorWords || !hasPeers {
		return []core.SubTask{atomicSubTask(req, req.TaskText, core.GroupAtomic, 0)}
	}

	if items := splitEnumeration(req.TaskText); len(items) > 1 {
		return buildSubTasks(req, items, core.GroupParallel, cfg.MaxSubTasks)
	}
	if sequentialConnective.MatchString(req.TaskText) {
		if items := splitSequential(req.TaskText); len(items) > 1 {
			return buildSubTasks(req, items, core.GroupSequential, cfg.MaxSubTasks)
		}
	}

	return []core.SubTask{atomicSubTask(req, req.TaskText, core.GroupAtomic, 0)}
}

func buildSubTasks(req core.DelegationRequest, items []string, group core.SubTaskGroup, max int) []core.SubTask {
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	n := len(items)
	subs := make([]core.SubTask, 0, n)
	for i, text := range items {
		subs = append(subs, atomicSubTask(req, text, group, i))
	}
	return attenuate(subs)
}

func atomicSubTask(req core.DelegationRequest, text string, group core.SubTaskGroup, order int) core.SubTask {
	attr := analyze(text, req.SLO.MaxCostUsd, req.SLO.MaxDurationMs)
	return core.SubTask{
		SubTaskID: "sub-" + uuid.NewString(),
		TaskText:  text,
		Attribute: attr,
		Group:     group,
		Order:     order,
		SLO:       req.SLO,
		Boundary:  req.Boundary,
	}
}

// attenuate divides the parent SLO's numeric ceilings evenly across N
// subtasks, and propagates the tool allowlist unchanged to every
// subtask, preventing any one subtask from independently consuming the
// parent's full budget.
func attenuate(subs []core.SubTask) []core.SubTask {
	n := len(subs)
	if n == 0 {
		return subs
	}
	for i := range subs {
		subs[i].SLO.MaxDurationMs = subs[i].SLO.MaxDurationMs / int64(n)
		subs[i].SLO.MaxCostUsd = subs[i].SLO.MaxCostUsd / float64(n)
		if subs[i].SLO.MaxTokens > 0 {
			subs[i].SLO.MaxTokens = subs[i].SLO.MaxTokens / int64(n)
		}
		subs[i].Attribute.EstimatedCostUsd = subs[i].SLO.MaxCostUsd
		subs[i].Attribute.EstimatedDurationMs = subs[i].SLO.MaxDurationMs
	}
	return subs
}
