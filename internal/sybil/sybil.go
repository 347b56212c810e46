// Package sybil implements SybilDetector: a bounded sliding window of node
// joins flagged for coordinated timing, shared IP ranges, or suspiciously
// similar declared capabilities, plus an optional HMAC/SHA-256
// proof-of-work admission challenge.
//
// Grounded on the teacher's internal/federation/crypto.go HMAC challenge
// idiom, adapted from a handshake nonce to a join-admission puzzle.
package sybil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Config mirrors spec.md §6's sybil surface.
type Config struct {
	MaxJoinsInWindow   int
	JoinWindowMs       int
	PowDifficulty      int
	RequireProofOfWork bool
}

type joinRecord struct {
	nodeID       string
	apiHost      string
	capabilities []string
	at           time.Time
}

// Detector maintains a bounded window of recent joins.
type Detector struct {
	cfg    Config
	mu     sync.Mutex
	joins  []joinRecord
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate records a new join and returns every indicator it triggers
// against the current window. Stale entries (outside JoinWindowMs) are
// pruned first.
func (d *Detector) Evaluate(identity core.NodeIdentity, now time.Time) []core.SybilReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-time.Duration(d.cfg.JoinWindowMs) * time.Millisecond)
	kept := d.joins[:0]
	for _, j := range d.joins {
		if j.at.After(cutoff) {
			kept = append(kept, j)
		}
	}
	d.joins = kept

	host := apiHost(identity.APIUrl)
	d.joins = append(d.joins, joinRecord{
		nodeID: identity.NodeID, apiHost: host, capabilities: identity.Capabilities, at: now,
	})

	var reports []core.SybilReport

	distinctNodes := make(map[string]bool)
	for _, j := range d.joins {
		distinctNodes[j.nodeID] = true
	}
	if len(distinctNodes) > d.cfg.MaxJoinsInWindow {
		var ids []string
		for id := range distinctNodes {
			ids = append(ids, id)
		}
		reports = append(reports, core.SybilReport{
			Indicator: core.IndicatorCoordinatedJoin, SuspectNodeIDs: ids,
			Confidence: 0.7, Action: core.SybilFlag,
			Evidence: map[string]any{"window_joins": len(distinctNodes)},
		})
	}

	hostGroups := make(map[string][]string)
	for _, j := range d.joins {
		if j.apiHost == "" {
			continue
		}
		hostGroups[j.apiHost] = append(hostGroups[j.apiHost], j.nodeID)
	}
	for host, ids := range hostGroups {
		ids = dedupe(ids)
		if len(ids) >= 3 {
			action := core.SybilFlag
			if len(ids) >= 5 {
				action = core.SybilChallenge
			}
			reports = append(reports, core.SybilReport{
				Indicator: core.IndicatorSameIPRange, SuspectNodeIDs: ids,
				Confidence: 0.6, Action: action,
				Evidence: map[string]any{"host": host, "count": len(ids)},
			})
		}
	}

	for _, group := range similarCapabilityGroups(d.joins) {
		reports = append(reports, core.SybilReport{
			Indicator: core.IndicatorSimilarCapabilities, SuspectNodeIDs: group,
			Confidence: 0.9, Action: core.SybilFlag,
			Evidence: map[string]any{"jaccard_threshold": 0.9},
		})
	}

	return reports
}

func apiHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// similarCapabilityGroups finds sets of >=3 recent joiners whose declared
// capability sets have pairwise Jaccard similarity >= 0.9.
func similarCapabilityGroups(joins []joinRecord) [][]string {
	n := len(joins)
	adjacency := make(map[int][]int)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if jaccard(joins[i].capabilities, joins[j].capabilities) >= 0.9 {
				adjacency[i] = append(adjacency[i], j)
				adjacency[j] = append(adjacency[j], i)
			}
		}
	}

	visited := make(map[int]bool)
	var groups [][]string
	for i := 0; i < n; i++ {
		if visited[i] || len(adjacency[i]) == 0 {
			continue
		}
		component := bfs(i, adjacency, visited)
		if len(component) >= 3 {
			var ids []string
			for _, idx := range component {
				ids = append(ids, joins[idx].nodeID)
			}
			groups = append(groups, dedupe(ids))
		}
	}
	return groups
}

func bfs(start int, adjacency map[int][]int, visited map[int]bool) []int {
	queue := []int{start}
	visited[start] = true
	var component []int
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		component = append(component, n)
		for _, neighbor := range adjacency[n] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return component
}

func jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Challenge is a proof-of-work admission puzzle: solve by finding a
// solution such that SHA-256(challenge || solution) begins with
// difficulty hex zero characters.
type Challenge struct {
	Value      string
	Difficulty int
}

// NewChallenge generates a random 32-byte hex challenge.
func NewChallenge(difficulty int) (Challenge, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, err
	}
	return Challenge{Value: hex.EncodeToString(buf), Difficulty: difficulty}, nil
}

// Verify reports whether solution solves c.
func (c Challenge) Verify(solution string) bool {
	sum := sha256.Sum256([]byte(c.Value + solution))
	hash := hex.EncodeToString(sum[:])
	return strings.HasPrefix(hash, strings.Repeat("0", c.Difficulty))
}
