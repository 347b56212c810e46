// Package consensus implements the ConsensusVerifier: round-based voting
// over a task's outcome hash among a fixed set of required voters.
//
// Grounded on the teacher's HandshakeStateMachine for the mutex-guarded,
// map-keyed round bookkeeping; the vote-tallying rule itself is bespoke to
// the spec and has no third-party library fit in the pack, so it stays on
// the standard library. Rounds are ephemeral (see DESIGN.md's Open
// Question decision) — they live only in memory, never journaled, matching
// spec.md's explicit non-goal of persistent global ordering.
package consensus

import (
	"sync"
)

// Round tracks one task's in-flight consensus vote.
type Round struct {
	TaskID            string
	RequiredVoters    int
	RequiredAgreement float64

	votes map[string]string // node_id -> outcome hash

	Evaluated        bool
	Agrees           bool
	MajorityHash     string
	MajorityCount    int
	AgreementRatio   float64
	DissentingNodeIDs []string
}

// Verifier manages in-flight rounds, keyed by task_id.
type Verifier struct {
	mu     sync.Mutex
	rounds map[string]*Round
}

func New() *Verifier {
	return &Verifier{rounds: make(map[string]*Round)}
}

// CreateRound starts a new round for taskID. A pre-existing round for the
// same task is replaced (a re-delegation restarts consensus).
func (v *Verifier) CreateRound(taskID string, requiredVoters int, requiredAgreement float64) *Round {
	v.mu.Lock()
	defer v.mu.Unlock()

	r := &Round{
		TaskID:            taskID,
		RequiredVoters:    requiredVoters,
		RequiredAgreement: requiredAgreement,
		votes:             make(map[string]string),
	}
	v.rounds[taskID] = r
	return r
}

// SubmitVerification appends nodeID's vote (an outcome hash), replacing
// any prior vote from the same node, and auto-evaluates once
// required_voters distinct votes are present.
func (v *Verifier) SubmitVerification(taskID, nodeID, outcomeHash string) *Round {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.rounds[taskID]
	if !ok {
		return nil
	}
	r.votes[nodeID] = outcomeHash

	if len(r.votes) >= r.RequiredVoters && !r.Evaluated {
		evaluate(r)
	}
	return r
}

func evaluate(r *Round) {
	r.Evaluated = true

	tally := make(map[string]int)
	for _, hash := range r.votes {
		tally[hash]++
	}

	var majorityHash string
	var majorityCount int
	for hash, count := range tally {
		if count > majorityCount {
			majorityHash = hash
			majorityCount = count
		}
	}

	total := len(r.votes)
	ratio := 0.0
	if total > 0 {
		ratio = float64(majorityCount) / float64(total)
	}

	r.MajorityHash = majorityHash
	r.MajorityCount = majorityCount
	r.AgreementRatio = ratio
	r.Agrees = ratio >= r.RequiredAgreement

	for nodeID, hash := range r.votes {
		if hash != majorityHash {
			r.DissentingNodeIDs = append(r.DissentingNodeIDs, nodeID)
		}
	}
}

// Get returns the current state of taskID's round, if any.
func (v *Verifier) Get(taskID string) (*Round, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.rounds[taskID]
	return r, ok
}

// Close discards a round's bookkeeping once terminal (evaluated and acted
// on), keeping memory bounded — rounds never persist past process life.
func (v *Verifier) Close(taskID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rounds, taskID)
}
