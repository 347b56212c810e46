// Package checkpoint implements the CheckpointSerializer: a per-task,
// FIFO-capped sequence of durable snapshots persisted as JSONL, letting a
// re-delegated task resume from its last known state.
//
// Grounded on the teacher's journal append idiom (one JSON object per
// line, appended under a mutex) generalized from a single global log to
// one file per task directory.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/internal/events"
)

const maxCheckpointsPerTask = 10

// Serializer persists checkpoints under dir/<task_id>.jsonl, keeping at
// most the last maxCheckpointsPerTask per task.
type Serializer struct {
	dir string
	bus *events.EventBus

	mu    sync.Mutex
	cache map[string][]core.TaskCheckpoint
}

func New(dir string, bus *events.EventBus) (*Serializer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	return &Serializer{dir: dir, bus: bus, cache: make(map[string][]core.TaskCheckpoint)}, nil
}

func (s *Serializer) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".jsonl")
}

func nowUTC() time.Time { return time.Now().UTC() }

// Save appends a checkpoint for taskID, truncating the on-disk FIFO window
// to the most recent maxCheckpointsPerTask entries.
func (s *Serializer) Save(taskID, peerNodeID string, state []byte, findings []core.Finding, tokensUsed int64, costUsd float64, durationMs int64) (*core.TaskCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := core.TaskCheckpoint{
		CheckpointID:  "ckpt-" + uuid.NewString(),
		TaskID:        taskID,
		PeerNodeID:    peerNodeID,
		State:         state,
		FindingsSoFar: findings,
		TokensUsed:    tokensUsed,
		CostUsd:       costUsd,
		DurationMs:    durationMs,
	}
	cp.Timestamp = nowUTC()

	existing, err := s.loadLocked(taskID)
	if err != nil {
		return nil, err
	}
	existing = append(existing, cp)
	if len(existing) > maxCheckpointsPerTask {
		existing = existing[len(existing)-maxCheckpointsPerTask:]
	}

	if err := s.rewriteLocked(taskID, existing); err != nil {
		return nil, err
	}
	s.cache[taskID] = existing

	if s.bus != nil {
		s.bus.Emit("checkpoint_saved", "checkpoint", taskID, map[string]any{
			"task_id": taskID, "checkpoint_id": cp.CheckpointID,
		})
	}

	return &cp, nil
}

func (s *Serializer) loadLocked(taskID string) ([]core.TaskCheckpoint, error) {
	if cached, ok := s.cache[taskID]; ok {
		return append([]core.TaskCheckpoint(nil), cached...), nil
	}

	f, err := os.Open(s.path(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []core.TaskCheckpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var cp core.TaskCheckpoint
		if err := json.Unmarshal(scanner.Bytes(), &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, scanner.Err()
}

func (s *Serializer) rewriteLocked(taskID string, checkpoints []core.TaskCheckpoint) error {
	tmp := s.path(taskID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, cp := range checkpoints {
		b, err := json.Marshal(cp)
		if err != nil {
			f.Close()
			return err
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(taskID))
}

// Load returns every retained checkpoint for taskID, oldest first.
func (s *Serializer) Load(taskID string) ([]core.TaskCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(taskID)
}

// Latest returns the most recent checkpoint for taskID, if any.
func (s *Serializer) Latest(taskID string) (*core.TaskCheckpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadLocked(taskID)
	if err != nil || len(all) == 0 {
		return nil, false
	}
	return &all[len(all)-1], true
}

// CanResume reports whether taskID has at least one checkpoint on disk.
func (s *Serializer) CanResume(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadLocked(taskID)
	return err == nil && len(all) > 0
}
