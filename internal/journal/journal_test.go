package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/events"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")
	j, err := Open(Config{
		Path:               path,
		MaxSessionsIndexed: 100,
		Recovery:           RecoveryTruncate,
	}, events.NewEventBus())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestEmitAssignsGapFreeSeqAndChainsHash(t *testing.T) {
	j, _ := newTestJournal(t)

	e0, err := j.Emit("s1", "task.started", map[string]any{"n": 1})
	require.NoError(t, err)
	require.Equal(t, int64(0), e0.Seq)
	require.Equal(t, "", e0.HashPrev)

	e1, err := j.Emit("s1", "task.completed", map[string]any{"n": 2})
	require.NoError(t, err)
	require.Equal(t, int64(1), e1.Seq)
	require.Equal(t, bodyHash(e0), e1.HashPrev)

	e2, err := j.Emit("s2", "task.started", map[string]any{"n": 3})
	require.NoError(t, err)
	require.Equal(t, int64(2), e2.Seq)
	require.Equal(t, bodyHash(e1), e2.HashPrev)
}

func TestReadSessionReturnsExactEmissionOrder(t *testing.T) {
	j, _ := newTestJournal(t)

	for i := 0; i < 5; i++ {
		_, err := j.Emit("session-a", "evt", map[string]any{"i": i})
		require.NoError(t, err)
	}
	_, err := j.Emit("session-b", "evt", map[string]any{"i": 99})
	require.NoError(t, err)

	events, err := j.ReadSession("session-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		require.Equal(t, float64(i), e.Payload["i"])
	}

	events, err = j.ReadSession("session-b", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestReadSessionOffsetAndLimit(t *testing.T) {
	j, _ := newTestJournal(t)
	for i := 0; i < 10; i++ {
		_, err := j.Emit("s", "evt", map[string]any{"i": i})
		require.NoError(t, err)
	}

	page, err := j.ReadSession("s", 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, float64(3), page[0].Payload["i"])
	require.Equal(t, float64(4), page[1].Payload["i"])
}

func TestUnknownSessionReturnsEmpty(t *testing.T) {
	j, _ := newTestJournal(t)
	events, err := j.ReadSession("missing", 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestCompactPreservesEmitsWithRenumberedSeq(t *testing.T) {
	j, _ := newTestJournal(t)
	for i := 0; i < 3; i++ {
		_, err := j.Emit("keep", "evt", map[string]any{"i": i})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := j.Emit("drop", "evt", map[string]any{"i": i})
		require.NoError(t, err)
	}

	require.NoError(t, j.Compact(map[string]bool{"keep": true}))

	kept, err := j.ReadSession("keep", 0, 0)
	require.NoError(t, err)
	require.Len(t, kept, 3)
	require.Equal(t, int64(0), kept[0].Seq)
	require.Equal(t, int64(1), kept[1].Seq)
	require.Equal(t, int64(2), kept[2].Seq)
	require.Equal(t, "", kept[0].HashPrev)
	require.Equal(t, bodyHash(&kept[0]), kept[1].HashPrev)

	dropped, err := j.ReadSession("drop", 0, 0)
	require.NoError(t, err)
	require.Empty(t, dropped)
}

// TestTamperedChainTruncatesByDefault mirrors spec.md's "journal tamper
// recovery" scenario: a corrupted tail is truncated away on reopen under
// the default recovery mode, leaving the valid prefix intact.
func TestTamperedChainTruncatesByDefault(t *testing.T) {
	j, path := newTestJournal(t)
	_, err := j.Emit("s", "evt", map[string]any{"i": 0})
	require.NoError(t, err)
	_, err = j.Emit("s", "evt", map[string]any{"i": 1})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"evt-bad","session_id":"s","seq":2,"type":"evt","payload":{},"hash_prev":"not-the-real-hash"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(Config{
		Path:               path,
		MaxSessionsIndexed: 100,
		Recovery:           RecoveryTruncate,
	}, events.NewEventBus())
	require.NoError(t, err)
	defer reopened.Close()

	valid, err := reopened.ReadSession("s", 0, 0)
	require.NoError(t, err)
	require.Len(t, valid, 2)

	e2, err := reopened.Emit("s", "evt", map[string]any{"i": 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), e2.Seq)
}

func TestTamperedChainFailsUnderStrictRecovery(t *testing.T) {
	j, path := newTestJournal(t)
	_, err := j.Emit("s", "evt", map[string]any{"i": 0})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"evt-bad","session_id":"s","seq":1,"type":"evt","payload":{},"hash_prev":"wrong"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(Config{
		Path:               path,
		MaxSessionsIndexed: 100,
		Recovery:           RecoveryStrict,
	}, events.NewEventBus())
	require.Error(t, err)
	var integrityErr *IntegrityViolation
	require.ErrorAs(t, err, &integrityErr)
}

func TestRedactsSensitivePayloadKeys(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{
		Path:               filepath.Join(dir, "j.jsonl"),
		MaxSessionsIndexed: 10,
		Redact:             true,
	}, events.NewEventBus())
	require.NoError(t, err)
	defer j.Close()

	e, err := j.Emit("s", "auth.attempt", map[string]any{
		"password": "hunter2",
		"nested":   map[string]any{"db_url": "postgres://x"},
		"safe":     "value",
	})
	require.NoError(t, err)
	require.Equal(t, redactedPlaceholder, e.Payload["password"])
	require.Equal(t, "value", e.Payload["safe"])
	nested := e.Payload["nested"].(map[string]any)
	require.Equal(t, redactedPlaceholder, nested["db_url"])
}

type panickingSink struct{}

func (panickingSink) Publish(event *events.CloudEvent) {
	panic("boom")
}

func TestListenerPanicNeverAbortsEmit(t *testing.T) {
	j, _ := newTestJournal(t)
	j.bus.AddSink(panickingSink{})

	_, err := j.Emit("s", "evt", map[string]any{"i": 1})
	require.NoError(t, err)

	_, err = j.Emit("s", "evt", map[string]any{"i": 2})
	require.NoError(t, err)
}
