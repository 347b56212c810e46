package redelegation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackAttemptIncrementsHopCounter(t *testing.T) {
	m := New(Config{MaxRedelegations: 3, RedelegationCooldownMs: 0})
	ok := m.TrackAttempt("t1", time.Now())
	require.True(t, ok)
	chain, _ := m.Get("t1")
	require.Equal(t, 1, chain.Hops)
}

func TestCooldownRejectsAttemptTooSoon(t *testing.T) {
	m := New(Config{MaxRedelegations: 5, RedelegationCooldownMs: 1000})
	now := time.Now()
	m.RecordResult("t1", now)

	ok := m.TrackAttempt("t1", now.Add(500*time.Millisecond))
	require.False(t, ok)

	ok = m.TrackAttempt("t1", now.Add(1500*time.Millisecond))
	require.True(t, ok)
}

func TestMaxRedelegationsMarksChainTerminal(t *testing.T) {
	m := New(Config{MaxRedelegations: 2, RedelegationCooldownMs: 0})
	now := time.Now()

	require.True(t, m.TrackAttempt("t1", now))
	require.True(t, m.TrackAttempt("t1", now))
	require.False(t, m.TrackAttempt("t1", now))

	chain, _ := m.Get("t1")
	require.True(t, chain.Terminal)
	require.Equal(t, 2, chain.Hops)
}

func TestTerminalChainRejectsAllFurtherAttempts(t *testing.T) {
	m := New(Config{MaxRedelegations: 1, RedelegationCooldownMs: 0})
	now := time.Now()
	m.TrackAttempt("t1", now)
	require.False(t, m.TrackAttempt("t1", now))
	require.False(t, m.TrackAttempt("t1", now))
}
