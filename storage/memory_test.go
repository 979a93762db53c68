package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rain168/paxoskv"
)

func TestMemoryGetAbsentIsZeroRecord(t *testing.T) {
	m := NewMemory()
	rec, err := m.Get(paxoskv.Key("missing"))
	require.NoError(t, err)
	assert.Equal(t, Record{}, rec)
}

func TestMemoryCASRequiresExactMatch(t *testing.T) {
	m := NewMemory()
	key := paxoskv.Key("k")
	b := paxoskv.Ballot{Counter: 1, ProposerID: uuid.New()}

	ok, err := m.CAS(key, Record{}, Record{PromisedBallot: b})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.CAS(key, Record{}, Record{PromisedBallot: b})
	require.NoError(t, err)
	assert.False(t, ok, "stale old record must be rejected")

	got, err := m.Get(key)
	require.NoError(t, err)
	assert.True(t, got.PromisedBallot.Equal(b))
}

func TestMemoryLoadWalksAllKeys(t *testing.T) {
	m := NewMemory()
	b := paxoskv.Ballot{Counter: 1, ProposerID: uuid.New()}
	_, err := m.CAS(paxoskv.Key("a"), Record{}, Record{PromisedBallot: b})
	require.NoError(t, err)
	_, err = m.CAS(paxoskv.Key("b"), Record{}, Record{PromisedBallot: b})
	require.NoError(t, err)

	seen := map[string]bool{}
	err = m.Load(func(key paxoskv.Key, rec Record) { seen[string(key)] = true })
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}
